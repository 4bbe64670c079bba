// Package monitor supervises the single long-running inbox-monitor worker.
// The Supervisor owns the only live process handle; every other component
// sees the monitor solely through the persisted EmailMonitorStatus record
// and the event bus.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

var (
	// ErrAlreadyRunning rejects a duplicate start; no process action is taken.
	ErrAlreadyRunning = errors.New("email monitor is already running")
	// ErrNotRunning rejects a stop when nothing is running.
	ErrNotRunning = errors.New("email monitor is not running")
)

// Supervisor drives the {Stopped, Running} state machine for the inbox
// monitor. The handle is process-local and never persisted: after a
// dashboard restart, a persisted Running status with no live handle is
// reconciled to Stopped on the next start or stop attempt.
type Supervisor struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{} // closed by the reaper once cmd.Wait returns
	store  store.Store
	bus    *bus.Bus

	python string
	script string
	env    map[string]string

	// stopGrace is how long a graceful interrupt gets before a hard kill.
	stopGrace time.Duration
}

func NewSupervisor(s store.Store, b *bus.Bus, workers config.WorkerConfig, mail config.MailCredentials) *Supervisor {
	return &Supervisor{
		store:     s,
		bus:       b,
		python:    workers.Python,
		script:    workers.MonitorScript,
		env:       mail.Env(),
		stopGrace: 3 * time.Second,
	}
}

// Status returns the persisted monitor status.
func (sv *Supervisor) Status(ctx context.Context) (*models.MonitorStatus, error) {
	return sv.store.MonitorStatus(ctx)
}

// Start spawns the monitor worker detached from the caller's lifetime.
// Rejected with ErrAlreadyRunning when a live handle exists.
func (sv *Supervisor) Start(ctx context.Context) (*models.MonitorStatus, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	st, err := sv.store.MonitorStatus(ctx)
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}
	if st.IsRunning {
		if sv.cmd != nil {
			return st, ErrAlreadyRunning
		}
		// Stale Running status from a previous dashboard process; no
		// handle is held, so treat as Stopped and start fresh.
		log.Warn().Msg("Monitor status was running with no live handle; reconciling")
	}

	cmd := exec.Command(sv.python, sv.script, "start")
	env := os.Environ()
	for k, v := range sv.env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err == nil {
		var stderr io.ReadCloser
		stderr, err = cmd.StderrPipe()
		if err == nil {
			go logLines("stdout", stdout)
			go logLines("stderr", stderr)
		}
	}
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		detail := err.Error()
		st = sv.persist(ctx, models.MonitorStatusPatch{
			IsRunning: boolPtr(false),
			LastError: &detail,
		})
		return st, err
	}

	sv.cmd = cmd
	sv.exited = make(chan struct{})
	now := time.Now().UTC()
	st = sv.persist(ctx, models.MonitorStatusPatch{
		IsRunning:      boolPtr(true),
		LastStarted:    &now,
		ClearLastError: true,
	})
	log.Info().Int("pid", cmd.Process.Pid).Str("script", sv.script).Msg("Email monitor started")

	// A crash is self-reporting: whenever the process exits for any
	// reason while we still hold its handle, persist Stopped. The reaper
	// is the sole caller of cmd.Wait.
	go sv.reapOnExit(cmd, sv.exited)

	return st, nil
}

// Stop sends a graceful termination signal to the held process handle.
// Rejected with ErrNotRunning when the persisted status is not running;
// a running status with no live handle is reconciled to Stopped.
func (sv *Supervisor) Stop(ctx context.Context) (*models.MonitorStatus, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	st, err := sv.store.MonitorStatus(ctx)
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}
	if !st.IsRunning {
		return st, ErrNotRunning
	}
	if sv.cmd == nil {
		st = sv.persist(ctx, models.MonitorStatusPatch{IsRunning: boolPtr(false)})
		return st, ErrNotRunning
	}

	cmd := sv.cmd
	exited := sv.exited
	sv.cmd = nil // the reaper sees the handle is no longer ours

	log.Info().Int("pid", cmd.Process.Pid).Msg("Stopping email monitor")
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exited:
	case <-time.After(sv.stopGrace):
		_ = cmd.Process.Kill()
		<-exited
	}

	now := time.Now().UTC()
	st = sv.persist(ctx, models.MonitorStatusPatch{
		IsRunning:   boolPtr(false),
		LastStopped: &now,
	})
	return st, nil
}

// StopIfRunning is the shutdown hook: it stops a live monitor and ignores
// the not-running rejection.
func (sv *Supervisor) StopIfRunning(ctx context.Context) {
	if _, err := sv.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		log.Warn().Err(err).Msg("Failed to stop email monitor during shutdown")
	}
}

// reapOnExit observes the process until it exits. If the handle is still
// ours (no explicit Stop intervened), the exit is a crash or natural end
// and the status transitions to Stopped.
func (sv *Supervisor) reapOnExit(cmd *exec.Cmd, exited chan struct{}) {
	waitErr := cmd.Wait()
	close(exited)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.cmd != cmd {
		return // explicit Stop already owns the transition
	}
	sv.cmd = nil

	now := time.Now().UTC()
	patch := models.MonitorStatusPatch{
		IsRunning:   boolPtr(false),
		LastStopped: &now,
	}
	if waitErr != nil {
		detail := waitErr.Error()
		patch.LastError = &detail
		log.Warn().Err(waitErr).Msg("Email monitor exited unexpectedly")
	} else {
		log.Info().Msg("Email monitor exited")
	}
	sv.persist(context.Background(), patch)
}

// persist applies the patch best-effort and emits the fresh status.
func (sv *Supervisor) persist(ctx context.Context, patch models.MonitorStatusPatch) *models.MonitorStatus {
	st, err := sv.store.UpsertMonitorStatus(ctx, patch)
	if err != nil && !store.IsWriteError(err) {
		log.Error().Err(err).Msg("Failed to update monitor status")
		return &models.MonitorStatus{}
	}
	sv.bus.Publish(bus.EventMonitorStatus, st)
	return st
}

func logLines(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Info().Str("stream", stream).Str("worker", "email_monitor").Msg(scanner.Text())
	}
}

func boolPtr(b bool) *bool { return &b }
