package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

// newTestSupervisor wires a supervisor to a shell stub standing in for the
// Python inbox monitor.
func newTestSupervisor(t *testing.T, scriptBody string) (*Supervisor, store.Store, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "monitor.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+scriptBody+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := store.NewFileStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.New()
	sv := NewSupervisor(s, b, config.WorkerConfig{Python: "/bin/sh", MonitorScript: script}, config.MailCredentials{})
	sv.stopGrace = 500 * time.Millisecond
	t.Cleanup(func() { sv.StopIfRunning(context.Background()) })
	return sv, s, b
}

func waitForStatus(t *testing.T, s store.Store, pred func(*models.MonitorStatus) bool) *models.MonitorStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.MonitorStatus(context.Background())
		if err == nil && pred(st) {
			return st
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("monitor status never reached expected state")
	return nil
}

func TestStartThenStop(t *testing.T) {
	// trap keeps the stub alive until interrupted, like the real monitor.
	sv, s, _ := newTestSupervisor(t, `trap 'exit 0' INT TERM
while true; do sleep 1; done`)
	ctx := context.Background()

	st, err := sv.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !st.IsRunning || st.LastStarted == nil {
		t.Errorf("after Start: %+v, want running with lastStarted", st)
	}
	if st.LastError != nil {
		t.Errorf("LastError = %q, want cleared on start", *st.LastError)
	}

	st, err = sv.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st.IsRunning || st.LastStopped == nil {
		t.Errorf("after Stop: %+v, want stopped with lastStopped", st)
	}

	// Persisted status agrees.
	persisted, _ := s.MonitorStatus(ctx)
	if persisted.IsRunning {
		t.Error("persisted status still running after Stop")
	}
}

func TestStart_RejectedWhileRunning(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, `trap 'exit 0' INT TERM
while true; do sleep 1; done`)
	ctx := context.Background()

	if _, err := sv.Start(ctx); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	st, err := sv.Start(ctx)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if !st.IsRunning {
		t.Error("rejected start mutated status")
	}
}

func TestStop_RejectedWhenStopped(t *testing.T) {
	sv, _, _ := newTestSupervisor(t, `sleep 1`)
	if _, err := sv.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestCrashSelfReports(t *testing.T) {
	sv, s, b := newTestSupervisor(t, `echo starting; exit 7`)
	events := b.Subscribe()
	defer b.Unsubscribe(events)

	if _, err := sv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	st := waitForStatus(t, s, func(st *models.MonitorStatus) bool { return !st.IsRunning })
	if st.LastError == nil {
		t.Error("crash did not record lastError")
	}

	// The stopped transition was broadcast without an explicit Stop.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name == bus.EventMonitorStatus {
				if payload, ok := ev.Payload.(*models.MonitorStatus); ok && !payload.IsRunning {
					return
				}
			}
		case <-deadline:
			t.Fatal("no stopped status event after crash")
		}
	}
}

func TestStart_SpawnFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	sv := NewSupervisor(s, bus.New(), config.WorkerConfig{
		Python:        "/nonexistent/sh",
		MonitorScript: "missing.py",
	}, config.MailCredentials{})

	st, err := sv.Start(context.Background())
	if err == nil {
		t.Fatal("Start() succeeded with a missing interpreter")
	}
	if st.IsRunning {
		t.Error("status running after spawn failure")
	}
	if st.LastError == nil {
		t.Error("spawn failure did not populate lastError")
	}
}

func TestStaleRunningStatusIsReconciled(t *testing.T) {
	sv, s, _ := newTestSupervisor(t, `trap 'exit 0' INT TERM
while true; do sleep 1; done`)
	ctx := context.Background()

	// Simulate a Running record left behind by a previous dashboard
	// process: persisted state says running, but no handle is held.
	running := true
	if _, err := s.UpsertMonitorStatus(ctx, models.MonitorStatusPatch{IsRunning: &running}); err != nil {
		t.Fatal(err)
	}

	st, err := sv.Start(ctx)
	if err != nil {
		t.Fatalf("Start() with stale status error = %v, want reconciled start", err)
	}
	if !st.IsRunning {
		t.Error("reconciled start did not mark running")
	}
}
