// Package worker runs external worker processes for single logical
// operations: one OS process per invocation, a strict wall-clock timeout,
// and the outcome translated into a typed result at this boundary.
//
// Workers are opaque: they take an action verb plus positional arguments
// (complex payloads as one JSON-encoded string) and answer with a single
// JSON value on stdout. The invoker forwards arguments verbatim; call
// sites are responsible for sanitizing anything that reaches a command
// line or the environment (see sanitize.go).
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// OutcomeKind classifies how an invocation ended.
type OutcomeKind string

const (
	OutcomeSuccess    OutcomeKind = "success"     // exit 0 with output
	OutcomeFailure    OutcomeKind = "failure"     // non-zero exit or empty stdout
	OutcomeTimeout    OutcomeKind = "timeout"     // deadline elapsed, process killed
	OutcomeSpawnError OutcomeKind = "spawn_error" // process never started
)

// Outcome is the result of one worker invocation. On Success, JSON holds
// stdout when it parsed as a single JSON value; otherwise JSON is nil and
// Stdout carries the raw text as a fallback payload.
type Outcome struct {
	Kind     OutcomeKind
	Stdout   string
	Stderr   string
	ExitCode int
	JSON     json.RawMessage
	Err      error // spawn cause (SpawnError only)
}

// OK reports whether the worker completed successfully.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// ErrNotJSON is returned by Decode when the worker produced plain text.
var ErrNotJSON = errors.New("worker output is not JSON")

// Decode unmarshals the worker's JSON payload into v. Callers that can
// degrade gracefully should fall back to Outcome.Stdout on ErrNotJSON.
func (o Outcome) Decode(v any) error {
	if !o.OK() {
		return fmt.Errorf("worker %s: %s", o.Kind, o.Diagnostic())
	}
	if o.JSON == nil {
		return ErrNotJSON
	}
	return json.Unmarshal(o.JSON, v)
}

// Diagnostic returns the best available failure detail for logging.
func (o Outcome) Diagnostic() string {
	switch o.Kind {
	case OutcomeSpawnError:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "spawn failed"
	case OutcomeTimeout:
		return "timed out"
	default:
		if s := strings.TrimSpace(o.Stderr); s != "" {
			return s
		}
		return fmt.Sprintf("exit code %d", o.ExitCode)
	}
}

// Request describes one invocation. Timeout is policy owned by the call
// site (3s connectivity probe, 30s send, 120s reply generation, 180s chat,
// 300s enhanced processing).
type Request struct {
	Script  string
	Args    []string
	Env     map[string]string // merged over the calling process's environment
	Timeout time.Duration
}

// Invoker runs worker scripts under a Python interpreter.
type Invoker struct {
	python string
}

func NewInvoker(python string) *Invoker {
	if python == "" {
		python = "python3"
	}
	return &Invoker{python: python}
}

// Runner is the invocation contract depended on by the agent service and
// the processing pipeline; tests substitute stubs.
type Runner interface {
	Invoke(ctx context.Context, req Request) Outcome
}

// Invoke runs exactly one external process to completion or timeout.
func (iv *Invoker) Invoke(ctx context.Context, req Request) Outcome {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := append([]string{req.Script}, req.Args...)
	cmd := exec.CommandContext(ctx, iv.python, args...)

	env := os.Environ()
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second // hard kill if the process ignores cancellation

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// Nothing spawned; no timeout timer is relevant.
		return Outcome{Kind: OutcomeSpawnError, Err: err}
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		log.Warn().Str("script", req.Script).Dur("elapsed", elapsed).Msg("Worker timed out, killed")
		// Partial stdout from a killed worker is not trusted.
		return Outcome{Kind: OutcomeTimeout, Stderr: stderr.String()}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		log.Warn().Str("script", req.Script).Int("exit_code", exitCode).Dur("elapsed", elapsed).Msg("Worker failed")
		return Outcome{Kind: OutcomeFailure, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return Outcome{Kind: OutcomeFailure, ExitCode: 0, Stderr: stderr.String()}
	}

	result := Outcome{Kind: OutcomeSuccess, Stdout: out, Stderr: stderr.String()}
	if json.Valid([]byte(out)) {
		result.JSON = json.RawMessage(out)
	}
	return result
}
