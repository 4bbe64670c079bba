package worker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// writeScript drops an executable shell script into a temp dir so tests
// can stand in for the Python workers.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func shInvoker() *Invoker { return NewInvoker("/bin/sh") }

func TestInvoke_SuccessDecodesJSON(t *testing.T) {
	script := writeScript(t, `echo '{"success": true, "response": "Reply text"}'`)
	out := shInvoker().Invoke(context.Background(), Request{Script: script, Timeout: 5 * time.Second})

	if !out.OK() {
		t.Fatalf("Kind = %s (%s), want success", out.Kind, out.Diagnostic())
	}
	var gen GenerationResult
	if err := out.Decode(&gen); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !gen.Success || gen.Response != "Reply text" {
		t.Errorf("decoded = %+v, want success with response", gen)
	}
}

func TestInvoke_PlainTextFallsBackToRawStdout(t *testing.T) {
	script := writeScript(t, `echo 'SUCCESS'`)
	out := shInvoker().Invoke(context.Background(), Request{Script: script, Timeout: 5 * time.Second})

	if !out.OK() {
		t.Fatalf("Kind = %s, want success on parse failure", out.Kind)
	}
	if out.JSON != nil {
		t.Error("JSON set for non-JSON output")
	}
	var v map[string]any
	if err := out.Decode(&v); err != ErrNotJSON {
		t.Errorf("Decode() error = %v, want ErrNotJSON", err)
	}
	if out.Stdout != "SUCCESS" {
		t.Errorf("Stdout = %q, want raw fallback payload", out.Stdout)
	}
}

func TestInvoke_NonZeroExitIsFailureWithStderr(t *testing.T) {
	script := writeScript(t, `echo 'boom' >&2; exit 3`)
	out := shInvoker().Invoke(context.Background(), Request{Script: script, Timeout: 5 * time.Second})

	if out.Kind != OutcomeFailure {
		t.Fatalf("Kind = %s, want failure", out.Kind)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if !strings.Contains(out.Diagnostic(), "boom") {
		t.Errorf("Diagnostic() = %q, want captured stderr", out.Diagnostic())
	}
}

func TestInvoke_EmptyStdoutIsFailure(t *testing.T) {
	script := writeScript(t, `exit 0`)
	out := shInvoker().Invoke(context.Background(), Request{Script: script, Timeout: 5 * time.Second})
	if out.Kind != OutcomeFailure {
		t.Errorf("Kind = %s, want failure for empty stdout", out.Kind)
	}
}

func TestInvoke_TimeoutKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	script := writeScript(t, `echo $$ > "$1"
exec sleep 30`)

	start := time.Now()
	out := shInvoker().Invoke(context.Background(), Request{
		Script:  script,
		Args:    []string{pidFile},
		Timeout: 200 * time.Millisecond,
	})
	if out.Kind != OutcomeTimeout {
		t.Fatalf("Kind = %s, want timeout", out.Kind)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Invoke took %v, want prompt return after deadline", elapsed)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("worker never wrote pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("bad pid %q", data)
	}
	// Signal 0 probes liveness; the child must be gone (or a zombie
	// already reaped by Wait).
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return // dead
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("process %d still running after timeout", pid)
}

func TestInvoke_MissingInterpreterIsSpawnError(t *testing.T) {
	iv := NewInvoker("/nonexistent/python3")
	out := iv.Invoke(context.Background(), Request{Script: "whatever.py", Timeout: time.Second})
	if out.Kind != OutcomeSpawnError {
		t.Fatalf("Kind = %s, want spawn_error", out.Kind)
	}
	if out.Err == nil {
		t.Error("SpawnError outcome carries no cause")
	}
}

func TestInvoke_EnvOverridesReachWorker(t *testing.T) {
	script := writeScript(t, `echo "$EMAIL_USER"`)
	out := shInvoker().Invoke(context.Background(), Request{
		Script:  script,
		Env:     map[string]string{"EMAIL_USER": "ops@wellscope.io"},
		Timeout: 5 * time.Second,
	})
	if !out.OK() || out.Stdout != "ops@wellscope.io" {
		t.Errorf("Stdout = %q (%s), want env override echoed back", out.Stdout, out.Kind)
	}
}
