package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wellscope/wellscope/internal/agent"
	"github.com/wellscope/wellscope/internal/api"
	"github.com/wellscope/wellscope/internal/api/handlers"
	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/monitor"
	"github.com/wellscope/wellscope/internal/pipeline"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/internal/worker"
	"github.com/wellscope/wellscope/pkg/models"
)

type stubRunner struct {
	fn func(worker.Request) worker.Outcome
}

func (r *stubRunner) Invoke(_ context.Context, req worker.Request) worker.Outcome {
	return r.fn(req)
}

func jsonOutcome(t *testing.T, v any) worker.Outcome {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal stub payload: %v", err)
	}
	return worker.Outcome{Kind: worker.OutcomeSuccess, Stdout: string(data), JSON: data}
}

// defaultRunner answers every worker verb with a plausible success.
func defaultRunner(t *testing.T) *stubRunner {
	return &stubRunner{fn: func(req worker.Request) worker.Outcome {
		switch req.Args[0] {
		case "test":
			return worker.Outcome{Kind: worker.OutcomeSuccess, Stdout: "SUCCESS"}
		case "process":
			if len(req.Args) == 4 {
				return jsonOutcome(t, worker.ChatResult{Content: "answer"})
			}
			return jsonOutcome(t, worker.GenerationResult{Success: true, Response: "reply"})
		case "send_reply":
			return jsonOutcome(t, worker.SendResult{Success: true, Message: "sent"})
		default:
			return jsonOutcome(t, worker.EnhancedResult{Success: true, Response: "enhanced"})
		}
	}}
}

func newTestAPI(t *testing.T, runner worker.Runner) (*httptest.Server, *store.FileStore) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.Load()
	cfg.OutputDir = t.TempDir()
	cfg.AttachmentsDir = t.TempDir()
	cfg.Workers = config.WorkerConfig{
		Python:         "/bin/sh",
		AgentScript:    "agent.sh",
		EmailScript:    "email.sh",
		EnhancedScript: "enhanced.sh",
		MonitorScript:  "monitor.sh",
	}

	b := bus.New()
	agentSvc := agent.New(s, b, runner, cfg.Workers)
	processor := pipeline.New(s, b, runner, cfg.Workers, cfg.Mail)
	processor.SetItemDelay(0)
	supervisor := monitor.NewSupervisor(s, b, cfg.Workers, cfg.Mail)

	h := handlers.New(s, b, agentSvc, processor, supervisor, cfg)
	ts := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(ts.Close)
	return ts, s
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	resp, body := doJSON(t, "GET", ts.URL+"/health", nil)
	if resp.StatusCode != 200 || body["status"] != "healthy" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "GET", ts.URL+"/version", nil)
	if resp.StatusCode != 200 || body["service"] != "wellscope" {
		t.Fatalf("version = %d %v", resp.StatusCode, body)
	}
}

func TestAgentConfigDefaultsAndUpdate(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	resp, body := doJSON(t, "GET", ts.URL+"/api/agent/config", nil)
	if resp.StatusCode != 200 || body["provider"] != "ollama" {
		t.Fatalf("default config = %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, "POST", ts.URL+"/api/agent/config", map[string]string{"model": "mistral"})
	if resp.StatusCode != 200 || body["model"] != "mistral" {
		t.Fatalf("updated config = %d %v", resp.StatusCode, body)
	}
	if body["provider"] != "ollama" {
		t.Fatalf("merge lost provider: %v", body)
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	resp, body := doJSON(t, "POST", ts.URL+"/api/agent/test-connection", map[string]string{})
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
}

func TestChatRoundTrip(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))

	resp, body := doJSON(t, "POST", ts.URL+"/api/chat/message", map[string]string{"content": "hello"})
	if resp.StatusCode != 200 || body["content"] != "answer" {
		t.Fatalf("chat = %d %v", resp.StatusCode, body)
	}

	history, _ := s.ListChatMessages(context.Background())
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/chat/message", map[string]string{"content": ""})
	if resp.StatusCode != 400 {
		t.Fatalf("empty content status = %d, want 400", resp.StatusCode)
	}
}

func TestEmailLifecycleOverREST(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	resp, created := doJSON(t, "POST", ts.URL+"/api/emails", map[string]any{
		"id":      "imap-7",
		"from":    "geo@example.com",
		"subject": "Well 12",
		"body":    "Please analyze.",
	})
	if resp.StatusCode != 201 || created["replyStatus"] != "pending" {
		t.Fatalf("create = %d %v", resp.StatusCode, created)
	}

	resp, _ = doJSON(t, "PUT", ts.URL+"/api/emails/imap-7/status", map[string]string{"replyStatus": "archived"})
	if resp.StatusCode != 400 {
		t.Fatalf("unknown status accepted: %d", resp.StatusCode)
	}

	resp, updated := doJSON(t, "PUT", ts.URL+"/api/emails/imap-7/status", map[string]string{"replyStatus": "completed"})
	if resp.StatusCode != 200 || updated["replyStatus"] != "completed" {
		t.Fatalf("update = %d %v", resp.StatusCode, updated)
	}

	resp, _ = doJSON(t, "DELETE", ts.URL+"/api/emails/imap-7", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "DELETE", ts.URL+"/api/emails/imap-7", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("second delete = %d, want 404", resp.StatusCode)
	}
}

func TestProcessSingleEmail(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))
	ctx := context.Background()

	e, _ := s.AddEmail(ctx, models.Email{From: "geo@example.com", Subject: "Q", Body: "?"})

	resp, body := doJSON(t, "POST", ts.URL+"/api/emails/process", map[string]string{"emailId": e.ID})
	if resp.StatusCode != 200 || body["response"] != "reply" {
		t.Fatalf("process = %d %v", resp.StatusCode, body)
	}

	got, _ := s.GetEmail(ctx, e.ID)
	if got.ReplyStatus != models.ReplyReplied {
		t.Fatalf("status = %q, want replied", got.ReplyStatus)
	}

	resp, _ = doJSON(t, "POST", ts.URL+"/api/emails/process", map[string]string{"emailId": "no-such"})
	if resp.StatusCode != 404 {
		t.Fatalf("missing email status = %d, want 404", resp.StatusCode)
	}
}

func TestSendReplyCompletesEmail(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))
	ctx := context.Background()

	e, _ := s.AddEmail(ctx, models.Email{From: "Jane <jane@example.com>", Subject: "Q", Body: "?"})

	resp, body := doJSON(t, "POST", ts.URL+"/api/emails/send-reply", map[string]string{
		"emailId": e.ID,
		"content": "Here you go.",
	})
	if resp.StatusCode != 200 || body["success"] != true {
		t.Fatalf("send-reply = %d %v", resp.StatusCode, body)
	}

	got, _ := s.GetEmail(ctx, e.ID)
	if got.ReplyStatus != models.ReplyCompleted {
		t.Fatalf("status = %q, want completed", got.ReplyStatus)
	}
}

func TestProcessAutoRunsInBackground(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))
	ctx := context.Background()

	e, _ := s.AddEmail(ctx, models.Email{From: "a@x.com", Subject: "one", Body: "x"})

	resp, body := doJSON(t, "POST", ts.URL+"/api/emails/process-auto", nil)
	if resp.StatusCode != 202 || body["status"] != "started" {
		t.Fatalf("process-auto = %d %v", resp.StatusCode, body)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, _ := s.GetEmail(ctx, e.ID)
		if got != nil && got.ReplyStatus == models.ReplyCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("email never completed, status = %+v", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestMonitorStatusLenientCount(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	// The monitor script posts counts as strings.
	resp, body := doJSON(t, "PUT", ts.URL+"/api/emails/monitor/status", map[string]any{
		"emailsProcessed": "7",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("put status = %d %v", resp.StatusCode, body)
	}
	if body["emailsProcessed"] != float64(7) {
		t.Fatalf("emailsProcessed = %v, want 7", body["emailsProcessed"])
	}

	resp, _ = doJSON(t, "PUT", ts.URL+"/api/emails/monitor/status", map[string]any{
		"emailsProcessed": "many",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("bad count accepted: %d", resp.StatusCode)
	}
}

func TestProcessingStepsEndpoint(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))
	ctx := context.Background()

	e, _ := s.AddEmail(ctx, models.Email{From: "a@x.com", Subject: "one", Body: "x"})
	doJSON(t, "POST", ts.URL+"/api/emails/process", map[string]string{"emailId": e.ID})

	req, _ := http.NewRequest("GET", ts.URL+"/api/emails/processing-steps", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get steps: %v", err)
	}
	var steps []map[string]any
	json.NewDecoder(resp.Body).Decode(&steps)
	resp.Body.Close()
	if len(steps) == 0 {
		t.Fatal("expected recorded steps")
	}

	resp2, _ := doJSON(t, "DELETE", ts.URL+"/api/emails/processing-steps", nil)
	if resp2.StatusCode != 200 {
		t.Fatalf("clear steps = %d", resp2.StatusCode)
	}
}

func TestOutputFileServing(t *testing.T) {
	ts, _ := newTestAPI(t, defaultRunner(t))

	resp, _ := doJSON(t, "GET", ts.URL+"/api/files/output/absent.png", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("absent file = %d, want 404", resp.StatusCode)
	}
}

func TestRegisterLasFileOverREST(t *testing.T) {
	ts, s := newTestAPI(t, defaultRunner(t))

	resp, body := doJSON(t, "POST", ts.URL+"/api/files/las", map[string]string{
		"filename": "well9.las",
		"size":     "3.2 KB",
	})
	if resp.StatusCode != 201 || body["source"] != "upload" {
		t.Fatalf("register = %d %v", resp.StatusCode, body)
	}

	files, _ := s.ListLasFiles(context.Background())
	if len(files) != 1 || files[0].Filename != "well9.las" {
		t.Fatalf("files = %+v", files)
	}
}

func TestServedOutputFileContent(t *testing.T) {
	runner := defaultRunner(t)
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := config.Load()
	cfg.OutputDir = t.TempDir()
	if err := os.WriteFile(filepath.Join(cfg.OutputDir, "gamma.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := bus.New()
	h := handlers.New(s, b,
		agent.New(s, b, runner, cfg.Workers),
		pipeline.New(s, b, runner, cfg.Workers, cfg.Mail),
		monitor.NewSupervisor(s, b, cfg.Workers, cfg.Mail),
		cfg)
	ts := httptest.NewServer(api.NewRouter(h))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/files/output/gamma.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
