// Package agent fronts the LLM worker: connection testing against a
// configured backend and chat turns over the loaded well logs. The worker
// is an opaque process; this package owns persistence of the conversation
// and registration of any artifacts the worker produced.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/internal/worker"
	"github.com/wellscope/wellscope/pkg/models"
)

const (
	// A connectivity probe answers fast or not at all.
	testTimeout = 3 * time.Second
	// Chat turns run agent loops with tool calls and need headroom.
	chatTimeout = 180 * time.Second

	// The marker the worker prints on a successful backend probe.
	successMarker = "SUCCESS"
)

// Service runs LLM operations through the external worker.
type Service struct {
	store   store.Store
	bus     *bus.Bus
	runner  worker.Runner
	workers config.WorkerConfig
}

func New(s store.Store, b *bus.Bus, runner worker.Runner, workers config.WorkerConfig) *Service {
	return &Service{store: s, bus: b, runner: runner, workers: workers}
}

// TestConnection probes the given backend and records the result on the
// agent configuration. The probe's provider, model, and endpoint land on a
// command line, so they are validated first.
func (s *Service) TestConnection(ctx context.Context, provider, model, endpoint string) (*models.AgentConfig, error) {
	if err := worker.ValidateName(provider); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if err := worker.ValidateName(model); err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if err := worker.ValidateEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}

	out := s.runner.Invoke(ctx, worker.Request{
		Script:  s.workers.AgentScript,
		Args:    []string{"test", provider, model, endpoint},
		Timeout: testTimeout,
	})
	connected := out.OK() && strings.Contains(out.Stdout, successMarker)
	if !connected {
		log.Warn().Str("provider", provider).Str("model", model).Str("detail", out.Diagnostic()).Msg("Connection test failed")
	}

	now := time.Now().UTC()
	cfg, err := s.store.UpsertAgentConfig(ctx, models.AgentConfigPatch{
		Provider:    &provider,
		Model:       &model,
		EndpointURL: &endpoint,
		IsConnected: &connected,
		LastTested:  &now,
	})
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}
	s.bus.Publish(bus.EventConfigUpdated, cfg)
	return cfg, nil
}

// Chat persists the user's turn, runs the worker against the selected
// file, and persists the agent's answer. A worker failure still leaves the
// user message in the history; the returned error carries no worker
// internals.
func (s *Service) Chat(ctx context.Context, content, selectedFile string) (*models.ChatMessage, error) {
	userMsg, err := s.store.AddChatMessage(ctx, models.ChatMessage{
		Role:    models.RoleUser,
		Content: content,
	})
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}
	s.bus.Publish(bus.EventNewMessage, userMsg)

	out := s.runner.Invoke(ctx, worker.Request{
		Script:  s.workers.AgentScript,
		Args:    []string{"process", content, selectedFile, s.configJSON(ctx)},
		Timeout: chatTimeout,
	})
	if !out.OK() {
		log.Warn().Str("detail", out.Diagnostic()).Msg("Chat worker failed")
		return nil, fmt.Errorf("the agent could not process this message")
	}

	var result worker.ChatResult
	if err := out.Decode(&result); err != nil {
		if err != worker.ErrNotJSON {
			return nil, err
		}
		// Older workers answer in plain text.
		result = worker.ChatResult{Content: out.Stdout}
	}

	metadata := result.Metadata
	if len(result.ThinkingSteps) > 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["thinkingSteps"] = result.ThinkingSteps
	}

	agentMsg, err := s.store.AddChatMessage(ctx, models.ChatMessage{
		Role:     models.RoleAgent,
		Content:  result.Content,
		Metadata: metadata,
	})
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}

	s.registerGeneratedFiles(ctx, result.GeneratedFiles)
	s.markProcessed(ctx, selectedFile)
	s.bus.Publish(bus.EventAgentResponse, agentMsg)
	return agentMsg, nil
}

// markProcessed flags the selected well log as analyzed after a
// successful turn over it.
func (s *Service) markProcessed(ctx context.Context, selectedFile string) {
	if selectedFile == "" {
		return
	}
	files, err := s.store.ListLasFiles(ctx)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.Filename != selectedFile || f.Processed {
			continue
		}
		processed := true
		if _, err := s.store.UpdateLasFile(ctx, f.ID, models.LasFilePatch{Processed: &processed}); err != nil && !store.IsWriteError(err) {
			log.Warn().Err(err).Str("file", f.Filename).Msg("Failed to mark file processed")
		}
		return
	}
}

// registerGeneratedFiles records chat-produced artifacts (plots rendered
// while answering) as output files.
func (s *Service) registerGeneratedFiles(ctx context.Context, files []worker.GeneratedFile) {
	if len(files) == 0 {
		return
	}
	for _, f := range files {
		fileType := models.OutputType(f.Type)
		if fileType == "" {
			fileType = models.OutputPlot
		}
		record, err := s.store.AddOutputFile(ctx, models.OutputFile{
			Filename:  f.Filename,
			Filepath:  f.Filepath,
			FileType:  fileType,
			LasFileID: f.RelatedLasFile,
		})
		if err != nil && !store.IsWriteError(err) {
			log.Warn().Err(err).Str("file", f.Filename).Msg("Failed to register generated file")
			continue
		}
		s.bus.Publish(bus.EventNewOutputFile, record)
	}
	s.bus.Publish(bus.EventFilesUpdated, map[string]int{"generated": len(files)})
}

func (s *Service) configJSON(ctx context.Context) string {
	cfg, err := s.store.AgentConfig(ctx)
	if err != nil && !store.IsWriteError(err) {
		return "{}"
	}
	data, err := json.Marshal(map[string]string{
		"provider":    cfg.Provider,
		"model":       cfg.Model,
		"endpointUrl": cfg.EndpointURL,
	})
	if err != nil {
		return "{}"
	}
	return string(data)
}
