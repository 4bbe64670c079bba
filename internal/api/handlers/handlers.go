// Package handlers implements the HTTP handlers for the Wellscope
// dashboard: agent configuration and chat, file listings, the email
// pipeline, and inbox-monitor control.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/agent"
	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/monitor"
	"github.com/wellscope/wellscope/internal/pipeline"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Bus      *bus.Bus
	Agent    *agent.Service
	Pipeline *pipeline.Processor
	Monitor  *monitor.Supervisor
	Config   *config.Config
}

func New(s store.Store, b *bus.Bus, svc *agent.Service, p *pipeline.Processor, sv *monitor.Supervisor, cfg *config.Config) *Handlers {
	return &Handlers{Store: s, Bus: b, Agent: svc, Pipeline: p, Monitor: sv, Config: cfg}
}

// ── Agent Configuration ──────────────────────────────────────

func (h *Handlers) GetAgentConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.AgentConfig(r.Context())
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) UpdateAgentConfig(w http.ResponseWriter, r *http.Request) {
	var patch models.AgentConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := h.Store.UpsertAgentConfig(r.Context(), patch)
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("Agent config updated")
	h.Bus.Publish(bus.EventConfigUpdated, cfg)
	respondJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"provider"`
		Model       string `json:"model"`
		EndpointURL string `json:"endpointUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Unspecified fields fall back to the stored configuration so the
	// dashboard can re-test without resending everything.
	if req.Provider == "" || req.Model == "" {
		current, err := h.Store.AgentConfig(r.Context())
		if err != nil && !store.IsWriteError(err) {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if req.Provider == "" {
			req.Provider = current.Provider
		}
		if req.Model == "" {
			req.Model = current.Model
		}
		if req.EndpointURL == "" {
			req.EndpointURL = current.EndpointURL
		}
	}

	cfg, err := h.Agent.TestConnection(r.Context(), req.Provider, req.Model, req.EndpointURL)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": cfg.IsConnected,
		"config":  cfg,
	})
}

// ── Chat ─────────────────────────────────────────────────────

func (h *Handlers) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.Store.ListChatMessages(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, messages)
}

func (h *Handlers) PostChatMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content      string `json:"content"`
		SelectedFile string `json:"selectedFile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		respondError(w, http.StatusBadRequest, "Message content is required")
		return
	}

	msg, err := h.Agent.Chat(r.Context(), req.Content, req.SelectedFile)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// ── Health & Version ─────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "wellscope",
	})
}

func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Config.Version,
		"service": "wellscope",
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// storeStatus maps a store error to the HTTP status it should produce.
func storeStatus(err error) int {
	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
