package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/monitor"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/pkg/models"
)

// ── Email CRUD ───────────────────────────────────────────────

func (h *Handlers) ListEmails(w http.ResponseWriter, r *http.Request) {
	emails, err := h.Store.ListEmails(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}
	respondJSON(w, http.StatusOK, emails)
}

func (h *Handlers) GetEmail(w http.ResponseWriter, r *http.Request) {
	email, err := h.Store.GetEmail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, storeStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, email)
}

// AddEmail is the inbox monitor's ingestion endpoint.
func (h *Handlers) AddEmail(w http.ResponseWriter, r *http.Request) {
	var req models.Email
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == "" {
		respondError(w, http.StatusBadRequest, "from is required")
		return
	}

	record, err := h.Store.AddEmail(r.Context(), req)
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("id", record.ID).Str("from", record.From).Msg("Email captured")
	h.Bus.Publish(bus.EventNewEmail, record)
	respondJSON(w, http.StatusCreated, record)
}

func (h *Handlers) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.Store.DeleteEmail(r.Context(), id)
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "email not found")
		return
	}
	h.Bus.Publish(bus.EventEmailDeleted, map[string]string{"id": id})
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handlers) UpdateEmailStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReplyStatus string `json:"replyStatus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !models.KnownReplyStatus(req.ReplyStatus) {
		respondError(w, http.StatusBadRequest, "replyStatus must be pending, replied, or completed")
		return
	}

	email, err := h.Store.UpdateEmail(r.Context(), chi.URLParam(r, "id"), models.EmailPatch{ReplyStatus: &req.ReplyStatus})
	if err != nil && !store.IsWriteError(err) {
		respondError(w, storeStatus(err), err.Error())
		return
	}
	h.Bus.Publish(bus.EventEmailStatusUpdated, email)
	respondJSON(w, http.StatusOK, email)
}

// ── Monitor Control ──────────────────────────────────────────

func (h *Handlers) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Monitor.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// UpdateMonitorStatus is the monitor process's progress report endpoint.
// The monitor posts emailsProcessed as a string, so the field is decoded
// leniently.
func (h *Handlers) UpdateMonitorStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsRunning       *bool           `json:"isRunning"`
		LastError       *string         `json:"lastError"`
		EmailsProcessed json.RawMessage `json:"emailsProcessed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	patch := models.MonitorStatusPatch{IsRunning: req.IsRunning, LastError: req.LastError}
	if len(req.EmailsProcessed) > 0 {
		n, err := parseCount(req.EmailsProcessed)
		if err != nil {
			respondError(w, http.StatusBadRequest, "emailsProcessed must be a number")
			return
		}
		patch.EmailsProcessed = &n
	}

	status, err := h.Store.UpsertMonitorStatus(r.Context(), patch)
	if err != nil && !store.IsWriteError(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Bus.Publish(bus.EventMonitorStatus, status)
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) StartMonitor(w http.ResponseWriter, r *http.Request) {
	status, err := h.Monitor.Start(r.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) StopMonitor(w http.ResponseWriter, r *http.Request) {
	status, err := h.Monitor.Stop(r.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrNotRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ── Processing ───────────────────────────────────────────────

func (h *Handlers) ProcessEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID string `json:"emailId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmailID == "" {
		respondError(w, http.StatusBadRequest, "emailId is required")
		return
	}

	response, err := h.Pipeline.ProcessEmail(r.Context(), req.EmailID)
	if err != nil {
		respondError(w, storeStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"response": response})
}

// ProcessAuto kicks off a batch run over the currently pending emails.
// The run outlives the request; progress and the final summary arrive
// over the event stream.
func (h *Handlers) ProcessAuto(w http.ResponseWriter, r *http.Request) {
	emails, err := h.Store.ListEmails(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pending := 0
	for _, e := range emails {
		if e.ReplyStatus == models.ReplyPending {
			pending++
		}
	}

	go func() {
		// Detached from the request; a closed connection must not abort
		// the batch.
		if _, err := h.Pipeline.ProcessPending(context.Background()); err != nil {
			log.Error().Err(err).Msg("Auto processing run failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":  "started",
		"pending": pending,
	})
}

func (h *Handlers) ProcessEnhanced(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID string `json:"emailId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EmailID == "" {
		respondError(w, http.StatusBadRequest, "emailId is required")
		return
	}

	result, err := h.Pipeline.ProcessEnhanced(r.Context(), req.EmailID)
	if err != nil {
		respondError(w, storeStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) SendReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EmailID string `json:"emailId"`
		To      string `json:"to"`
		Subject string `json:"subject"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	// When replying to a captured email the recipient and subject come
	// from the record.
	if req.EmailID != "" && req.To == "" {
		email, err := h.Store.GetEmail(r.Context(), req.EmailID)
		if err != nil {
			respondError(w, storeStatus(err), err.Error())
			return
		}
		req.To = email.From
		if req.Subject == "" {
			req.Subject = "Re: " + email.Subject
		}
	}

	sent, err := h.Pipeline.SendReply(r.Context(), req.To, req.Subject, req.Content)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if req.EmailID != "" {
		if _, err := h.Pipeline.CompleteEmail(r.Context(), req.EmailID); err != nil {
			log.Warn().Err(err).Str("email", req.EmailID).Msg("Reply sent but status update failed")
		}
	}
	h.Bus.Publish(bus.EventReplySent, map[string]string{"emailId": req.EmailID, "to": req.To})
	respondJSON(w, http.StatusOK, sent)
}

// ── Processing Steps ─────────────────────────────────────────

func (h *Handlers) ListProcessingSteps(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Pipeline.Steps().List())
}

func (h *Handlers) ClearProcessingSteps(w http.ResponseWriter, r *http.Request) {
	h.Pipeline.Steps().Clear()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// parseCount accepts a JSON number or a numeric string.
func parseCount(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
