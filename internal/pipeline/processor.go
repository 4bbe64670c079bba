// Package pipeline drives email reply processing: single-email generation
// and sending, the sequential auto-processing batch, and attachment-aware
// enhanced processing. All natural-language work is delegated to external
// workers through the invoker; this package owns ordering, state
// transitions, progress events, and failure isolation.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/internal/bus"
	"github.com/wellscope/wellscope/internal/config"
	"github.com/wellscope/wellscope/internal/store"
	"github.com/wellscope/wellscope/internal/worker"
	"github.com/wellscope/wellscope/pkg/models"
)

// Per-call-site timeout policy; there is no global worker timeout.
const (
	generateTimeout = 120 * time.Second
	sendTimeout     = 30 * time.Second
	enhancedTimeout = 300 * time.Second
)

// Fallback surfaced to the operator when a worker fails; the diagnostic
// detail goes to the log, not the user.
const fallbackReplyError = "Unable to generate a reply for this email right now."

// ItemResult is the per-email entry in a batch run's result list.
type ItemResult struct {
	EmailID string `json:"emailId"`
	Subject string `json:"subject"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult summarizes one auto-processing run.
type BatchResult struct {
	Processed int          `json:"processed"`
	Errors    int          `json:"errors"`
	Results   []ItemResult `json:"results"`
}

// Processor orchestrates the reply workers against the store and bus.
type Processor struct {
	store   store.Store
	bus     *bus.Bus
	runner  worker.Runner
	workers config.WorkerConfig
	mail    config.MailCredentials
	steps   *StepLog

	// itemDelay spaces batch items so the mail transport is never hit
	// with back-to-back sends. Shortened in tests.
	itemDelay time.Duration
}

func New(s store.Store, b *bus.Bus, runner worker.Runner, workers config.WorkerConfig, mail config.MailCredentials) *Processor {
	return &Processor{
		store:     s,
		bus:       b,
		runner:    runner,
		workers:   workers,
		mail:      mail,
		steps:     NewStepLog(200),
		itemDelay: time.Second,
	}
}

// Steps exposes the processing-step log for the REST boundary.
func (p *Processor) Steps() *StepLog { return p.steps }

// configJSON renders the current agent configuration as the worker's
// config argument.
func (p *Processor) configJSON(ctx context.Context) string {
	cfg, err := p.store.AgentConfig(ctx)
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

// ── Reply Generation ─────────────────────────────────────────

// GenerateReply asks the email worker to draft a reply. Non-JSON worker
// output degrades to the raw text rather than failing the call.
func (p *Processor) GenerateReply(ctx context.Context, email *models.Email) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"from":    email.From,
		"subject": email.Subject,
		"body":    email.Body,
	})
	if err != nil {
		return "", err
	}

	out := p.runner.Invoke(ctx, worker.Request{
		Script:  p.workers.EmailScript,
		Args:    []string{"process", string(payload)},
		Env:     p.mail.Env(),
		Timeout: generateTimeout,
	})
	if !out.OK() {
		log.Warn().Str("email", email.ID).Str("detail", out.Diagnostic()).Msg("Reply generation failed")
		return "", fmt.Errorf("%s", fallbackReplyError)
	}

	var gen worker.GenerationResult
	if err := out.Decode(&gen); err != nil {
		if err == worker.ErrNotJSON {
			return out.Stdout, nil
		}
		return "", err
	}
	if !gen.Success {
		log.Warn().Str("email", email.ID).Str("detail", gen.Error).Msg("Worker reported generation failure")
		return "", fmt.Errorf("%s", fallbackReplyError)
	}
	return gen.Response, nil
}

// ProcessEmail runs generation for one email and marks it replied.
func (p *Processor) ProcessEmail(ctx context.Context, id string) (string, error) {
	email, err := p.store.GetEmail(ctx, id)
	if err != nil {
		return "", err
	}

	p.steps.Record("processing_email", email.ID, email.Subject, "")
	response, err := p.GenerateReply(ctx, email)
	if err != nil {
		p.steps.Record("generation_failed", email.ID, email.Subject, err.Error())
		return "", err
	}
	p.steps.Record("response_generated", email.ID, email.Subject, "")

	status := models.ReplyReplied
	updated, err := p.store.UpdateEmail(ctx, id, models.EmailPatch{ReplyStatus: &status})
	if err != nil && !store.IsWriteError(err) {
		return "", err
	}
	p.bus.Publish(bus.EventResponseGenerated, map[string]any{"emailId": id, "response": response})
	p.bus.Publish(bus.EventEmailStatusUpdated, updated)
	return response, nil
}

// ── Reply Sending ────────────────────────────────────────────

// SendReply hands a drafted reply to the email worker's SMTP path. The
// recipient address is reduced and validated here because it lands on the
// worker's command line.
func (p *Processor) SendReply(ctx context.Context, to, subject, content string) (*worker.SendResult, error) {
	addr := worker.ExtractAddress(to)
	if err := worker.ValidateAddress(addr); err != nil {
		return nil, err
	}

	out := p.runner.Invoke(ctx, worker.Request{
		Script:  p.workers.EmailScript,
		Args:    []string{"send_reply", addr, subject, content, p.configJSON(ctx)},
		Env:     p.mail.Env(),
		Timeout: sendTimeout,
	})
	if !out.OK() {
		log.Warn().Str("to", addr).Str("detail", out.Diagnostic()).Msg("Reply send failed")
		return nil, fmt.Errorf("failed to send reply")
	}

	var sent worker.SendResult
	if err := out.Decode(&sent); err != nil {
		if err == worker.ErrNotJSON {
			// Degrade: the worker answered but not in JSON; trust the exit.
			return &worker.SendResult{Success: true, Message: out.Stdout}, nil
		}
		return nil, err
	}
	if !sent.Success {
		log.Warn().Str("to", addr).Str("detail", sent.Error).Msg("Worker reported send failure")
		return nil, fmt.Errorf("failed to send reply")
	}
	return &sent, nil
}

// CompleteEmail marks an email completed after a successful send and
// broadcasts the transition.
func (p *Processor) CompleteEmail(ctx context.Context, id string) (*models.Email, error) {
	status := models.ReplyCompleted
	updated, err := p.store.UpdateEmail(ctx, id, models.EmailPatch{ReplyStatus: &status})
	if err != nil && !store.IsWriteError(err) {
		return nil, err
	}
	p.bus.Publish(bus.EventEmailStatusUpdated, updated)
	return updated, nil
}

// ── Auto Processing ──────────────────────────────────────────

// ProcessPending works through a snapshot of the emails that are pending
// at call time, strictly in order and one at a time. A failure on one
// item never prevents the remaining items from being attempted, and there
// is no persisted resumption point: if the host dies mid-batch the run is
// simply gone.
func (p *Processor) ProcessPending(ctx context.Context) (*BatchResult, error) {
	emails, err := p.store.ListEmails(ctx)
	if err != nil {
		p.bus.Publish(bus.EventAutoError, map[string]string{"error": err.Error()})
		return nil, err
	}
	var snapshot []models.Email
	for _, e := range emails {
		if e.ReplyStatus == models.ReplyPending {
			snapshot = append(snapshot, e)
		}
	}

	total := len(snapshot)
	p.bus.Publish(bus.EventAutoStarted, map[string]int{"total": total})
	p.steps.Record("auto_processing_started", "", "", fmt.Sprintf("%d pending", total))

	result := &BatchResult{Results: make([]ItemResult, 0, total)}
	for i, email := range snapshot {
		p.bus.Publish(bus.EventProcessingEmail, map[string]any{
			"index":   i + 1,
			"total":   total,
			"emailId": email.ID,
			"subject": email.Subject,
		})
		p.steps.Record("processing_email", email.ID, email.Subject, fmt.Sprintf("%d/%d", i+1, total))

		item := p.processItem(ctx, email)
		result.Results = append(result.Results, item)
		if item.Success {
			result.Processed++
		} else {
			result.Errors++
			p.steps.Record("item_failed", email.ID, email.Subject, item.Error)
		}

		if i < total-1 {
			// Fixed spacing so the mail transport is not overwhelmed.
			select {
			case <-time.After(p.itemDelay):
			case <-ctx.Done():
				p.bus.Publish(bus.EventAutoError, map[string]string{"error": ctx.Err().Error()})
				return result, ctx.Err()
			}
		}
	}

	p.steps.Record("auto_processing_completed", "", "",
		fmt.Sprintf("%d processed, %d errors", result.Processed, result.Errors))
	p.bus.Publish(bus.EventAutoCompleted, result)
	log.Info().Int("processed", result.Processed).Int("errors", result.Errors).Msg("Auto processing completed")
	return result, nil
}

// processItem runs generation and sending for one snapshot entry. Any
// panic inside a single item is converted into that item's error so the
// rest of the batch still runs.
func (p *Processor) processItem(ctx context.Context, email models.Email) (item ItemResult) {
	item = ItemResult{EmailID: email.ID, Subject: email.Subject}
	defer func() {
		if r := recover(); r != nil {
			item.Success = false
			item.Error = fmt.Sprintf("unexpected failure: %v", r)
			log.Error().Str("email", email.ID).Interface("panic", r).Msg("Batch item panicked")
		}
	}()

	response, err := p.GenerateReply(ctx, &email)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	p.bus.Publish(bus.EventResponseGenerated, map[string]any{"emailId": email.ID, "subject": email.Subject})
	p.steps.Record("response_generated", email.ID, email.Subject, "")

	if _, err := p.SendReply(ctx, email.From, "Re: "+email.Subject, response); err != nil {
		// Send failed after generation: record the error, leave the
		// status where it is.
		item.Error = err.Error()
		return item
	}
	p.bus.Publish(bus.EventReplySent, map[string]any{"emailId": email.ID, "subject": email.Subject})
	p.steps.Record("reply_sent", email.ID, email.Subject, "")

	if _, err := p.CompleteEmail(ctx, email.ID); err != nil {
		item.Error = err.Error()
		return item
	}
	item.Success = true
	return item
}

// ── Enhanced Processing ──────────────────────────────────────

// ProcessEnhanced runs the attachment-aware worker for one email,
// registers any generated plot files, sends the reply, and marks the
// email completed.
func (p *Processor) ProcessEnhanced(ctx context.Context, id string) (*worker.EnhancedResult, error) {
	email, err := p.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return nil, err
	}
	p.steps.Record("enhanced_processing", email.ID, email.Subject, "")

	out := p.runner.Invoke(ctx, worker.Request{
		Script:  p.workers.EnhancedScript,
		Args:    []string{email.From, email.Subject, email.Body, string(attachments)},
		Env:     p.mail.Env(),
		Timeout: enhancedTimeout,
	})
	if !out.OK() {
		p.bus.Publish(bus.EventEnhancedFailed, map[string]string{"emailId": id, "error": out.Diagnostic()})
		log.Warn().Str("email", id).Str("detail", out.Diagnostic()).Msg("Enhanced processing failed")
		return nil, fmt.Errorf("enhanced processing failed")
	}

	var enhanced worker.EnhancedResult
	if err := out.Decode(&enhanced); err != nil {
		if err != worker.ErrNotJSON {
			return nil, err
		}
		enhanced = worker.EnhancedResult{Success: true, Response: out.Stdout}
	}
	if !enhanced.Success {
		p.bus.Publish(bus.EventEnhancedFailed, map[string]string{"emailId": id, "error": enhanced.Error})
		return nil, fmt.Errorf("enhanced processing failed")
	}

	p.registerGeneratedFiles(ctx, enhanced.GeneratedFiles)

	if _, err := p.SendReply(ctx, email.From, "Re: "+email.Subject, enhanced.Response); err != nil {
		p.bus.Publish(bus.EventEnhancedFailed, map[string]string{"emailId": id, "error": err.Error()})
		return nil, err
	}
	if _, err := p.CompleteEmail(ctx, id); err != nil {
		return nil, err
	}

	p.steps.Record("enhanced_completed", email.ID, email.Subject, "")
	p.bus.Publish(bus.EventEnhancedCompleted, map[string]any{
		"emailId":        id,
		"generatedFiles": len(enhanced.GeneratedFiles),
	})
	return &enhanced, nil
}

// registerGeneratedFiles records worker-produced artifacts as output
// files. Dedup lives in the store, so re-registering is harmless.
func (p *Processor) registerGeneratedFiles(ctx context.Context, files []worker.GeneratedFile) {
	if len(files) == 0 {
		return
	}
	for _, f := range files {
		fileType := models.OutputType(f.Type)
		if fileType == "" {
			fileType = models.OutputPlot
		}
		record, err := p.store.AddOutputFile(ctx, models.OutputFile{
			Filename: f.Filename,
			Filepath: f.Filepath,
			FileType: fileType,
		})
		if err != nil && !store.IsWriteError(err) {
			log.Warn().Err(err).Str("file", f.Filename).Msg("Failed to register generated file")
			continue
		}
		p.bus.Publish(bus.EventNewOutputFile, record)
	}
	p.bus.Publish(bus.EventFilesUpdated, map[string]int{"generated": len(files)})
}

// SetItemDelay overrides the inter-item spacing (tests).
func (p *Processor) SetItemDelay(d time.Duration) { p.itemDelay = d }
