// Package store provides the storage contract and the JSON-file-backed
// implementation for the Wellscope dashboard.
//
// Persistence is best-effort by policy: a failed collection write is
// reported as a *WriteError alongside the fully constructed record, and
// callers are free to log and continue. Every other component accesses the
// six record collections exclusively through the Store interface.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/wellscope/wellscope/pkg/models"
)

// Store is the persistence contract for all six record kinds.
// Handlers, the pipeline, the supervisor, and the watcher all depend on
// this interface, so tests can swap in lighter fakes.
type Store interface {
	// AgentConfig is a singleton: created with defaults on first read.
	AgentConfig(ctx context.Context) (*models.AgentConfig, error)
	UpsertAgentConfig(ctx context.Context, patch models.AgentConfigPatch) (*models.AgentConfig, error)

	// Chat messages are append-only, listed ascending by timestamp.
	ListChatMessages(ctx context.Context) ([]models.ChatMessage, error)
	AddChatMessage(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error)

	// LAS files are listed descending by creation time. Add is idempotent
	// on (filename, filepath): a duplicate returns the existing record.
	ListLasFiles(ctx context.Context) ([]models.LasFile, error)
	AddLasFile(ctx context.Context, f models.LasFile) (*models.LasFile, error)
	UpdateLasFile(ctx context.Context, id string, patch models.LasFilePatch) (*models.LasFile, error)

	// Output files share the LAS dedup invariant and descending order.
	ListOutputFiles(ctx context.Context) ([]models.OutputFile, error)
	AddOutputFile(ctx context.Context, f models.OutputFile) (*models.OutputFile, error)

	// Emails keep their externally sourced id and are the only deletable
	// kind. Listed descending by creation time.
	ListEmails(ctx context.Context) ([]models.Email, error)
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	AddEmail(ctx context.Context, e models.Email) (*models.Email, error)
	UpdateEmail(ctx context.Context, id string, patch models.EmailPatch) (*models.Email, error)
	DeleteEmail(ctx context.Context, id string) (bool, error)

	// MonitorStatus is a singleton like AgentConfig.
	MonitorStatus(ctx context.Context) (*models.MonitorStatus, error)
	UpsertMonitorStatus(ctx context.Context, patch models.MonitorStatusPatch) (*models.MonitorStatus, error)

	Close() error
}

// ErrNotFound is returned when a requested record does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// WriteError reports a failed collection write. The in-memory state is
// already updated when it is returned, so callers holding the record may
// treat it as a warning rather than a failure.
type WriteError struct {
	Collection string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Collection, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsWriteError reports whether err is (or wraps) a best-effort
// persistence failure.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
