package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wellscope/wellscope/pkg/models"
)

// Collection file names inside the data directory. One independently
// readable/writable JSON file per record kind; no cross-file transaction.
const (
	fileAgentConfig   = "agent_config.json"
	fileChatMessages  = "chat_messages.json"
	fileLasFiles      = "las_files.json"
	fileOutputFiles   = "output_files.json"
	fileEmails        = "emails.json"
	fileMonitorStatus = "email_monitor_status.json"
)

// FileStore implements Store with in-memory collections mirrored to JSON
// files. Every mutation rewrites the whole collection file (read-modify-
// write); concurrent writers from separate OS processes get last-writer-
// wins, which is acceptable for a single-operator tool.
type FileStore struct {
	mu  sync.Mutex
	dir string

	config   *models.AgentConfig
	messages []models.ChatMessage
	lasFiles []models.LasFile
	outputs  []models.OutputFile
	emails   []models.Email
	monitor  *models.MonitorStatus
}

// NewFileStore loads all collections from dir, creating it if necessary.
// A missing or corrupt file yields that collection's zero value, never an
// error: the dashboard must come up even with damaged state.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{dir: dir}
	loadCollection(filepath.Join(dir, fileChatMessages), &s.messages)
	loadCollection(filepath.Join(dir, fileLasFiles), &s.lasFiles)
	loadCollection(filepath.Join(dir, fileOutputFiles), &s.outputs)
	loadCollection(filepath.Join(dir, fileEmails), &s.emails)
	loadCollection(filepath.Join(dir, fileAgentConfig), &s.config)
	loadCollection(filepath.Join(dir, fileMonitorStatus), &s.monitor)
	return s, nil
}

// loadCollection reads one JSON file into v. Timestamp fields decode into
// time.Time through the typed models, so reloaded records carry temporal
// values rather than strings.
func loadCollection(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", path).Msg("Failed to read collection, starting empty")
		}
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Corrupt collection file, starting empty")
	}
}

// save rewrites one collection file. Failures are logged and reported as
// a *WriteError; the in-memory collection is already updated.
func (s *FileStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(s.dir, name), data, 0o644)
	}
	if err != nil {
		log.Warn().Err(err).Str("collection", name).Msg("Best-effort persistence failed")
		return &WriteError{Collection: name, Err: err}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// ── Agent config ─────────────────────────────────────────────

func defaultAgentConfig() *models.AgentConfig {
	return &models.AgentConfig{
		ID:          uuid.New().String(),
		Provider:    models.DefaultProvider,
		Model:       models.DefaultModel,
		EndpointURL: models.DefaultEndpoint,
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *FileStore) AgentConfig(_ context.Context) (*models.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		s.config = defaultAgentConfig()
		cfg := *s.config
		return &cfg, s.save(fileAgentConfig, s.config)
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *FileStore) UpsertAgentConfig(_ context.Context, patch models.AgentConfigPatch) (*models.AgentConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		s.config = defaultAgentConfig()
	}
	if patch.Provider != nil {
		s.config.Provider = *patch.Provider
	}
	if patch.Model != nil {
		s.config.Model = *patch.Model
	}
	if patch.EndpointURL != nil {
		s.config.EndpointURL = *patch.EndpointURL
	}
	if patch.IsConnected != nil {
		s.config.IsConnected = *patch.IsConnected
	}
	if patch.LastTested != nil {
		s.config.LastTested = patch.LastTested
	}
	cfg := *s.config
	return &cfg, s.save(fileAgentConfig, s.config)
}

// ── Chat messages ────────────────────────────────────────────

func (s *FileStore) ListChatMessages(_ context.Context) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *FileStore) AddChatMessage(_ context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return &msg, s.save(fileChatMessages, s.messages)
}

// ── LAS files ────────────────────────────────────────────────

func (s *FileStore) ListLasFiles(_ context.Context) ([]models.LasFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LasFile, len(s.lasFiles))
	copy(out, s.lasFiles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) AddLasFile(_ context.Context, f models.LasFile) (*models.LasFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Idempotent ingestion: the watcher and manual API calls may race to
	// insert the same file.
	for i := range s.lasFiles {
		if s.lasFiles[i].Filename == f.Filename && s.lasFiles[i].Filepath == f.Filepath {
			existing := s.lasFiles[i]
			return &existing, nil
		}
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Source == "" {
		f.Source = models.SourceManual
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.lasFiles = append(s.lasFiles, f)
	return &f, s.save(fileLasFiles, s.lasFiles)
}

func (s *FileStore) UpdateLasFile(_ context.Context, id string, patch models.LasFilePatch) (*models.LasFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lasFiles {
		if s.lasFiles[i].ID == id {
			if patch.Processed != nil {
				s.lasFiles[i].Processed = *patch.Processed
			}
			updated := s.lasFiles[i]
			return &updated, s.save(fileLasFiles, s.lasFiles)
		}
	}
	return nil, &ErrNotFound{Entity: "las file", Key: id}
}

// ── Output files ─────────────────────────────────────────────

func (s *FileStore) ListOutputFiles(_ context.Context) ([]models.OutputFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutputFile, len(s.outputs))
	copy(out, s.outputs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) AddOutputFile(_ context.Context, f models.OutputFile) (*models.OutputFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outputs {
		if s.outputs[i].Filename == f.Filename && s.outputs[i].Filepath == f.Filepath {
			existing := s.outputs[i]
			return &existing, nil
		}
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.FileType == "" {
		f.FileType = models.OutputPlot
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	s.outputs = append(s.outputs, f)
	return &f, s.save(fileOutputFiles, s.outputs)
}

// ── Emails ───────────────────────────────────────────────────

func (s *FileStore) ListEmails(_ context.Context) ([]models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Email, len(s.emails))
	copy(out, s.emails)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) GetEmail(_ context.Context, id string) (*models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.emails {
		if s.emails[i].ID == id {
			e := s.emails[i]
			return &e, nil
		}
	}
	return nil, &ErrNotFound{Entity: "email", Key: id}
}

func (s *FileStore) AddEmail(_ context.Context, e models.Email) (*models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ReplyStatus == "" {
		e.ReplyStatus = models.ReplyPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.emails = append(s.emails, e)
	return &e, s.save(fileEmails, s.emails)
}

func (s *FileStore) UpdateEmail(_ context.Context, id string, patch models.EmailPatch) (*models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.emails {
		if s.emails[i].ID == id {
			if patch.ReplyStatus != nil {
				s.emails[i].ReplyStatus = *patch.ReplyStatus
			}
			updated := s.emails[i]
			return &updated, s.save(fileEmails, s.emails)
		}
	}
	return nil, &ErrNotFound{Entity: "email", Key: id}
}

func (s *FileStore) DeleteEmail(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.emails {
		if s.emails[i].ID == id {
			s.emails = append(s.emails[:i], s.emails[i+1:]...)
			return true, s.save(fileEmails, s.emails)
		}
	}
	return false, nil
}

// ── Monitor status ───────────────────────────────────────────

func (s *FileStore) MonitorStatus(_ context.Context) (*models.MonitorStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		s.monitor = &models.MonitorStatus{UpdatedAt: time.Now().UTC()}
		st := *s.monitor
		return &st, s.save(fileMonitorStatus, s.monitor)
	}
	st := *s.monitor
	return &st, nil
}

func (s *FileStore) UpsertMonitorStatus(_ context.Context, patch models.MonitorStatusPatch) (*models.MonitorStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitor == nil {
		s.monitor = &models.MonitorStatus{}
	}
	if patch.IsRunning != nil {
		s.monitor.IsRunning = *patch.IsRunning
	}
	if patch.LastStarted != nil {
		s.monitor.LastStarted = patch.LastStarted
	}
	if patch.LastStopped != nil {
		s.monitor.LastStopped = patch.LastStopped
	}
	if patch.ClearLastError {
		s.monitor.LastError = nil
	} else if patch.LastError != nil {
		s.monitor.LastError = patch.LastError
	}
	if patch.EmailsProcessed != nil {
		s.monitor.EmailsProcessed = *patch.EmailsProcessed
	}
	s.monitor.UpdatedAt = time.Now().UTC()
	st := *s.monitor
	return &st, s.save(fileMonitorStatus, s.monitor)
}
