// Package models defines the record kinds persisted by the Wellscope
// dashboard and the payload shapes exchanged with external workers.
package models

import "time"

// ── Agent configuration ──────────────────────────────────────

// Default LLM backend used until the operator configures one.
const (
	DefaultProvider = "ollama"
	DefaultModel    = "llama3.2:1b"
	DefaultEndpoint = "http://localhost:11434"
)

// AgentConfig is the singleton LLM backend configuration. It is created
// lazily with defaults on first read and never deleted.
type AgentConfig struct {
	ID          string     `json:"id"`
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`
	EndpointURL string     `json:"endpointUrl"`
	IsConnected bool       `json:"isConnected"`
	LastTested  *time.Time `json:"lastTested,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// AgentConfigPatch carries the fields an update may change. Nil fields are
// left untouched by the store's merge.
type AgentConfigPatch struct {
	Provider    *string    `json:"provider,omitempty"`
	Model       *string    `json:"model,omitempty"`
	EndpointURL *string    `json:"endpointUrl,omitempty"`
	IsConnected *bool      `json:"isConnected,omitempty"`
	LastTested  *time.Time `json:"lastTested,omitempty"`
}

// ── Chat ─────────────────────────────────────────────────────

type ChatRole string

const (
	RoleUser   ChatRole = "user"
	RoleAgent  ChatRole = "agent"
	RoleSystem ChatRole = "system"
)

// ChatMessage is one turn of the dashboard conversation. Append-only,
// listed ascending by timestamp. Metadata is opaque to the store (thinking
// steps, generated files, tool usage flags).
type ChatMessage struct {
	ID        string         `json:"id"`
	Role      ChatRole       `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ── Files ────────────────────────────────────────────────────

type FileSource string

const (
	SourceManual FileSource = "manual"
	SourceUpload FileSource = "upload"
)

// LasFile is a well-log file known to the dashboard. Inserts are
// idempotent on (Filename, Filepath).
type LasFile struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	Filepath  string     `json:"filepath"`
	Size      string     `json:"size"`
	Source    FileSource `json:"source"`
	Processed bool       `json:"processed"`
	CreatedAt time.Time  `json:"createdAt"`
}

type LasFilePatch struct {
	Processed *bool `json:"processed,omitempty"`
}

type OutputType string

const (
	OutputPlot     OutputType = "plot"
	OutputReport   OutputType = "report"
	OutputAnalysis OutputType = "analysis"
)

// OutputFile is a worker-generated artifact (plot image, report, analysis
// text). LasFileID is a weak reference: the LasFile may have been deleted.
// Inserts are idempotent on (Filename, Filepath).
type OutputFile struct {
	ID        string     `json:"id"`
	Filename  string     `json:"filename"`
	Filepath  string     `json:"filepath"`
	FileType  OutputType `json:"fileType"`
	LasFileID string     `json:"lasFileId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ── Email ────────────────────────────────────────────────────

// Reply states driven by the processing pipeline. The status-update
// endpoint accepts only these values; any transition among them is legal
// (the inbox monitor may re-open a completed thread).
const (
	ReplyPending   = "pending"
	ReplyReplied   = "replied"
	ReplyCompleted = "completed"
)

// KnownReplyStatus reports whether s is one of the reply states the
// pipeline produces.
func KnownReplyStatus(s string) bool {
	return s == ReplyPending || s == ReplyReplied || s == ReplyCompleted
}

// Email is an inbound message captured by the inbox monitor. The ID comes
// from the mail source (IMAP UID), not the store.
type Email struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attachments []string  `json:"attachments,omitempty"`
	ReplyStatus string    `json:"replyStatus"`
	CreatedAt   time.Time `json:"createdAt"`
}

type EmailPatch struct {
	ReplyStatus *string `json:"replyStatus,omitempty"`
}

// ── Monitor status ───────────────────────────────────────────

// MonitorStatus is the singleton state of the inbox monitor. The
// supervisor writes lifecycle transitions; the monitor process itself
// reports progress back through the status endpoint.
type MonitorStatus struct {
	IsRunning       bool       `json:"isRunning"`
	LastStarted     *time.Time `json:"lastStarted,omitempty"`
	LastStopped     *time.Time `json:"lastStopped,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	EmailsProcessed int        `json:"emailsProcessed"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type MonitorStatusPatch struct {
	IsRunning       *bool      `json:"isRunning,omitempty"`
	LastStarted     *time.Time `json:"lastStarted,omitempty"`
	LastStopped     *time.Time `json:"lastStopped,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
	ClearLastError  bool       `json:"-"`
	EmailsProcessed *int       `json:"emailsProcessed,omitempty"`
}
