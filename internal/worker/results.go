package worker

// Tagged result shapes, one per worker action, decoded once at the invoker
// boundary instead of re-interpreted ad hoc by each caller. Field names
// mirror the worker scripts' JSON output.

// GeneratedFile describes an artifact a worker wrote to the output
// directory during a chat turn or enhanced processing.
type GeneratedFile struct {
	Filename       string `json:"filename"`
	Filepath       string `json:"filepath"`
	Type           string `json:"type,omitempty"`
	RelatedLasFile string `json:"relatedLasFile,omitempty"`
}

// ChatResult is the agent worker's answer to one chat turn.
type ChatResult struct {
	Content        string           `json:"content"`
	ThinkingSteps  []map[string]any `json:"thinking_steps,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	GeneratedFiles []GeneratedFile  `json:"generated_files,omitempty"`
}

// GenerationResult is the email worker's answer to a reply-generation
// request.
type GenerationResult struct {
	Success  bool           `json:"success"`
	Response string         `json:"response"`
	Analysis map[string]any `json:"analysis,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// SendResult is the email worker's answer to a send-reply request.
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Subject string `json:"subject,omitempty"`
	SentAt  string `json:"sent_at,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EnhancedResult is the attachment-aware processor's answer, carrying any
// plot files it generated alongside the reply text.
type EnhancedResult struct {
	Success        bool            `json:"success"`
	Response       string          `json:"response"`
	GeneratedFiles []GeneratedFile `json:"generated_files,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Error          string          `json:"error,omitempty"`
}
