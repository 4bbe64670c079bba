package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the Wellscope dashboard server.
type Config struct {
	Port    int
	Version string

	// DataDir holds the JSON collection files.
	DataDir string

	// Directories observed by the ingestion watcher and served over the
	// files API.
	LasDir         string
	OutputDir      string
	AttachmentsDir string

	Workers   WorkerConfig
	Mail      MailCredentials
	Telemetry TelemetryConfig
}

// WorkerConfig locates the external worker scripts and the interpreter
// that runs them.
type WorkerConfig struct {
	Python         string
	AgentScript    string // chat turns + connection tests
	EmailScript    string // reply generation + sending
	EnhancedScript string // attachment-aware processing with plot output
	MonitorScript  string // long-running inbox monitor
}

// MailCredentials is built once at startup and handed to worker call
// sites; workers receive it as environment overrides. Nothing re-reads
// the process environment per call.
type MailCredentials struct {
	User     string
	Password string
	SMTPHost string
	SMTPPort int
	IMAPHost string
}

// Env renders the credentials as worker environment overrides. Empty
// fields are omitted so the worker's own defaults apply.
func (m MailCredentials) Env() map[string]string {
	env := map[string]string{}
	if m.User != "" {
		env["EMAIL_USER"] = m.User
	}
	if m.Password != "" {
		env["EMAIL_PASSWORD"] = m.Password
	}
	if m.SMTPHost != "" {
		env["SMTP_SERVER"] = m.SMTPHost
	}
	if m.SMTPPort > 0 {
		env["SMTP_PORT"] = strconv.Itoa(m.SMTPPort)
	}
	if m.IMAPHost != "" {
		env["IMAP_SERVER"] = m.IMAPHost
	}
	return env
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	dataDir := envStr("WELLSCOPE_DATA_DIR", "data")
	scriptDir := envStr("WELLSCOPE_SCRIPT_DIR", "scripts")
	return &Config{
		Port:           envInt("WELLSCOPE_PORT", 5000),
		Version:        envStr("WELLSCOPE_VERSION", "0.4.0"),
		DataDir:        dataDir,
		LasDir:         envStr("WELLSCOPE_LAS_DIR", "well-logs"),
		OutputDir:      envStr("WELLSCOPE_OUTPUT_DIR", "output"),
		AttachmentsDir: envStr("WELLSCOPE_ATTACHMENTS_DIR", "attachments"),
		Workers: WorkerConfig{
			Python:         envStr("WELLSCOPE_PYTHON", "python3"),
			AgentScript:    envStr("WELLSCOPE_AGENT_SCRIPT", filepath.Join(scriptDir, "langchain-agent.py")),
			EmailScript:    envStr("WELLSCOPE_EMAIL_SCRIPT", filepath.Join(scriptDir, "email-agent.py")),
			EnhancedScript: envStr("WELLSCOPE_ENHANCED_SCRIPT", filepath.Join(scriptDir, "email_processor.py")),
			MonitorScript:  envStr("WELLSCOPE_MONITOR_SCRIPT", filepath.Join(scriptDir, "email_monitor.py")),
		},
		Mail: MailCredentials{
			User:     envStr("EMAIL_USER", ""),
			Password: envStr("EMAIL_PASSWORD", ""),
			SMTPHost: envStr("SMTP_SERVER", "smtp.gmail.com"),
			SMTPPort: envInt("SMTP_PORT", 587),
			IMAPHost: envStr("IMAP_SERVER", "imap.gmail.com"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "wellscope-dashboard"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
