// Package config defines the daemon configuration file format and its
// loading, validation and provider-construction helpers.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that unmarshals from Go duration strings
// such as "30s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls the minimum severity of emitted log records.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is one of the known log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding [slog.Level]. Unknown values map to
// info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// HistoryBackend selects the storage engine for archived recordings.
type HistoryBackend string

const (
	// HistorySQLite stores history in a local SQLite file. No external
	// services required; search is fuzzy text matching.
	HistorySQLite HistoryBackend = "sqlite"

	// HistoryPostgres stores history in PostgreSQL with pgvector, enabling
	// semantic search when an embeddings provider is configured.
	HistoryPostgres HistoryBackend = "postgres"
)

// IsValid reports whether b is one of the known history backends.
func (b HistoryBackend) IsValid() bool {
	switch b {
	case HistorySQLite, HistoryPostgres:
		return true
	}
	return false
}

// Config is the root of the YAML configuration file.
type Config struct {
	// Server holds HTTP listener settings.
	Server ServerConfig `yaml:"server"`

	// Providers selects the external services used for transcription,
	// summarization and embeddings.
	Providers ProvidersConfig `yaml:"providers"`

	// Recording holds audio capture settings.
	Recording RecordingConfig `yaml:"recording"`

	// History selects and configures the archive storage backend.
	History HistoryConfig `yaml:"history"`

	// Schedule tunes the upcoming-meeting reminder loop.
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the address the HTTP API binds to. Defaults to
	// "127.0.0.1:8750"; the API has no authentication, so binding to
	// anything but loopback is reported as a warning.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is the minimum log severity: debug, info, warn or error.
	// Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry configures one external provider.
type ProviderEntry struct {
	// Name selects the provider implementation, e.g. "whisper" or "openai".
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers. Values of the form
	// ${VAR} are expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint. Required for "whisper"
	// (the whisper-server address), optional elsewhere.
	BaseURL string `yaml:"base_url"`

	// Model names the model to use, where the provider supports a choice.
	Model string `yaml:"model"`

	// Options carries provider-specific tuning knobs.
	Options map[string]string `yaml:"options"`
}

// ProvidersConfig selects the provider for each capability. STT is required
// for recording; LLM and Embeddings are optional and disable summarization
// respectively semantic search when absent.
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// RecordingConfig holds audio capture settings.
type RecordingConfig struct {
	// Source selects what to capture: "mic", "system" or "mixed".
	// Defaults to mic. The value is the default for sessions started
	// without an explicit source.
	Source string `yaml:"source"`

	// DeviceID pins capture to a specific device. Empty selects the
	// platform default.
	DeviceID string `yaml:"device_id"`

	// SampleRate is the capture rate in Hz. Defaults to 16000, which is
	// what the speech providers expect.
	SampleRate int `yaml:"sample_rate"`

	// MicGain scales microphone samples before mixing, 0 < gain <= 4.
	// Defaults to 1.0.
	MicGain float64 `yaml:"mic_gain"`

	// Language hints the recognition language as a BCP-47 tag, e.g.
	// "de-DE". Empty lets the provider auto-detect.
	Language string `yaml:"language"`
}

// HistoryConfig selects and configures the archive storage backend.
type HistoryConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend HistoryBackend `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend. Defaults to
	// "talkwise.db".
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres backend.
	// Values of the form ${VAR} are expanded from the environment.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScheduleConfig tunes the upcoming-meeting reminder loop.
type ScheduleConfig struct {
	// ReminderLead is how long before a meeting starts its reminder fires.
	// Defaults to 24h.
	ReminderLead Duration `yaml:"reminder_lead"`

	// CheckInterval is how often due schedules are polled. Defaults to 30s.
	CheckInterval Duration `yaml:"check_interval"`
}
