package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"talkwise/pkg/audio"
)

// ValidProviderNames lists the provider names the daemon knows how to build,
// per capability. "mock" is accepted everywhere for offline testing.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "deepgram", "openai", "mock"},
	"llm":        {"openai", "anthropic", "gemini", "ollama", "mock"},
	"embeddings": {"openai", "mock"},
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses and validates a YAML configuration. Unknown fields
// are rejected so typos surface at startup instead of silently using
// defaults. The returned config has all defaults applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(&cfg)
	expandSecrets(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1:8750"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Recording.Source == "" {
		cfg.Recording.Source = string(audio.SourceMic)
	}
	if cfg.Recording.SampleRate == 0 {
		cfg.Recording.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Recording.MicGain == 0 {
		cfg.Recording.MicGain = 1.0
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = HistorySQLite
	}
	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = "talkwise.db"
	}
	if cfg.Schedule.ReminderLead == 0 {
		cfg.Schedule.ReminderLead = Duration(24 * time.Hour)
	}
	if cfg.Schedule.CheckInterval == 0 {
		cfg.Schedule.CheckInterval = Duration(30 * time.Second)
	}
}

// expandSecrets resolves ${VAR} references in credential fields so API keys
// and connection strings can stay out of the config file.
func expandSecrets(cfg *Config) {
	cfg.Providers.STT.APIKey = os.ExpandEnv(cfg.Providers.STT.APIKey)
	cfg.Providers.LLM.APIKey = os.ExpandEnv(cfg.Providers.LLM.APIKey)
	cfg.Providers.Embeddings.APIKey = os.ExpandEnv(cfg.Providers.Embeddings.APIKey)
	cfg.History.PostgresDSN = os.ExpandEnv(cfg.History.PostgresDSN)
}

// Validate checks cfg for configurations that cannot work. It returns all
// problems joined into one error; advisory findings are logged as warnings
// instead.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", cfg.Server.LogLevel))
	}
	if host, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr %q: %w", cfg.Server.ListenAddr, err))
	} else if host != "127.0.0.1" && host != "localhost" && host != "::1" {
		slog.Warn("HTTP API has no authentication; binding beyond loopback exposes it to the network",
			"listen_addr", cfg.Server.ListenAddr)
	}

	errs = append(errs, validateProviders(&cfg.Providers)...)
	errs = append(errs, validateRecording(&cfg.Recording)...)
	errs = append(errs, validateHistory(&cfg.History)...)

	if cfg.Schedule.ReminderLead < 0 {
		errs = append(errs, fmt.Errorf("schedule.reminder_lead must not be negative, got %s", cfg.Schedule.ReminderLead))
	}
	if cfg.Schedule.CheckInterval.Std() < time.Second {
		errs = append(errs, fmt.Errorf("schedule.check_interval must be at least 1s, got %s", cfg.Schedule.CheckInterval))
	}

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; recording is disabled")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; summarization is disabled")
	}
	if cfg.History.Backend == HistoryPostgres && cfg.Providers.Embeddings.Name == "" {
		slog.Warn("postgres history without an embeddings provider; search falls back to text matching")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func validateProviders(p *ProvidersConfig) []error {
	var errs []error

	check := func(kind string, entry ProviderEntry) {
		if entry.Name == "" {
			return
		}
		if !slices.Contains(ValidProviderNames[kind], entry.Name) {
			errs = append(errs, fmt.Errorf("providers.%s.name %q is unknown (valid: %s)",
				kind, entry.Name, strings.Join(ValidProviderNames[kind], ", ")))
			return
		}
		switch {
		case entry.Name == "whisper" && entry.BaseURL == "":
			errs = append(errs, fmt.Errorf("providers.%s: whisper needs base_url pointing at a whisper server", kind))
		case needsAPIKey(entry.Name) && entry.APIKey == "":
			errs = append(errs, fmt.Errorf("providers.%s: %s needs api_key", kind, entry.Name))
		}
	}

	check("stt", p.STT)
	check("llm", p.LLM)
	check("embeddings", p.Embeddings)
	return errs
}

// needsAPIKey reports whether the named provider authenticates with a key.
// Local providers (whisper server, ollama, mock) do not.
func needsAPIKey(name string) bool {
	switch name {
	case "whisper", "ollama", "mock":
		return false
	}
	return true
}

func validateRecording(rc *RecordingConfig) []error {
	var errs []error

	if !audio.Source(rc.Source).Valid() {
		errs = append(errs, fmt.Errorf("recording.source %q is not one of mic, system, mixed", rc.Source))
	}
	if rc.SampleRate < 8000 || rc.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("recording.sample_rate must be between 8000 and 48000, got %d", rc.SampleRate))
	} else if rc.SampleRate != audio.DefaultSampleRate {
		slog.Warn("non-standard sample rate; speech providers expect 16 kHz", "sample_rate", rc.SampleRate)
	}
	if rc.MicGain <= 0 || rc.MicGain > 4 {
		errs = append(errs, fmt.Errorf("recording.mic_gain must be in (0, 4], got %g", rc.MicGain))
	}
	return errs
}

func validateHistory(hc *HistoryConfig) []error {
	var errs []error

	if !hc.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is not one of sqlite, postgres", hc.Backend))
		return errs
	}
	if hc.Backend == HistoryPostgres && hc.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required for the postgres backend"))
	}
	return errs
}
