// Package config provides configuration loading and validation for the workflow engine.
//
// Configuration is read from an optional YAML file, then overridden by
// environment variables, then validated. Callers receive the Config by value;
// nothing mutates it after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBackendURL is used when no backend address is configured.
	DefaultBackendURL = "http://localhost:3000"

	// DefaultRequestTimeout bounds every remote generation call. The backend
	// contract prescribes no timeout, so we impose one here.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMinExchanges is the minimum number of user/assistant exchanges
	// before the chat stage may be judged complete.
	DefaultMinExchanges = 4

	// DefaultMaxQuestions caps the clarifying-question sequence; the reply to
	// the final question is flagged final regardless of backend markers.
	DefaultMaxQuestions = 5

	// DefaultMaxContextTokens bounds the transcript before each send.
	DefaultMaxContextTokens = 8000

	// DefaultPersonaCount is how many candidate personas to request.
	DefaultPersonaCount = 6
)

// BackendConfig addresses the remote generation service.
type BackendConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"` // Go duration string, e.g. "30s"
}

// ChatConfig controls the information-gathering guard of the chat stage.
type ChatConfig struct {
	MinExchanges int `yaml:"min_exchanges"`
	MaxQuestions int `yaml:"max_questions"`
}

// PersonaConfig parameterizes persona generation requests.
type PersonaConfig struct {
	Count    int    `yaml:"count"`
	Platform string `yaml:"platform"`
	Tone     string `yaml:"tone"`
}

// TranscriptConfig bounds conversation context size.
type TranscriptConfig struct {
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// MetricsConfig controls the Prometheus exposition endpoint and the optional
// query-back address used for per-session usage summaries.
type MetricsConfig struct {
	Addr          string `yaml:"addr"`           // empty disables the endpoint
	PrometheusURL string `yaml:"prometheus_url"` // empty disables usage summaries
}

// StorageConfig locates the run audit database.
type StorageConfig struct {
	EventDBPath string `yaml:"event_db_path"` // empty disables the audit log
}

// Config is the full engine configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Chat       ChatConfig       `yaml:"chat"`
	Personas   PersonaConfig    `yaml:"personas"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Storage    StorageConfig    `yaml:"storage"`
}

// Default returns a Config populated with built-in defaults.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			RequestTimeout: DefaultRequestTimeout.String(),
		},
		Chat: ChatConfig{
			MinExchanges: DefaultMinExchanges,
			MaxQuestions: DefaultMaxQuestions,
		},
		Personas: PersonaConfig{
			Count:    DefaultPersonaCount,
			Platform: "tiktok",
			Tone:     "casual",
		},
		Transcript: TranscriptConfig{
			MaxContextTokens: DefaultMaxContextTokens,
		},
	}
}

// Load reads the YAML file at path (if path is non-empty), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		cfg.Backend.RequestTimeout = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("PROMETHEUS_URL"); v != "" {
		cfg.Metrics.PrometheusURL = v
	}
	if v := os.Getenv("EVENT_DB_PATH"); v != "" {
		cfg.Storage.EventDBPath = v
	}
	if v := os.Getenv("CHAT_MIN_EXCHANGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chat.MinExchanges = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	if _, err := time.ParseDuration(c.Backend.RequestTimeout); err != nil {
		return fmt.Errorf("backend.request_timeout %q is not a valid duration: %w", c.Backend.RequestTimeout, err)
	}
	if c.Chat.MinExchanges < 1 {
		return fmt.Errorf("chat.min_exchanges must be at least 1, got %d", c.Chat.MinExchanges)
	}
	if c.Chat.MaxQuestions < c.Chat.MinExchanges {
		return fmt.Errorf("chat.max_questions (%d) must not be below chat.min_exchanges (%d)",
			c.Chat.MaxQuestions, c.Chat.MinExchanges)
	}
	if c.Personas.Count < 1 {
		return fmt.Errorf("personas.count must be at least 1, got %d", c.Personas.Count)
	}
	if c.Transcript.MaxContextTokens < 1 {
		return fmt.Errorf("transcript.max_context_tokens must be positive, got %d", c.Transcript.MaxContextTokens)
	}
	return nil
}

// RequestTimeoutDuration returns the parsed backend request timeout.
// Validate guarantees the string parses; the fallback covers zero-value Configs.
func (c *Config) RequestTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Backend.RequestTimeout)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}
