// Package config loads runsheet configuration from YAML with environment
// overrides, and manages the encrypted secrets file holding API keys.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"runsheet/pkg/resilience/circuit"
	"runsheet/pkg/resilience/retry"
)

// Provider names accepted in LLMConfig.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Secret names looked up per provider.
const (
	SecretAnthropicAPIKey = "ANTHROPIC_API_KEY"
	SecretGoogleAPIKey    = "GEMINI_API_KEY"
	SecretOpenAIAPIKey    = "OPENAI_API_KEY"
)

// Duration accepts "30s" style strings and plain nanosecond integers in
// YAML documents.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LLMConfig selects and tunes the generation backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"` // openai-compatible endpoints
	Host        string  `yaml:"host"`     // ollama server
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// CircuitConfig tunes the generation backend's circuit breaker.
type CircuitConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int      `yaml:"half_open_max_calls"`
}

// Breaker converts to the resilience package's config type.
func (c CircuitConfig) Breaker() circuit.Config {
	return circuit.Config{
		FailureThreshold: c.FailureThreshold,
		RecoveryTimeout:  c.RecoveryTimeout.Std(),
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
	}
}

// RetryConfig tunes the retry executor for non-streaming operations.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialDelay    Duration `yaml:"initial_delay"`
	ExponentialBase float64  `yaml:"exponential_base"`
	MaxDelay        Duration `yaml:"max_delay"`
}

// Policy converts the settings into a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialDelay:    c.InitialDelay.Std(),
		ExponentialBase: c.ExponentialBase,
		MaxDelay:        c.MaxDelay.Std(),
	}
}

// ResilienceConfig groups the failure-handling settings.
type ResilienceConfig struct {
	Circuit CircuitConfig `yaml:"circuit"`
	Retry   RetryConfig   `yaml:"retry"`
}

// SessionConfig tunes conversation persistence.
type SessionConfig struct {
	DBPath string   `yaml:"db_path"`
	TTL    Duration `yaml:"ttl"`
}

// TelemetryConfig tunes metrics recording and querying.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PrometheusURL string `yaml:"prometheus_url"`
}

// ChatConfig tunes the streaming orchestrator.
type ChatConfig struct {
	MaxRetries   int      `yaml:"max_retries"`
	RetryDelay   Duration `yaml:"retry_delay"`
	SystemPrompt string   `yaml:"system_prompt"`
}

// Config is the root configuration document.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Session    SessionConfig    `yaml:"session"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Chat       ChatConfig       `yaml:"chat"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    ProviderAnthropic,
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Resilience: ResilienceConfig{
			Circuit: CircuitConfig{
				FailureThreshold: circuit.DefaultConfig.FailureThreshold,
				RecoveryTimeout:  Duration(circuit.DefaultConfig.RecoveryTimeout),
				HalfOpenMaxCalls: circuit.DefaultConfig.HalfOpenMaxCalls,
			},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialDelay:    Duration(time.Second),
				ExponentialBase: 2.0,
			},
		},
		Session: SessionConfig{
			DBPath: "runsheet.db",
			TTL:    Duration(24 * time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			PrometheusURL: "http://localhost:9090",
		},
		Chat: ChatConfig{
			MaxRetries: 3,
			RetryDelay: Duration(time.Second),
		},
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults for anything unset. A missing file is not an error. Selected
// environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RUNSHEET_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RUNSHEET_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("RUNSHEET_DB_PATH"); v != "" {
		c.Session.DBPath = v
	}
	if v := os.Getenv("RUNSHEET_PROMETHEUS_URL"); v != "" {
		c.Telemetry.PrometheusURL = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && c.LLM.Host == "" {
		c.LLM.Host = v
	}
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGoogle, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model must be set")
	}
	return nil
}

// APIKeySecret returns the secret name holding the provider's API key,
// or empty when the provider needs none.
func (c *Config) APIKeySecret() string {
	switch c.LLM.Provider {
	case ProviderAnthropic:
		return SecretAnthropicAPIKey
	case ProviderGoogle:
		return SecretGoogleAPIKey
	case ProviderOpenAI:
		return SecretOpenAIAPIKey
	default:
		return ""
	}
}
