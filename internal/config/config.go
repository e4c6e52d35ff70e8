// Package config provides unified configuration loading for screentrail.
// It supports loading from YAML files and environment variables. The loaded
// Config is built once at process start and passed by parameter; no other
// component reads ambient environment state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a fatal configuration problem: a missing required
// credential or an invalid setting. It is never retried.
var ErrConfiguration = errors.New("configuration error")

// Config contains all screentrail settings.
type Config struct {
	// Inference configures the external description/decision service.
	Inference InferenceConfig `json:"inference" yaml:"inference"`

	// Build configures the screen graph builder.
	Build BuildConfig `json:"build" yaml:"build"`

	// Simulation configures individual traversal runs.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Batch configures the per-persona batch orchestrator.
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Logging configures operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// InferenceConfig configures the external inference client.
type InferenceConfig struct {
	// Provider identifies the backend: "anthropic" or "openai".
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider. Supports ${VAR} syntax.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL overrides the provider's API endpoint.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier to use for requests.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the per-call budget for a single service request.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxAttempts bounds retries of a failing service call.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`

	// BackoffBase is the initial delay between retries; it roughly
	// doubles per attempt.
	BackoffBase time.Duration `json:"backoff_base,omitempty" yaml:"backoff_base,omitempty"`

	// RequestsPerSec and Burst bound the request rate shared by all
	// concurrently executing runs hitting the service.
	RequestsPerSec float64 `json:"requests_per_sec,omitempty" yaml:"requests_per_sec,omitempty"`
	Burst          int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// RedactedAPIKey returns the API key with most characters masked.
// Shows first 4 and last 4 characters, e.g. "sk-a...xyz9".
func (c InferenceConfig) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// String implements fmt.Stringer to prevent accidental API key logging.
func (c InferenceConfig) String() string {
	return fmt.Sprintf("InferenceConfig{Provider:%s, APIKey:%s, Model:%s}",
		c.Provider, c.RedactedAPIKey(), c.Model)
}

// BuildConfig configures the screen graph builder.
type BuildConfig struct {
	// StartID is the id assigned to the first screen node.
	StartID int `json:"start_id" yaml:"start_id"`
}

// SimulationConfig configures traversal runs.
type SimulationConfig struct {
	// MaxMinutes is the default wall-clock budget for one run.
	MaxMinutes float64 `json:"max_minutes,omitempty" yaml:"max_minutes,omitempty"`

	// MaxSteps is the hard step cap guarding against runaway loops,
	// enforced independently of the time budget.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

// BatchConfig configures the batch orchestrator.
type BatchConfig struct {
	// Workers bounds how many persona runs execute concurrently.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// RunTimeout is an external per-run cancellation bound, distinct from
	// the run's internal time budget, guaranteeing forward progress even
	// if a stuck external call bypasses the in-run check.
	RunTimeout time.Duration `json:"run_timeout,omitempty" yaml:"run_timeout,omitempty"`
}

// LoggingConfig configures screentrail's logging behavior.
type LoggingConfig struct {
	// Level sets verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to <run>/decisions.jsonl.
	// "trace" additionally includes full prompt/response content.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Inference: InferenceConfig{
			Provider:       "anthropic",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			BackoffBase:    500 * time.Millisecond,
			RequestsPerSec: 2,
			Burst:          4,
		},
		Build: BuildConfig{
			StartID: 1,
		},
		Simulation: SimulationConfig{
			MaxMinutes: 5,
			MaxSteps:   50,
		},
		Batch: BatchConfig{
			Workers:    4,
			RunTimeout: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment
// variables. Order: defaults -> ~/.screentrail/config.yaml -> environment.
func Load() (*Config, error) {
	cfg := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(homeDir, ".screentrail", "config.yaml")
		if _, statErr := os.Stat(path); statErr == nil {
			fileCfg, loadErr := LoadFromFile(path)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			cfg = fileCfg
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file.
// Environment overrides are still applied on top of the file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %v", ErrConfiguration, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", ErrConfiguration, err)
	}

	cfg.Inference.APIKey = expandEnvVars(cfg.Inference.APIKey)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	validProviders := map[string]bool{"anthropic": true, "openai": true}
	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("%w: invalid provider: %s (valid: anthropic, openai)",
			ErrConfiguration, c.Inference.Provider)
	}

	if c.Inference.Timeout < 0 {
		return fmt.Errorf("%w: timeout must be non-negative, got %v", ErrConfiguration, c.Inference.Timeout)
	}
	if c.Inference.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d", ErrConfiguration, c.Inference.MaxAttempts)
	}
	if c.Inference.RequestsPerSec <= 0 {
		return fmt.Errorf("%w: requests_per_sec must be positive, got %f", ErrConfiguration, c.Inference.RequestsPerSec)
	}

	if c.Simulation.MaxSteps < 1 {
		return fmt.Errorf("%w: max_steps must be at least 1, got %d", ErrConfiguration, c.Simulation.MaxSteps)
	}
	if c.Simulation.MaxMinutes <= 0 {
		return fmt.Errorf("%w: max_minutes must be positive, got %f", ErrConfiguration, c.Simulation.MaxMinutes)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrConfiguration, c.Batch.Workers)
	}

	validLevels := map[string]bool{"": true, "info": true, "debug": true, "trace": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level: %s (valid: info, debug, trace)",
			ErrConfiguration, c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCREENTRAIL_PROVIDER"); v != "" {
		cfg.Inference.Provider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.Inference.Provider == "anthropic" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Inference.Provider == "openai" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("SCREENTRAIL_MODEL"); v != "" {
		cfg.Inference.Model = v
	}
	if v := os.Getenv("SCREENTRAIL_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("SCREENTRAIL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.Workers = n
		}
	}
	if v := os.Getenv("SCREENTRAIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
