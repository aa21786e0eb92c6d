package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quietfold/enigma"
)

// Duration wraps time.Duration with YAML string parsing ("500ms", "2m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the YAML run configuration.
type Config struct {
	Provider struct {
		Name      string   `yaml:"name"`        // mock | anthropic | gemini
		Model     string   `yaml:"model"`       // provider model id
		APIKeyEnv string   `yaml:"api_key_env"` // env var holding the credential
		BaseURL   string   `yaml:"base_url"`
		Timeout   Duration `yaml:"timeout"`
	} `yaml:"provider"`

	Invoker struct {
		MaxCallAttempts int      `yaml:"max_call_attempts"`
		BaseDelay       Duration `yaml:"base_delay"`
		MaxDelay        Duration `yaml:"max_delay"`
		CallTimeout     Duration `yaml:"call_timeout"`
		RequestDelay    Duration `yaml:"request_delay"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"invoker"`

	Pipeline struct {
		MaxStageAttempts int      `yaml:"max_stage_attempts"`
		SkipAnswerCheck  bool     `yaml:"skip_answer_check"`
		Temperature      float32  `yaml:"temperature"`
		MaxTokens        int      `yaml:"max_tokens"`
		FigurePhrases    []string `yaml:"figure_phrases"`
	} `yaml:"pipeline"`

	Batch struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"batch"`

	Output struct {
		Dataset  string `yaml:"dataset"`
		Failures string `yaml:"failures"`
	} `yaml:"output"`

	Fingerprint *enigma.FingerprintPolicy `yaml:"fingerprint"`
}

// DefaultConfig mirrors the tuning of the original collection runs.
func DefaultConfig() Config {
	var cfg Config
	cfg.Provider.Name = "mock"
	cfg.Provider.APIKeyEnv = "ANTHROPIC_API_KEY"
	cfg.Provider.Timeout = Duration(120 * time.Second)
	cfg.Invoker.MaxCallAttempts = enigma.DefaultMaxCallAttempts
	cfg.Invoker.BaseDelay = Duration(enigma.DefaultBaseDelay)
	cfg.Invoker.MaxDelay = Duration(enigma.DefaultMaxDelay)
	cfg.Invoker.CallTimeout = Duration(120 * time.Second)
	cfg.Invoker.RequestDelay = Duration(500 * time.Millisecond)
	cfg.Pipeline.MaxStageAttempts = enigma.DefaultMaxStageAttempts
	cfg.Batch.Concurrency = enigma.DefaultConcurrency
	cfg.Output.Dataset = "data/dataset.jsonl"
	cfg.Output.Failures = "data/failures.jsonl"
	return cfg
}

// LoadConfig reads the YAML config at path, or returns defaults when path
// is empty. File values override defaults field by field.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Policy returns the configured fingerprint policy, defaulting to
// question + options + answer.
func (c Config) Policy() enigma.FingerprintPolicy {
	if c.Fingerprint != nil {
		return *c.Fingerprint
	}
	return enigma.DefaultFingerprintPolicy()
}
