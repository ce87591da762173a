// Package config loads the service configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/recalld/recalld/internal/model"
)

// Config is the full service configuration. API keys are never stored here,
// only the names of the environment variables that hold them.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	Namespace string `yaml:"namespace"`

	Watcher    WatcherConfig    `yaml:"watcher"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Recall     RecallConfig     `yaml:"recall"`
	Remote     RemoteConfig     `yaml:"remote"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// WatcherConfig controls the background polling loop.
type WatcherConfig struct {
	Dir                   string `yaml:"dir"`
	IntervalSeconds       int    `yaml:"interval_seconds"`
	BatchTimeoutSeconds   int    `yaml:"batch_timeout_seconds"`
	MaxEntries            int    `yaml:"max_entries"`
	MaxTokens             int    `yaml:"max_tokens"`
	BackoffInitialSeconds int    `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds     int    `yaml:"backoff_max_seconds"`
}

func (w WatcherConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

func (w WatcherConfig) BatchTimeout() time.Duration {
	return time.Duration(w.BatchTimeoutSeconds) * time.Second
}

func (w WatcherConfig) BackoffInitial() time.Duration {
	return time.Duration(w.BackoffInitialSeconds) * time.Second
}

func (w WatcherConfig) BackoffMax() time.Duration {
	return time.Duration(w.BackoffMaxSeconds) * time.Second
}

// SummarizerConfig selects the insight-extraction model.
type SummarizerConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey resolves the key from the configured environment variable.
func (s SummarizerConfig) APIKey() string {
	return os.Getenv(s.APIKeyEnv)
}

// EmbeddingConfig selects the embedding provider. An empty provider disables
// the vector tier entirely.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dims      int    `yaml:"dims"`
}

func (e EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// RecallConfig holds the tiered-search policy knobs.
type RecallConfig struct {
	MinSimilarity  float64 `yaml:"min_similarity"`
	HalfLifeHours  int     `yaml:"half_life_hours"`
	TagBoost       float64 `yaml:"tag_boost"`
	Limit          int     `yaml:"limit"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

func (r RecallConfig) HalfLife() time.Duration {
	return time.Duration(r.HalfLifeHours) * time.Hour
}

func (r RecallConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// RemoteConfig points at the fallback semantic-memory service. An empty base
// URL disables the remote tier.
type RemoteConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

func (r RemoteConfig) APIKey() string {
	return os.Getenv(r.APIKeyEnv)
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".recalld")
	return Config{
		DataDir:   dataDir,
		Namespace: model.NamespacePersonal,
		Watcher: WatcherConfig{
			Dir:                   filepath.Join(dataDir, "logs"),
			IntervalSeconds:       30,
			BatchTimeoutSeconds:   60,
			MaxEntries:            50,
			MaxTokens:             6000,
			BackoffInitialSeconds: 2,
			BackoffMaxSeconds:     300,
		},
		Summarizer: SummarizerConfig{
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Embedding: EmbeddingConfig{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Recall: RecallConfig{
			MinSimilarity:  0.60,
			HalfLifeHours:  720,
			TagBoost:       1.25,
			Limit:          10,
			TimeoutSeconds: 10,
		},
		Remote: RemoteConfig{
			APIKeyEnv: "RECALLD_REMOTE_API_KEY",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a yaml config file over the defaults. An empty path or a missing
// file yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !model.ValidNamespaces[c.Namespace] {
		return fmt.Errorf("config: unknown namespace %q", c.Namespace)
	}
	if c.Recall.MinSimilarity < 0 || c.Recall.MinSimilarity > 1 {
		return fmt.Errorf("config: min_similarity %v out of range", c.Recall.MinSimilarity)
	}
	return nil
}
