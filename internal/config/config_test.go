package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "personal" {
		t.Errorf("default namespace should be personal, got %q", cfg.Namespace)
	}
	if cfg.Watcher.Interval() != 30*time.Second {
		t.Errorf("default interval should be 30s, got %v", cfg.Watcher.Interval())
	}
	if cfg.Recall.MinSimilarity != 0.60 {
		t.Errorf("default min_similarity should be 0.60, got %v", cfg.Recall.MinSimilarity)
	}
	if cfg.Recall.HalfLife() != 720*time.Hour {
		t.Errorf("default half-life should be 720h, got %v", cfg.Recall.HalfLife())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
namespace: team
watcher:
  interval_seconds: 5
recall:
  min_similarity: 0.75
  limit: 3
embedding:
  provider: ollama
  model: all-minilm
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "team" {
		t.Errorf("namespace override lost, got %q", cfg.Namespace)
	}
	if cfg.Watcher.Interval() != 5*time.Second {
		t.Errorf("interval override lost, got %v", cfg.Watcher.Interval())
	}
	if cfg.Recall.MinSimilarity != 0.75 || cfg.Recall.Limit != 3 {
		t.Errorf("recall overrides lost: %+v", cfg.Recall)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "all-minilm" {
		t.Errorf("embedding overrides lost: %+v", cfg.Embedding)
	}
	// Untouched sections keep their defaults.
	if cfg.Watcher.MaxEntries != 50 {
		t.Errorf("unrelated default clobbered, got %d", cfg.Watcher.MaxEntries)
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "personal" {
		t.Errorf("expected defaults for missing file, got %q", cfg.Namespace)
	}
}

func TestRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("namespace: production"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown namespace")
	}

	os.WriteFile(path, []byte("recall:\n  min_similarity: 1.5"), 0o644)
	if _, err := Load(path); err == nil {
		t.Error("expected error for out-of-range min_similarity")
	}
}

func TestAPIKeyResolvedFromEnv(t *testing.T) {
	t.Setenv("TEST_SUMMARIZER_KEY", "sk-test")
	s := SummarizerConfig{APIKeyEnv: "TEST_SUMMARIZER_KEY"}
	if s.APIKey() != "sk-test" {
		t.Errorf("expected key from env, got %q", s.APIKey())
	}
}
