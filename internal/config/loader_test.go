package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8701" {
		t.Errorf("Port = %q, want 8701", cfg.Server.Port)
	}
	if cfg.Lane.GlobalConcurrency != 1 {
		t.Errorf("GlobalConcurrency = %d, want 1", cfg.Lane.GlobalConcurrency)
	}
	if cfg.Index.QueueCapacity != 256 {
		t.Errorf("QueueCapacity = %d, want 256", cfg.Index.QueueCapacity)
	}
	if cfg.Retrieval.DefaultMode != "keyword" {
		t.Errorf("DefaultMode = %q, want keyword", cfg.Retrieval.DefaultMode)
	}
	if cfg.Guard.SemanticNoopThreshold != 0.92 {
		t.Errorf("SemanticNoopThreshold = %v, want 0.92", cfg.Guard.SemanticNoopThreshold)
	}
	if cfg.Vitality.Max != 5.0 {
		t.Errorf("Vitality.Max = %v, want 5.0", cfg.Vitality.Max)
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8701" {
		t.Errorf("Port = %q, want default", cfg.Server.Port)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palace.yaml")
	data := []byte("server:\n  port: \"9100\"\nstore:\n  path: /tmp/p.db\nvitality:\n  max: 7.5\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9100" {
		t.Errorf("Port = %q, want 9100", cfg.Server.Port)
	}
	if cfg.Store.Path != "/tmp/p.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Vitality.Max != 7.5 {
		t.Errorf("Vitality.Max = %v, want 7.5", cfg.Vitality.Max)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palace.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9100\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PALACE_PORT", "9200")
	t.Setenv("GLOBAL_CONCURRENCY", "3")
	t.Setenv("LANE_WAIT_TIMEOUT", "30s")
	t.Setenv("VALID_DOMAINS", "core, notes ,system")
	t.Setenv("CLEANUP_REVIEW_TTL_SECONDS", "600")
	t.Setenv("RETRIEVAL_EMBEDDING_BACKEND", "none")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9200" {
		t.Errorf("Port = %q, want env override 9200", cfg.Server.Port)
	}
	if cfg.Lane.GlobalConcurrency != 3 {
		t.Errorf("GlobalConcurrency = %d, want 3", cfg.Lane.GlobalConcurrency)
	}
	if cfg.Lane.WaitTimeout != 30*time.Second {
		t.Errorf("WaitTimeout = %v, want 30s", cfg.Lane.WaitTimeout)
	}
	want := []string{"core", "notes", "system"}
	if len(cfg.Resolver.ValidDomains) != len(want) {
		t.Fatalf("ValidDomains = %v, want %v", cfg.Resolver.ValidDomains, want)
	}
	for i, d := range want {
		if cfg.Resolver.ValidDomains[i] != d {
			t.Errorf("ValidDomains[%d] = %q, want %q", i, cfg.Resolver.ValidDomains[i], d)
		}
	}
	if cfg.Vitality.ReviewTTL != 10*time.Minute {
		t.Errorf("ReviewTTL = %v, want 10m", cfg.Vitality.ReviewTTL)
	}
	if cfg.Embedding.Backend != "none" {
		t.Errorf("Embedding.Backend = %q, want none", cfg.Embedding.Backend)
	}
}

func TestMigrationLockFallback(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Store.MigrationLockFile != cfg.Store.Path+".migrate.lock" {
		t.Errorf("MigrationLockFile = %q", cfg.Store.MigrationLockFile)
	}
}

func TestCompactLLMFallsBackToGuard(t *testing.T) {
	t.Setenv("WRITE_GUARD_LLM_API_BASE", "http://llm.local/v1")
	t.Setenv("WRITE_GUARD_LLM_MODEL", "arbiter-1")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Compact.LLMAPIBase != "http://llm.local/v1" {
		t.Errorf("Compact.LLMAPIBase = %q", cfg.Compact.LLMAPIBase)
	}
	if cfg.Compact.LLMModel != "arbiter-1" {
		t.Errorf("Compact.LLMModel = %q", cfg.Compact.LLMModel)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Setenv("RETRIEVAL_EMBEDDING_BACKEND", "quantum")

	if _, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected validation error for unknown embedding backend")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palace.yaml")
	data := []byte("guard:\n  semantic_noop_threshold: 0.5\n  semantic_update_threshold: 0.9\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected validation error for inverted guard thresholds")
	}
}
