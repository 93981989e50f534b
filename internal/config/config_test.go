package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
databases:
  mongodb:
    address: "mongodb://mongo:27017"
    database: docs
search:
  semanticWeight: 0.7
  keywordWeight: 0.3
ingest:
  lockTTL: 2m
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.Databases.Mongo.Address != "mongodb://mongo:27017" {
		t.Fatalf("mongo address = %q", cfg.Databases.Mongo.Address)
	}
	if cfg.Search.SemanticWeight != 0.7 || cfg.Search.KeywordWeight != 0.3 {
		t.Fatalf("weights = %v/%v", cfg.Search.SemanticWeight, cfg.Search.KeywordWeight)
	}
	if cfg.Ingest.LockTTL != 2*time.Minute {
		t.Fatalf("lockTTL = %v, want 2m", cfg.Ingest.LockTTL)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Chunking.TargetSize != 1000 {
		t.Fatalf("chunking targetSize = %d, want default 1000", cfg.Chunking.TargetSize)
	}
	if cfg.Ingest.DropThreshold != 0.5 {
		t.Fatalf("dropThreshold = %v, want default 0.5", cfg.Ingest.DropThreshold)
	}
}

func TestLoadConfigRejectsBadLockTTL(t *testing.T) {
	path := writeConfig(t, "ingest:\n  lockTTL: soon\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected an error for an unparseable lockTTL")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidateChunkingBand(t *testing.T) {
	cfg := Default()
	cfg.Chunking.MinSize = 3000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected min > target to be rejected")
	}

	cfg = Default()
	cfg.Chunking.Overlap = cfg.Chunking.TargetSize
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected overlap >= target to be rejected")
	}
}

func TestValidateFusionWeights(t *testing.T) {
	cfg := Default()
	cfg.Search.SemanticWeight = 0
	cfg.Search.KeywordWeight = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero weights to be rejected")
	}

	cfg = Default()
	cfg.Search.KeywordWeight = -0.1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a negative weight to be rejected")
	}
}

func TestValidateDropThreshold(t *testing.T) {
	cfg := Default()
	cfg.Ingest.DropThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an out-of-range drop threshold to be rejected")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
