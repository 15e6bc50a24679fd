package lexkeeper

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.defaults()

	if cfg.DBPath != "lexkeeper.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.HTTPAddr != ":8790" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Sync.Interval != 6*time.Hour {
		t.Errorf("Sync.Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Sync.LookbackDays != 7 {
		t.Errorf("Sync.LookbackDays = %d", cfg.Sync.LookbackDays)
	}
	if cfg.Sync.CheckpointEvery != 10 {
		t.Errorf("Sync.CheckpointEvery = %d", cfg.Sync.CheckpointEvery)
	}
	if cfg.Segment.MinChars != 100 {
		t.Errorf("Segment.MinChars = %d", cfg.Segment.MinChars)
	}
}

func TestConfigDefaults_KeepExplicit(t *testing.T) {
	cfg := &Config{Sync: SyncConfig{LookbackDays: 30}}
	cfg.defaults()
	if cfg.Sync.LookbackDays != 30 {
		t.Errorf("explicit LookbackDays overridden to %d", cfg.Sync.LookbackDays)
	}
}

func TestLoadConfigFile(t *testing.T) {
	yaml := `
db_path: "/tmp/lex.db"
http_addr: ":9100"
source:
  base_url: "https://api.example.org/legislacion"
  user_agent: "lexkeeper/1.0"
  timeout: 45s
sync:
  interval: 2h
  lookback_days: 14
  historical_epoch: "1960-01-01"
segment:
  target_tokens: 400
  min_chars: 80
embedding:
  endpoint: "http://127.0.0.1:8089/v1/embeddings"
  model: "bge-m3"
  dimension: 1024
vector:
  url: "http://127.0.0.1:8080"
  class_name: "LegalFragment"
`
	path := filepath.Join(t.TempDir(), "lexkeeper.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/lex.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Source.BaseURL != "https://api.example.org/legislacion" {
		t.Errorf("Source.BaseURL = %q", cfg.Source.BaseURL)
	}
	if cfg.Source.Timeout != 45*time.Second {
		t.Errorf("Source.Timeout = %v", cfg.Source.Timeout)
	}
	if cfg.Sync.Interval != 2*time.Hour {
		t.Errorf("Sync.Interval = %v", cfg.Sync.Interval)
	}
	if cfg.Sync.HistoricalEpoch != "1960-01-01" {
		t.Errorf("Sync.HistoricalEpoch = %q", cfg.Sync.HistoricalEpoch)
	}
	if cfg.Segment.TargetTokens != 400 {
		t.Errorf("Segment.TargetTokens = %d", cfg.Segment.TargetTokens)
	}
	if cfg.Embedding.Dimension != 1024 {
		t.Errorf("Embedding.Dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Vector.ClassName != "LegalFragment" {
		t.Errorf("Vector.ClassName = %q", cfg.Vector.ClassName)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	// WHAT: Validate catches malformed dates and non-absolute URLs; empty
	// optional fields pass.
	// WHY: A bad epoch or endpoint should fail at startup, not mid-sweep.
	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("empty config: %v", err)
	}

	bad := &Config{Sync: SyncConfig{HistoricalEpoch: "01/01/1960"}}
	if err := bad.Validate(); err == nil {
		t.Error("malformed historical_epoch accepted")
	}

	bad = &Config{Vector: VectorConfig{URL: "not a url"}}
	if err := bad.Validate(); err == nil {
		t.Error("host-less vector url accepted")
	}

	bad = &Config{Source: SourceConfig{BaseURL: "/just/a/path"}}
	if err := bad.Validate(); err == nil {
		t.Error("scheme-less base_url accepted")
	}

	good := &Config{
		Sync:      SyncConfig{HistoricalEpoch: "1960-01-01"},
		Source:    SourceConfig{BaseURL: "https://api.example.org/legislacion"},
		Embedding: EmbeddingConfig{Endpoint: "http://127.0.0.1:8089/v1/embeddings"},
	}
	if err := good.Validate(); err != nil {
		t.Errorf("well-formed config rejected: %v", err)
	}
}

func TestLoadConfigFile_InvalidEpoch(t *testing.T) {
	yaml := "sync:\n  historical_epoch: \"June 1960\"\n"
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("expected validation error for malformed epoch")
	}
}

func TestValidateDate(t *testing.T) {
	for _, good := range []string{"2024-01-05", "1960-02-29", "2021-05-01"} {
		if err := ValidateDate(good); err != nil {
			t.Errorf("ValidateDate(%q) = %v", good, err)
		}
	}
	for _, bad := range []string{"", "2024-13-01", "2024-02-30", "05/01/2024", "20240105", "2024-1-5"} {
		if err := ValidateDate(bad); err == nil {
			t.Errorf("ValidateDate(%q) should fail", bad)
		}
	}
}
