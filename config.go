// CLAUDE:SUMMARY Service configuration: YAML sections for source, sync, segmenter, embedding, vector index.
package lexkeeper

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	HTTPAddr  string          `yaml:"http_addr"`
	Source    SourceConfig    `yaml:"source"`
	Sync      SyncConfig      `yaml:"sync"`
	Segment   SegmentConfig   `yaml:"segment"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
}

// SourceConfig points at the consolidated-legislation API.
type SourceConfig struct {
	// BaseURL is required unless a source is injected programmatically.
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
}

// SyncConfig controls the sweep loop.
type SyncConfig struct {
	// Interval between automatic sweeps.
	Interval time.Duration `yaml:"interval"`
	// LookbackDays bounds the discovery window when no previous successful
	// sweep exists.
	LookbackDays int `yaml:"lookback_days"`
	// CheckpointEvery commits ingested work every N blocks, so a crash
	// loses at most one group.
	CheckpointEvery int `yaml:"checkpoint_every"`
	// HistoricalEpoch, when set (YYYY-MM-DD), enables the historical mode
	// that walks month windows from this date up to today.
	HistoricalEpoch string `yaml:"historical_epoch"`
}

// SegmentConfig controls fragment sizing.
type SegmentConfig struct {
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
	MinChars      int `yaml:"min_chars"`
}

// EmbeddingConfig covers both the embedding client and the queue worker.
type EmbeddingConfig struct {
	// Endpoint of an OpenAI-compatible embeddings server. Empty disables
	// the worker; pending markers accumulate until one is configured.
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	Dimension    int           `yaml:"dimension"`
	BatchSize    int           `yaml:"batch_size"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

// VectorConfig points at the Weaviate instance. Empty URL disables
// vector search; everything else keeps working.
type VectorConfig struct {
	URL       string `yaml:"url"`
	ClassName string `yaml:"class_name"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "lexkeeper.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8790"
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = 6 * time.Hour
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = 7
	}
	if c.Sync.CheckpointEvery <= 0 {
		c.Sync.CheckpointEvery = 10
	}
	if c.Segment.TargetTokens <= 0 {
		c.Segment.TargetTokens = 600
	}
	if c.Segment.OverlapTokens <= 0 {
		c.Segment.OverlapTokens = 50
	}
	if c.Segment.MinChars <= 0 {
		c.Segment.MinChars = 100
	}
	// Client, queue and worker knobs left at zero fall through to the
	// defaults of their own packages.
}

// Validate rejects configuration that would otherwise only fail deep
// inside a sweep. Fields defaults() can fill are not required here.
func (c *Config) Validate() error {
	if c.Sync.HistoricalEpoch != "" {
		if err := ValidateDate(c.Sync.HistoricalEpoch); err != nil {
			return fmt.Errorf("historical_epoch: %w", err)
		}
	}
	if err := checkURL("source.base_url", c.Source.BaseURL); err != nil {
		return err
	}
	if err := checkURL("embedding.endpoint", c.Embedding.Endpoint); err != nil {
		return err
	}
	return checkURL("vector.url", c.Vector.URL)
}

func checkURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", field, raw)
	}
	return nil
}

// LoadConfigFile reads and validates a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}
