// Package embed turns fragment text into vectors through any
// OpenAI-compatible embeddings endpoint (vLLM, Ollama, TEI, OpenAI). The
// corpus only ever needs two calls: batch embedding for the queue worker
// and single-text embedding for semantic query strings.
package embed

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the vector width, or 0 before the first call when
	// auto-detecting.
	Dimension() int

	// Model reports the model name sent with each request.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the server base URL. Empty selects the no-op embedder,
	// which keeps the rest of the service runnable without a GPU box.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is sent verbatim in each request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector width; 0 auto-detects from the
	// first response.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize caps texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 60s; legal fragments are long and
	// CPU inference is slow.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds an Embedder from config. An empty endpoint yields a no-op
// embedder producing zero vectors.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &Noop{Dim: dim, Name: cfg.Model}
	}
	return newHTTPEmbedder(cfg)
}

// Noop emits zero vectors. Tests and vector-less deployments use it.
type Noop struct {
	Dim  int
	Name string
}

func (n *Noop) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.Dim), nil
}

func (n *Noop) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.Dim)
	}
	return out, nil
}

func (n *Noop) Dimension() int { return n.Dim }
func (n *Noop) Model() string  { return n.Name }
