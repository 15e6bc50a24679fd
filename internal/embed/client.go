package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// httpEmbedder speaks the OpenAI /v1/embeddings wire format, which every
// self-hosted inference server worth running also accepts.
type httpEmbedder struct {
	endpoint  string
	model     string
	batchSize int
	client    *http.Client
	logger    interface {
		Info(msg string, args ...any)
	}

	mu  sync.Mutex
	dim int
}

func newHTTPEmbedder(cfg Config) *httpEmbedder {
	return &httpEmbedder{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    cfg.Logger,
		dim:       cfg.Dimension,
	}
}

type wireRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type wireResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.post(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		copy(result[start:end], vecs)
	}
	return result, nil
}

func (e *httpEmbedder) post(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(wireRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := e.endpoint + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, detail)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(wire.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response from %s", url)
	}

	if e.Dimension() == 0 && len(wire.Data[0].Embedding) > 0 {
		e.mu.Lock()
		if e.dim == 0 {
			e.dim = len(wire.Data[0].Embedding)
			e.logger.Info("detected embedding dimension", "dimension", e.dim, "model", wire.Model)
		}
		e.mu.Unlock()
	}

	// The server may reorder; the index field is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range wire.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("no embedding for input %d", i)
		}
	}
	return vecs, nil
}

func (e *httpEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *httpEmbedder) Model() string { return e.model }
