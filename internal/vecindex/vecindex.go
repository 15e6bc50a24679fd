// CLAUDE:SUMMARY Weaviate-backed vector index for fragments: schema, batch upsert, nearVector query, disabled mode.

// Package vecindex stores fragment vectors in Weaviate and answers
// similarity queries. The vectorizer is "none": vectors are computed by the
// embedding worker and shipped with each object, so the index never calls
// out to a model of its own.
//
// With no URL configured the index runs disabled: writes become no-ops and
// queries fail with ErrDisabled. Everything else in the service works
// without a vector backend.
package vecindex

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the Weaviate class holding fragment objects.
const DefaultClass = "LegalFragment"

// ErrDisabled is returned by queries when no vector backend is configured.
var ErrDisabled = errors.New("vecindex: no vector backend configured")

// Config configures the index.
type Config struct {
	// URL of the Weaviate instance, e.g. "http://localhost:8080".
	// Empty disables the index.
	URL string `json:"url" yaml:"url"`

	// ClassName overrides DefaultClass.
	ClassName string `json:"class_name" yaml:"class_name"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Document is one fragment plus the provenance needed to filter and cite
// query results without a round trip to SQLite.
type Document struct {
	FragmentID     string
	VersionID      string
	InstrumentID   string
	BlockID        string
	ArticleLabel   string
	Text           string
	EffectiveStart string
	// EffectiveEnd is empty while the fragment's version is in force.
	EffectiveEnd string
	Vector       []float32
}

// Hit is one similarity result.
type Hit struct {
	FragmentID     string  `json:"fragment_id"`
	VersionID      string  `json:"version_id"`
	InstrumentID   string  `json:"instrument_id"`
	BlockID        string  `json:"block_id"`
	ArticleLabel   string  `json:"article_label,omitempty"`
	Text           string  `json:"text"`
	EffectiveStart string  `json:"effective_start,omitempty"`
	EffectiveEnd   string  `json:"effective_end,omitempty"`
	Certainty      float64 `json:"certainty"`
}

// Index wraps the Weaviate client. The zero-value client is disabled.
type Index struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// New builds an index. An empty URL yields a disabled index, not an error.
func New(cfg Config) (*Index, error) {
	class := cfg.ClassName
	if class == "" {
		class = DefaultClass
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{class: class, logger: logger}
	if cfg.URL == "" {
		return ix, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vecindex: url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("vecindex: url %q must be absolute http(s)", cfg.URL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("vecindex: client: %w", err)
	}
	ix.client = client
	return ix, nil
}

// Enabled reports whether a backend is configured.
func (ix *Index) Enabled() bool { return ix.client != nil }

// DocumentUUID derives the stable Weaviate object ID for a fragment.
// Upserting the same fragment twice overwrites rather than duplicates.
func DocumentUUID(fragmentID string) strfmt.UUID {
	sum := sha256.Sum256([]byte(fragmentID))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes can always form a UUID.
		panic(err)
	}
	return strfmt.UUID(id.String())
}

// EnsureSchema creates the fragment class if missing. Idempotent.
func (ix *Index) EnsureSchema(ctx context.Context) error {
	if ix.client == nil {
		return nil
	}
	if _, err := ix.client.Schema().ClassGetter().WithClassName(ix.class).Do(ctx); err == nil {
		return nil
	}
	ix.logger.Info("creating vector class", "class", ix.class)
	if err := ix.client.Schema().ClassCreator().WithClass(ix.classSchema()).Do(ctx); err != nil {
		return fmt.Errorf("vecindex: create class %s: %w", ix.class, err)
	}
	return nil
}

func (ix *Index) classSchema() *models.Class {
	filterable := new(bool)
	*filterable = true
	return &models.Class{
		Class:      ix.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "fragment_id", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
			{Name: "version_id", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
			{Name: "instrument_id", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
			{Name: "block_id", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
			{Name: "article_label", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "text", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "effective_start", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
			{Name: "effective_end", DataType: []string{"text"}, IndexFilterable: filterable, Tokenization: "field"},
		},
	}
}

// Upsert writes documents in one batch. Object IDs derive from fragment
// IDs, so replays overwrite in place. Returns an error if any object was
// rejected; the whole batch is safe to retry.
func (ix *Index) Upsert(ctx context.Context, docs []Document) error {
	if ix.client == nil || len(docs) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(docs))
	for i, d := range docs {
		objects[i] = &models.Object{
			Class:  ix.class,
			ID:     DocumentUUID(d.FragmentID),
			Vector: d.Vector,
			Properties: map[string]interface{}{
				"fragment_id":     d.FragmentID,
				"version_id":      d.VersionID,
				"instrument_id":   d.InstrumentID,
				"block_id":        d.BlockID,
				"article_label":   d.ArticleLabel,
				"text":            d.Text,
				"effective_start": d.EffectiveStart,
				"effective_end":   d.EffectiveEnd,
			},
		}
	}

	resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("vecindex: batch upsert: %w", err)
	}
	var rejected int
	var firstErr string
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		rejected++
		if firstErr == "" && item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			firstErr = item.Result.Errors.Error[0].Message
		}
	}
	if rejected > 0 {
		return fmt.Errorf("vecindex: %d/%d objects rejected: %s", rejected, len(docs), firstErr)
	}
	return nil
}

// Query returns the fragments nearest to vector. With inForceOnly set,
// results are restricted to fragments whose version has no end date.
func (ix *Index) Query(ctx context.Context, vector []float32, limit int, inForceOnly bool) ([]Hit, error) {
	if ix.client == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 10
	}

	fields := []graphql.Field{
		{Name: "fragment_id"},
		{Name: "version_id"},
		{Name: "instrument_id"},
		{Name: "block_id"},
		{Name: "article_label"},
		{Name: "text"},
		{Name: "effective_start"},
		{Name: "effective_end"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	near := ix.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	builder := ix.client.GraphQL().Get().
		WithClassName(ix.class).
		WithFields(fields...).
		WithNearVector(near).
		WithLimit(limit)
	if inForceOnly {
		builder = builder.WithWhere(filters.Where().
			WithPath([]string{"effective_end"}).
			WithOperator(filters.Equal).
			WithValueString(""))
	}

	result, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vecindex: query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vecindex: query: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := data[ix.class].([]interface{})
	if !ok {
		return nil, nil
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{
			FragmentID:     getString(m, "fragment_id"),
			VersionID:      getString(m, "version_id"),
			InstrumentID:   getString(m, "instrument_id"),
			BlockID:        getString(m, "block_id"),
			ArticleLabel:   getString(m, "article_label"),
			Text:           getString(m, "text"),
			EffectiveStart: getString(m, "effective_start"),
			EffectiveEnd:   getString(m, "effective_end"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				hit.Certainty = c
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
