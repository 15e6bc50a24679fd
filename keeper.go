// CLAUDE:SUMMARY Main lexkeeper orchestrator — wires store, sync scheduler, embedding worker, vector index, and exposes the query API.

// Package lexkeeper is a versioning and temporal-consolidation engine for
// legal corpora.
//
// It tracks a consolidated-legislation source and keeps a local, queryable
// history of every block of every instrument. The pipeline:
//
//	source → sync → normalize → segment → store → consolidate → search/MCP
//	                                        └→ pending markers → embed → vector index
//
// Key features:
//   - Change detection: opaque per-block markers compared byte-for-byte,
//     advanced only after a successful ingest
//   - Content-hash identities: re-ingesting the same upstream data is a no-op
//   - Temporal consolidation: effective windows closed by successor versions,
//     point-in-time resolution at any date
//   - FTS5 full-text search and optional Weaviate semantic search
//   - MCP tools: resolve, point-in-time lookup, search, corpus stats
//
// Usage:
//
//	k, err := lexkeeper.New(cfg, logger)
//	defer k.Close()
//	k.Start(ctx)
//	hits, err := k.Search(ctx, "silencio administrativo", "", 10)
package lexkeeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/lexkeeper/dbopen"
	"github.com/hazyhaar/lexkeeper/internal/embed"
	"github.com/hazyhaar/lexkeeper/internal/embedq"
	"github.com/hazyhaar/lexkeeper/internal/normalize"
	"github.com/hazyhaar/lexkeeper/internal/scheduler"
	"github.com/hazyhaar/lexkeeper/internal/source"
	"github.com/hazyhaar/lexkeeper/internal/store"
	"github.com/hazyhaar/lexkeeper/internal/vecindex"
	"github.com/hazyhaar/lexkeeper/shield"
)

// Source lists changed instruments, block indexes and block revision
// histories. The production implementation is source.Client; tests inject
// fixtures.
type Source interface {
	ListInstruments(ctx context.Context, from, to string) ([]source.Instrument, error)
	Index(ctx context.Context, instrumentID string) ([]source.IndexEntry, error)
	Revisions(ctx context.Context, instrumentID, blockID string) (*source.BlockRevisions, error)
}

// Keeper is the main lexkeeper orchestrator.
type Keeper struct {
	cfg    *Config
	logger *slog.Logger

	db    *sql.DB
	store *store.Store
	queue *embedq.Queue
	src   Source
	norm  *normalize.Normalizer

	embedder    embed.Embedder
	embedderSet bool
	vector      *vecindex.Index

	sched  *scheduler.Scheduler
	worker *embed.Worker
	rl     *shield.RateLimiter
}

// Option customises construction before the collaborators are built.
type Option func(*Keeper)

// WithSource injects a listing source, replacing the HTTP client built from
// Config.Source.
func WithSource(s Source) Option {
	return func(k *Keeper) { k.src = s }
}

// WithEmbedder injects an embedding backend, replacing the client built
// from Config.Embedding. The embedding worker treats an injected backend as
// configured even when Config.Embedding.Endpoint is empty.
func WithEmbedder(e embed.Embedder) Option {
	return func(k *Keeper) {
		k.embedder = e
		k.embedderSet = true
	}
}

// WithVectorIndex injects a vector index, replacing the one built from
// Config.Vector.
func WithVectorIndex(ix *vecindex.Index) Option {
	return func(k *Keeper) { k.vector = ix }
}

// New creates a Keeper. Opens the SQLite database, applies the schema, and
// wires the source client, embedding queue, scheduler and worker.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Keeper, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	k := &Keeper{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(k)
	}

	if k.src == nil {
		if cfg.Source.BaseURL == "" {
			return nil, errors.New("lexkeeper: source.base_url is required")
		}
		c, err := source.NewClient(source.Options{
			BaseURL:   cfg.Source.BaseURL,
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.Source.Timeout,
			MaxBytes:  cfg.Source.MaxBytes,
		})
		if err != nil {
			return nil, err
		}
		k.src = c
	}

	if k.embedder == nil {
		k.embedder = embed.New(embed.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BatchSize: cfg.Embedding.BatchSize,
			Timeout:   cfg.Embedding.Timeout,
			Logger:    logger,
		})
		k.embedderSet = cfg.Embedding.Endpoint != ""
	}

	if k.vector == nil {
		ix, err := vecindex.New(vecindex.Config{
			URL:       cfg.Vector.URL,
			ClassName: cfg.Vector.ClassName,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		k.vector = ix
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, err
	}
	k.db = db
	k.store = store.New(db, logger)
	k.queue = embedq.New(db, embedq.Options{
		MaxAttempts: cfg.Embedding.MaxAttempts,
		StaleAfter:  cfg.Embedding.StaleAfter,
	})
	k.norm = normalize.New()

	k.sched = scheduler.New(cfg.Sync.Interval, func(ctx context.Context) error {
		_, err := k.SyncOnce(ctx)
		return err
	}, logger)
	k.worker = embed.NewWorker(k.store, k.queue, k.embedder, k.vector, logger, embed.WorkerOptions{
		PollInterval: cfg.Embedding.PollInterval,
		BatchSize:    cfg.Embedding.BatchSize,
	})
	k.rl = shield.NewRateLimiter(shield.DefaultRules(), "/health")
	return k, nil
}

// Start launches background goroutines: the sync scheduler, and the
// embedding worker when both an embedding backend and a vector backend are
// configured. Starting the worker without both would either poison the
// index with zero vectors or spin on an unreachable endpoint, so pending
// markers just accumulate until the deployment is complete.
func (k *Keeper) Start(ctx context.Context) {
	if k.vector.Enabled() {
		if err := k.vector.EnsureSchema(ctx); err != nil {
			k.logger.Warn("vector schema not ready", "error", err)
		}
	}
	go k.sched.Run(ctx)
	k.rl.StartGC(ctx.Done())
	if k.vector.Enabled() && k.embedderSet {
		go k.worker.Run(ctx)
	} else {
		k.logger.Info("embedding worker idle",
			"vector_enabled", k.vector.Enabled(), "embedder_configured", k.embedderSet)
	}
	k.logger.Info("lexkeeper: started", "db", k.cfg.DBPath)
}

// Close shuts down the keeper and closes the database.
func (k *Keeper) Close() error {
	if c, ok := k.src.(interface{ Close() }); ok {
		c.Close()
	}
	return k.db.Close()
}

// Store returns the underlying store for direct access (testing, admin).
func (k *Keeper) Store() *store.Store {
	return k.store
}

// TriggerSync requests a sweep as soon as the scheduler is free. Returns
// false when one is already queued.
func (k *Keeper) TriggerSync() bool {
	return k.sched.Trigger()
}

// SyncRunning reports whether a sweep is executing right now.
func (k *Keeper) SyncRunning() bool {
	return k.sched.Running()
}

// GetInstrument retrieves one instrument.
func (k *Keeper) GetInstrument(ctx context.Context, id string) (*store.Instrument, error) {
	return k.store.GetInstrument(ctx, id)
}

// ListInstruments lists tracked instruments, most recently seen first. A
// non-empty titleFilter restricts the list to titles containing it.
func (k *Keeper) ListInstruments(ctx context.Context, titleFilter string, limit int) ([]*store.Instrument, error) {
	return k.store.ListInstruments(ctx, titleFilter, limit)
}

// ListBlocks lists the blocks of an instrument in block-ID order.
func (k *Keeper) ListBlocks(ctx context.Context, instrumentID string) ([]*store.Block, error) {
	return k.store.ListBlocks(ctx, instrumentID)
}

// ListVersions lists the full version history of a block, oldest first.
func (k *Keeper) ListVersions(ctx context.Context, instrumentID, blockID string) ([]*store.Version, error) {
	return k.store.ListVersions(ctx, instrumentID, blockID)
}

// GetVersion retrieves one version by its content-derived ID.
func (k *Keeper) GetVersion(ctx context.Context, id string) (*store.Version, error) {
	return k.store.GetVersion(ctx, id)
}

// ResolveCurrent returns the version of a block in force today.
func (k *Keeper) ResolveCurrent(ctx context.Context, instrumentID, blockID string) (*store.Version, error) {
	return k.store.ResolveCurrent(ctx, instrumentID, blockID)
}

// ResolveAsOf returns the version of a block in force on the given
// YYYY-MM-DD date.
func (k *Keeper) ResolveAsOf(ctx context.Context, instrumentID, blockID, date string) (*store.Version, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	return k.store.ResolveAsOf(ctx, instrumentID, blockID, date)
}

// Fragments returns the fragments of a version in ordinal order.
func (k *Keeper) Fragments(ctx context.Context, versionID string) ([]*store.Fragment, error) {
	return k.store.FragmentsByVersion(ctx, versionID)
}

// Search performs a full-text search over fragments. A non-empty
// instrumentID scopes the search to that norm.
func (k *Keeper) Search(ctx context.Context, query, instrumentID string, limit int) ([]*store.SearchHit, error) {
	return k.store.Search(ctx, query, instrumentID, limit)
}

// SemanticSearch embeds the query and runs a similarity search against the
// vector index. Returns ErrVectorsDisabled unless both an embedding backend
// and a vector backend are configured.
func (k *Keeper) SemanticSearch(ctx context.Context, query string, limit int, inForceOnly bool) ([]vecindex.Hit, error) {
	if !k.vector.Enabled() || !k.embedderSet {
		return nil, ErrVectorsDisabled
	}
	vec, err := k.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return k.vector.Query(ctx, vec, limit, inForceOnly)
}

// Inconsistencies lists blocks whose open-version count is not exactly one.
func (k *Keeper) Inconsistencies(ctx context.Context) ([]store.Inconsistency, error) {
	return k.store.OpenVersionInconsistencies(ctx)
}

// SyncRuns lists recent sweeps, newest first.
func (k *Keeper) SyncRuns(ctx context.Context, limit int) ([]*store.SyncRun, error) {
	return k.store.ListSyncRuns(ctx, limit)
}

// RetryEmbeddings moves failed embedding markers back to pending. With no
// IDs every failed marker is retried. Returns the number moved.
func (k *Keeper) RetryEmbeddings(ctx context.Context, fragmentIDs []string) (int, error) {
	return k.queue.RetryFailed(ctx, fragmentIDs)
}

// Stats returns aggregate corpus counters.
func (k *Keeper) Stats(ctx context.Context) (*store.Stats, error) {
	return k.store.GetStats(ctx)
}

// ValidateDate rejects anything but a real calendar date in canonical
// YYYY-MM-DD form.
func ValidateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("date %q: want YYYY-MM-DD", date)
	}
	return nil
}
