package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/lexkeeper/internal/embedq"
	"github.com/hazyhaar/lexkeeper/internal/store"
	"github.com/hazyhaar/lexkeeper/internal/vecindex"
)

// Sink receives embedded fragments. *vecindex.Index implements it.
type Sink interface {
	Upsert(ctx context.Context, docs []vecindex.Document) error
}

// WorkerOptions tunes the queue pump.
type WorkerOptions struct {
	// PollInterval between drain passes. Default: 15s.
	PollInterval time.Duration
	// BatchSize is markers claimed per step. Default: 16.
	BatchSize int
}

func (o *WorkerOptions) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
}

// Worker drains the pending-embedding queue: claim a batch, embed the
// fragment texts, upsert vectors into the sink, acknowledge the markers.
// Failures return markers to the queue with the cause recorded.
type Worker struct {
	store    *store.Store
	queue    *embedq.Queue
	embedder Embedder
	sink     Sink
	logger   *slog.Logger
	opts     WorkerOptions
}

// NewWorker wires the pump. logger may be nil.
func NewWorker(st *store.Store, q *embedq.Queue, emb Embedder, sink Sink, logger *slog.Logger, opts WorkerOptions) *Worker {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: st, queue: q, embedder: emb, sink: sink, logger: logger, opts: opts}
}

// Run drains the queue on every poll tick until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info("embedding worker started",
		"poll_interval", w.opts.PollInterval, "batch_size", w.opts.BatchSize,
		"model", w.embedder.Model())
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("embedding worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if n, err := w.queue.Requeue(ctx); err != nil {
		w.logger.Warn("requeue stale claims", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued stale embedding claims", "count", n)
	}
	for {
		n, err := w.RunOnce(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Error("embedding batch failed", "error", err)
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// RunOnce processes one claim batch and reports how many fragments it
// embedded. (0, nil) means the queue was empty.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	markers, err := w.queue.Claim(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(markers) == 0 {
		return 0, nil
	}

	ids := make([]string, len(markers))
	for i, m := range markers {
		ids[i] = m.FragmentID
	}
	docs, err := w.store.GetFragmentDocs(ctx, ids)
	if err != nil {
		w.failAll(ctx, ids, err)
		return 0, fmt.Errorf("load fragments: %w", err)
	}

	present := make(map[string]bool, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		present[d.ID] = true
		texts[i] = d.Text
	}
	for _, id := range ids {
		if !present[id] {
			_ = w.queue.Fail(ctx, id, errors.New("fragment row missing"))
		}
	}
	if len(docs) == 0 {
		return 0, nil
	}

	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		w.failAll(ctx, ids, err)
		return 0, fmt.Errorf("embed: %w", err)
	}

	vdocs := make([]vecindex.Document, len(docs))
	for i, d := range docs {
		vdocs[i] = vecindex.Document{
			FragmentID:     d.ID,
			VersionID:      d.VersionID,
			InstrumentID:   d.InstrumentID,
			BlockID:        d.BlockID,
			ArticleLabel:   d.ArticleLabel,
			Text:           d.Text,
			EffectiveStart: d.EffectiveStart,
			EffectiveEnd:   d.EffectiveEnd,
			Vector:         vecs[i],
		}
	}
	if err := w.sink.Upsert(ctx, vdocs); err != nil {
		w.failAll(ctx, ids, err)
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}

	for _, d := range docs {
		if err := w.queue.Complete(ctx, d.ID); err != nil {
			// Marker stays processing; the stale sweep retries it and the
			// deterministic object ID makes the re-upsert harmless.
			w.logger.Warn("acknowledge embedding", "fragment", d.ID, "error", err)
		}
	}
	w.logger.Debug("embedded fragments", "count", len(docs))
	return len(docs), nil
}

func (w *Worker) failAll(ctx context.Context, ids []string, cause error) {
	for _, id := range ids {
		if err := w.queue.Fail(ctx, id, cause); err != nil {
			w.logger.Warn("record embedding failure", "fragment", id, "error", err)
		}
	}
}
