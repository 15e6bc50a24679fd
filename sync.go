// CLAUDE:SUMMARY Sync sweep: window selection, dirty-block detection, checkpointed revision ingestion, consolidation.
package lexkeeper

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/lexkeeper/internal/identity"
	"github.com/hazyhaar/lexkeeper/internal/normalize"
	"github.com/hazyhaar/lexkeeper/internal/segment"
	"github.com/hazyhaar/lexkeeper/internal/source"
	"github.com/hazyhaar/lexkeeper/internal/store"
)

const dateLayout = "2006-01-02"

// maxWindowDays caps one listing request. The upstream listing endpoint
// degrades on multi-year windows, so long gaps are walked in month-sized
// chunks, each recorded as its own run and committed independently.
const maxWindowDays = 31

// syncFailure is one entry of a run's failures_json. Entries naming an
// instrument are carried into the next sweep as retry candidates.
type syncFailure struct {
	InstrumentID string `json:"instrument_id,omitempty"`
	BlockID      string `json:"block_id,omitempty"`
	Stage        string `json:"stage"` // "list" | "instrument" | "index" | "block" | "consolidate" | "abort"
	Error        string `json:"error"`
}

type blockWork struct {
	instrumentID string
	entry        store.IndexEntry
}

// SyncOnce runs one sweep. The window starts where the last good run ended;
// with no prior good run it starts at the historical epoch when one is
// configured, else at the lookback bound. Gaps longer than maxWindowDays
// are walked chunk by chunk, so an interrupted backfill resumes where it
// stopped. Returns the last completed run.
//
// Window bounds are inclusive, and consecutive windows share their boundary
// day. The overlap costs nothing: ingestion is idempotent.
func (k *Keeper) SyncOnce(ctx context.Context) (*store.SyncRun, error) {
	today := time.Now().UTC().Format(dateLayout)
	from, err := k.store.LastGoodWindow(ctx)
	if err != nil {
		return nil, err
	}
	if from == "" {
		if epoch := k.cfg.Sync.HistoricalEpoch; epoch != "" {
			if err := ValidateDate(epoch); err != nil {
				return nil, fmt.Errorf("historical_epoch: %w", err)
			}
			from = epoch
		} else {
			from = time.Now().UTC().AddDate(0, 0, -k.cfg.Sync.LookbackDays).Format(dateLayout)
		}
	}
	if from > today {
		from = today
	}

	var last *store.SyncRun
	for {
		to, err := addDays(from, maxWindowDays)
		if err != nil {
			return last, fmt.Errorf("window start %q: %w", from, err)
		}
		mode := "historical"
		if to >= today {
			to = today
			mode = "window"
		}
		run, err := k.syncWindow(ctx, mode, from, to)
		if err != nil {
			return run, err
		}
		last = run
		if to == today {
			return last, nil
		}
		from = to
	}
}

// syncWindow sweeps one [from, to] window: list changed instruments, refresh
// their block indexes, ingest every dirty block, consolidate. Failures of
// individual instruments or blocks are recorded and the sweep continues;
// only a failed listing or a storage-level fault aborts the window.
func (k *Keeper) syncWindow(ctx context.Context, mode, from, to string) (*store.SyncRun, error) {
	retries, err := k.retryCandidates(ctx)
	if err != nil {
		// A malformed failure record must not stop syncing.
		k.logger.Warn("failure carry-forward skipped", "error", err)
	}

	runID, err := k.store.BeginSyncRun(ctx, mode, from, to)
	if err != nil {
		return nil, err
	}
	run := &store.SyncRun{ID: runID, Mode: mode, WindowFrom: from, WindowTo: to, Status: "ok"}
	k.logger.Info("sync window started", "mode", mode, "from", from, "to", to, "retries", len(retries))

	instruments, err := k.src.ListInstruments(ctx, from, to)
	if err != nil {
		run.Status = "error"
		run.FailuresJSON = marshalFailures([]syncFailure{{Stage: "list", Error: err.Error()}})
		if ferr := k.store.FinishSyncRun(context.WithoutCancel(ctx), run); ferr != nil {
			k.logger.Error("finish sync run", "run", run.ID, "error", ferr)
		}
		return run, fmt.Errorf("list instruments [%s, %s]: %w", from, to, err)
	}
	run.InstrumentsSeen = len(instruments)

	var failures []syncFailure
	var work []blockWork

	listed := map[string]bool{}
	for _, in := range instruments {
		listed[in.ID] = true
		if err := ctx.Err(); err != nil {
			return k.abortRun(ctx, run, failures, err)
		}
		if err := k.store.UpsertInstrument(ctx, storeInstrument(in)); err != nil {
			failures = append(failures, syncFailure{InstrumentID: in.ID, Stage: "instrument", Error: err.Error()})
			continue
		}
		work = k.collectDirty(ctx, run, in.ID, work, &failures)
	}
	for _, id := range retries {
		if listed[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return k.abortRun(ctx, run, failures, err)
		}
		work = k.collectDirty(ctx, run, id, work, &failures)
	}

	if err := k.ingestBlocks(ctx, run, work, &failures); err != nil {
		return k.abortRun(ctx, run, failures, err)
	}

	if blocks, changed, err := k.store.ConsolidateAll(ctx); err != nil {
		failures = append(failures, syncFailure{Stage: "consolidate", Error: err.Error()})
	} else if changed > 0 {
		k.logger.Info("consolidation closed windows", "blocks", blocks, "changed", changed)
	}

	if len(failures) > 0 {
		run.Status = "partial"
		run.FailuresJSON = marshalFailures(failures)
	}
	if err := k.store.FinishSyncRun(ctx, run); err != nil {
		return run, err
	}
	k.logger.Info("sync window finished", "status", run.Status,
		"instruments", run.InstrumentsSeen, "blocks_seen", run.BlocksSeen,
		"blocks_dirty", run.BlocksDirty, "versions_added", run.VersionsAdded,
		"fragments_added", run.FragmentsAdded, "failures", len(failures))
	return run, nil
}

// collectDirty refreshes one instrument's block index and appends its dirty
// blocks to the work list.
func (k *Keeper) collectDirty(ctx context.Context, run *store.SyncRun, instrumentID string, work []blockWork, failures *[]syncFailure) []blockWork {
	entries, err := k.src.Index(ctx, instrumentID)
	if err != nil {
		*failures = append(*failures, syncFailure{InstrumentID: instrumentID, Stage: "index", Error: err.Error()})
		return work
	}
	run.BlocksSeen += len(entries)

	dirty, err := k.store.UpsertIndex(ctx, instrumentID, storeEntries(entries))
	if err != nil {
		*failures = append(*failures, syncFailure{InstrumentID: instrumentID, Stage: "index", Error: err.Error()})
		return work
	}
	run.BlocksDirty += len(dirty)
	for _, e := range dirty {
		work = append(work, blockWork{instrumentID: instrumentID, entry: e})
	}
	return work
}

// ingestBlocks processes dirty blocks in fetch-then-commit batches sized to
// the checkpoint interval. Revision fetches are network-bound and run while
// no ledger group is open; holding the SQLite write lock across them would
// starve the embedding worker's small writes. A failing block is recorded
// and skipped, its stored marker untouched, so the next sweep retries it.
func (k *Keeper) ingestBlocks(ctx context.Context, run *store.SyncRun, work []blockWork, failures *[]syncFailure) error {
	if len(work) == 0 {
		return nil
	}
	batch := k.cfg.Sync.CheckpointEvery
	ledger := k.store.BeginLedger(batch)
	defer ledger.Close()

	for start := 0; start < len(work); start += batch {
		end := min(start+batch, len(work))

		fetched := make([]*source.BlockRevisions, end-start)
		for i, w := range work[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			rev, err := k.src.Revisions(ctx, w.instrumentID, w.entry.BlockID)
			if err != nil {
				*failures = append(*failures, syncFailure{
					InstrumentID: w.instrumentID, BlockID: w.entry.BlockID,
					Stage: "block", Error: err.Error(),
				})
				continue
			}
			fetched[i] = rev
		}

		for i, w := range work[start:end] {
			if fetched[i] == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var versions, fragments int
			err := ledger.Block(ctx, func(tx *sql.Tx) error {
				var ierr error
				versions, fragments, ierr = k.ingestBlock(ctx, tx, w.instrumentID, w.entry, fetched[i])
				return ierr
			})
			if err != nil {
				*failures = append(*failures, syncFailure{
					InstrumentID: w.instrumentID, BlockID: w.entry.BlockID,
					Stage: "block", Error: err.Error(),
				})
				continue
			}
			run.VersionsAdded += versions
			run.FragmentsAdded += fragments
		}
		if err := ledger.Checkpoint(); err != nil {
			return err
		}
	}
	return nil
}

// ingestBlock writes one dirty block's full revision history: normalize each
// revision's markup, derive content-hash identities, insert version and
// fragment rows, enqueue new fragments for embedding, and advance the block
// marker. Everything runs in the caller's savepoint; on error the block
// leaves no trace and stays dirty.
func (k *Keeper) ingestBlock(ctx context.Context, tx *sql.Tx, instrumentID string, entry store.IndexEntry, rev *source.BlockRevisions) (versions, fragments int, err error) {
	if rev.Kind != "" {
		if err := k.store.SetBlockKindTx(ctx, tx, instrumentID, entry.BlockID, rev.Kind); err != nil {
			return 0, 0, fmt.Errorf("set kind: %w", err)
		}
	}

	for _, r := range rev.Revisions {
		res := k.norm.HTML(r.Markup)
		if res.Mode == normalize.ModeFallback {
			k.logger.Warn("normalization degraded",
				"instrument", instrumentID, "block", entry.BlockID)
		}
		rawHash := identity.Hash(r.Markup)
		textHash := identity.Hash(res.Text)
		vid := identity.VersionID(instrumentID, entry.BlockID, r.EffectiveStart, r.AmendingID, rawHash)

		inserted, err := k.store.InsertVersionTx(ctx, tx, &store.Version{
			ID:              vid,
			InstrumentID:    instrumentID,
			BlockID:         entry.BlockID,
			AmendingID:      r.AmendingID,
			PublicationDate: r.PublicationDate,
			EffectiveStart:  r.EffectiveStart,
			RawHash:         rawHash,
			TextHash:        textHash,
			NormalizeMode:   string(res.Mode),
		})
		if err != nil {
			return 0, 0, fmt.Errorf("version: %w", err)
		}
		if !inserted {
			// Identical version already stored, fragments included.
			continue
		}
		versions++

		for _, sp := range segment.Split(res.Text, segment.Options{
			TargetTokens:  k.cfg.Segment.TargetTokens,
			OverlapTokens: k.cfg.Segment.OverlapTokens,
			MinChars:      k.cfg.Segment.MinChars,
		}) {
			fh := identity.Hash(sp.Text)
			fid := identity.FragmentID(vid, sp.Ordinal, fh)
			ins, err := k.store.InsertFragmentTx(ctx, tx, &store.Fragment{
				ID:           fid,
				VersionID:    vid,
				Ordinal:      sp.Ordinal,
				ArticleLabel: sp.Label,
				Text:         sp.Text,
				TextHash:     fh,
			})
			if err != nil {
				return 0, 0, fmt.Errorf("fragment %d: %w", sp.Ordinal, err)
			}
			if !ins {
				continue
			}
			fragments++
			if err := k.queue.EnqueueTx(ctx, tx, fid); err != nil {
				return 0, 0, fmt.Errorf("enqueue fragment %d: %w", sp.Ordinal, err)
			}
		}
	}

	return versions, fragments, k.store.MarkBlockSyncedTx(ctx, tx, instrumentID, entry.BlockID, entry.UpdatedMarker)
}

// abortRun closes out a window that cannot continue, typically on shutdown.
// The status stays outside the good set, so the next sweep re-lists the
// same window and rediscovers whatever was left dirty.
func (k *Keeper) abortRun(ctx context.Context, run *store.SyncRun, failures []syncFailure, cause error) (*store.SyncRun, error) {
	run.Status = "error"
	failures = append(failures, syncFailure{Stage: "abort", Error: cause.Error()})
	run.FailuresJSON = marshalFailures(failures)
	if err := k.store.FinishSyncRun(context.WithoutCancel(ctx), run); err != nil {
		k.logger.Error("finish sync run", "run", run.ID, "error", err)
	}
	return run, cause
}

// retryCandidates extracts the instrument IDs named in the previous run's
// failures. Re-fetching their indexes reconciles them against the stored
// markers: transient failures heal, permanent ones surface again without
// blocking window progress.
func (k *Keeper) retryCandidates(ctx context.Context) ([]string, error) {
	fj, err := k.store.LastFailures(ctx)
	if err != nil || fj == "" || fj == "[]" {
		return nil, err
	}
	var fails []syncFailure
	if err := json.Unmarshal([]byte(fj), &fails); err != nil {
		return nil, fmt.Errorf("parse stored failures: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, f := range fails {
		if f.InstrumentID == "" || seen[f.InstrumentID] {
			continue
		}
		seen[f.InstrumentID] = true
		ids = append(ids, f.InstrumentID)
	}
	return ids, nil
}

// storeInstrument maps a listing entry to its stored form. The consolidated
// URL wins over the ELI permalink when both are present.
func storeInstrument(in source.Instrument) *store.Instrument {
	u := in.ConsolidatedURL
	if u == "" {
		u = in.ELIURL
	}
	return &store.Instrument{
		ID:              in.ID,
		Title:           in.Title,
		Rank:            in.Rank,
		Department:      in.Department,
		Scope:           in.Scope,
		PublicationDate: in.PublicationDate,
		EnactmentDate:   in.EnactmentDate,
		URL:             u,
	}
}

func storeEntries(entries []source.IndexEntry) []store.IndexEntry {
	out := make([]store.IndexEntry, len(entries))
	for i, e := range entries {
		out[i] = store.IndexEntry{
			BlockID:       e.BlockID,
			Heading:       e.Heading,
			UpdatedMarker: e.UpdatedMarker,
			URL:           e.URL,
		}
	}
	return out
}

func marshalFailures(fails []syncFailure) string {
	b, err := json.Marshal(fails)
	if err != nil {
		return `[{"stage":"marshal","error":"unencodable failures"}]`
	}
	return string(b)
}

func addDays(date string, days int) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, days).Format(dateLayout), nil
}
