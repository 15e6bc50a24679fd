// CLAUDE:SUMMARY Sync run records: begin, finish with counters, recent listing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/lexkeeper/idgen"
)

// BeginSyncRun opens a sync run record and returns its ID.
func (s *Store) BeginSyncRun(ctx context.Context, mode, from, to string) (string, error) {
	id := idgen.Prefixed("run_", idgen.Default)()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sync_runs (id, mode, window_from, window_to, started_at, status)
		VALUES (?, ?, ?, ?, ?, 'running')`,
		id, mode, from, to, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("begin sync run: %w", err)
	}
	return id, nil
}

// FinishSyncRun closes a sync run with its final counters.
func (s *Store) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	now := time.Now().UnixMilli()
	if run.FailuresJSON == "" {
		run.FailuresJSON = "[]"
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sync_runs SET finished_at = ?, status = ?, instruments_seen = ?,
		blocks_seen = ?, blocks_dirty = ?, versions_added = ?, fragments_added = ?,
		failures_json = ?
		WHERE id = ?`,
		now, run.Status, run.InstrumentsSeen, run.BlocksSeen, run.BlocksDirty,
		run.VersionsAdded, run.FragmentsAdded, run.FailuresJSON, run.ID)
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", run.ID, err)
	}
	return nil
}

// LastGoodWindow returns the furthest window_to any run completed with
// status ok or partial, or "" when no such run exists. Partial counts:
// its window was listed end to end, and the failed blocks stay dirty.
func (s *Store) LastGoodWindow(ctx context.Context) (string, error) {
	var to sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(window_to) FROM sync_runs WHERE status IN ('ok', 'partial')`).Scan(&to)
	if err != nil {
		return "", fmt.Errorf("last good window: %w", err)
	}
	return to.String, nil
}

// LastFailures returns the failures_json of the most recently finished run,
// or "" when no run has finished. Crash-orphaned rows stuck in status
// running never finished and are skipped.
func (s *Store) LastFailures(ctx context.Context) (string, error) {
	var fj string
	err := s.DB.QueryRowContext(ctx,
		`SELECT failures_json FROM sync_runs WHERE finished_at IS NOT NULL
		ORDER BY finished_at DESC, rowid DESC LIMIT 1`).Scan(&fj)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last failures: %w", err)
	}
	return fj, nil
}

// ListSyncRuns returns the most recent sync runs, newest first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, mode, window_from, window_to, started_at, finished_at, status,
		instruments_seen, blocks_seen, blocks_dirty, versions_added, fragments_added,
		failures_json
		FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncRun
	for rows.Next() {
		var r SyncRun
		if err := rows.Scan(&r.ID, &r.Mode, &r.WindowFrom, &r.WindowTo, &r.StartedAt,
			&r.FinishedAt, &r.Status, &r.InstrumentsSeen, &r.BlocksSeen, &r.BlocksDirty,
			&r.VersionsAdded, &r.FragmentsAdded, &r.FailuresJSON); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
