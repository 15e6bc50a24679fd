// Package embedq manages the pending-embedding markers, one per fragment.
//
// Unlike a delete-on-ack job queue, markers persist through their whole
// lifecycle (pending -> processing -> completed | failed) so the corpus
// always knows which fragments still lack vectors. Claiming is a single
// UPDATE ... RETURNING, atomic under SQLite's writer lock, so concurrent
// workers never receive the same fragment. A worker that dies mid-claim
// leaves markers in processing; Requeue sweeps those back to pending once
// they are stale.
package embedq

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/lexkeeper/dbopen"
)

// Marker states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Marker is one fragment's embedding lifecycle record.
type Marker struct {
	FragmentID string `json:"fragment_id"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error"`
	ClaimedAt  *int64 `json:"claimed_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Options configures queue behaviour.
type Options struct {
	// MaxAttempts is how many claims a fragment gets before Fail parks it
	// as failed instead of returning it to pending. Default: 5.
	MaxAttempts int
	// StaleAfter is how long a processing claim may sit before Requeue
	// considers its worker dead. Default: 10m.
	StaleAfter time.Duration
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
}

// Queue is the marker-table handle.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle over an already-opened corpus database.
// The pending_embeddings table comes from the store schema.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// EnqueueTx inserts a pending marker for a fragment inside the caller's
// transaction, so fragment and marker commit or vanish together. A fragment
// that already has a marker, whatever its state, is left alone.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, fragmentID string) error {
	now := time.Now().UnixMilli()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO pending_embeddings (fragment_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fragment_id) DO NOTHING`,
		fragmentID, StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", fragmentID, err)
	}
	return nil
}

// Claim atomically moves up to n pending markers to processing and returns
// them, oldest first. Returns an empty slice when nothing is pending.
func (q *Queue) Claim(ctx context.Context, n int) ([]*Marker, error) {
	if n <= 0 {
		n = 1
	}
	now := time.Now().UnixMilli()
	rows, err := q.db.QueryContext(ctx, `
		UPDATE pending_embeddings
		SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE fragment_id IN (
			SELECT fragment_id FROM pending_embeddings
			WHERE status = ?
			ORDER BY created_at ASC
			LIMIT ?
		)
		RETURNING fragment_id, status, attempts, last_error, claimed_at, created_at, updated_at`,
		StatusProcessing, now, now, StatusPending, n,
	)
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	defer rows.Close()

	markers := make([]*Marker, 0, n)
	for rows.Next() {
		var m Marker
		if err := rows.Scan(&m.FragmentID, &m.Status, &m.Attempts, &m.LastError,
			&m.ClaimedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		markers = append(markers, &m)
	}
	return markers, rows.Err()
}

// Complete marks a fragment's embedding as done.
func (q *Queue) Complete(ctx context.Context, fragmentID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_embeddings
		SET status = ?, last_error = '', claimed_at = NULL, updated_at = ?
		WHERE fragment_id = ?`,
		StatusCompleted, time.Now().UnixMilli(), fragmentID)
	return err
}

// Fail records a failed attempt. The marker returns to pending for another
// try until MaxAttempts is reached, then parks as failed with the last
// error kept for operators.
func (q *Queue) Fail(ctx context.Context, fragmentID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE pending_embeddings
		SET status = CASE WHEN attempts >= ? THEN ? ELSE ? END,
			last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE fragment_id = ?`,
		q.opts.MaxAttempts, StatusFailed, StatusPending,
		msg, time.Now().UnixMilli(), fragmentID)
	return err
}

// Requeue returns stale processing markers to pending and reports how many
// it moved. Staleness is claim age exceeding StaleAfter.
func (q *Queue) Requeue(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-q.opts.StaleAfter).UnixMilli()
	res, err := dbopen.Exec(ctx, q.db,
		`UPDATE pending_embeddings
		SET status = ?, claimed_at = NULL, updated_at = ?
		WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?`,
		StatusPending, time.Now().UnixMilli(), StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RetryFailed moves failed markers back to pending with a fresh attempt
// budget. Operator-facing: failures park permanently until asked again.
func (q *Queue) RetryFailed(ctx context.Context, fragmentIDs []string) (int, error) {
	now := time.Now().UnixMilli()
	var (
		res sql.Result
		err error
	)
	if len(fragmentIDs) == 0 {
		res, err = q.db.ExecContext(ctx,
			`UPDATE pending_embeddings
			SET status = ?, attempts = 0, last_error = '', updated_at = ?
			WHERE status = ?`,
			StatusPending, now, StatusFailed)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fragmentIDs)), ",")
		args := []any{StatusPending, now, StatusFailed}
		for _, id := range fragmentIDs {
			args = append(args, id)
		}
		res, err = q.db.ExecContext(ctx,
			`UPDATE pending_embeddings
			SET status = ?, attempts = 0, last_error = '', updated_at = ?
			WHERE status = ? AND fragment_id IN (`+placeholders+`)`, args...)
	}
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Counts returns the number of markers per status.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM pending_embeddings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
