package embedq

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/lexkeeper/dbopen"
	"github.com/hazyhaar/lexkeeper/internal/store"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
}

// seedFragment inserts the instrument/block/version chain a fragment row
// needs under foreign keys, then the fragment itself.
func seedFragment(t *testing.T, db *sql.DB, fragID string, ordinal int) {
	t.Helper()
	now := time.Now().UnixMilli()
	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT OR IGNORE INTO instruments (id, title, created_at, updated_at) VALUES ('es-n1', 'Ley de prueba', ?, ?)`, []any{now, now}},
		{`INSERT OR IGNORE INTO blocks (instrument_id, block_id, created_at, updated_at) VALUES ('es-n1', 'a1', ?, ?)`, []any{now, now}},
		{`INSERT OR IGNORE INTO versions (id, instrument_id, block_id, effective_start, raw_hash, text_hash, created_at) VALUES ('v1', 'es-n1', 'a1', '2024-01-01', 'rh', 'th', ?)`, []any{now}},
		{`INSERT INTO fragments (id, version_id, ordinal, text, text_hash, created_at) VALUES (?, 'v1', ?, 'texto', 'th', ?)`, []any{fragID, ordinal, now}},
	}
	for _, s := range stmts {
		if _, err := db.Exec(s.q, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func enqueue(t *testing.T, db *sql.DB, q *Queue, fragID string) {
	t.Helper()
	ctx := context.Background()
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		return q.EnqueueTx(ctx, tx, fragID)
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", fragID, err)
	}
}

// setMarker rewrites a marker's bookkeeping columns so tests can stage
// specific claim ages and statuses.
func setMarker(t *testing.T, db *sql.DB, fragID, status string, createdAt int64, claimedAt *int64) {
	t.Helper()
	_, err := db.Exec(
		`UPDATE pending_embeddings SET status = ?, created_at = ?, claimed_at = ? WHERE fragment_id = ?`,
		status, createdAt, claimedAt, fragID)
	if err != nil {
		t.Fatalf("set marker: %v", err)
	}
}

func markerByID(t *testing.T, db *sql.DB, fragID string) Marker {
	t.Helper()
	var m Marker
	err := db.QueryRow(
		`SELECT fragment_id, status, attempts, last_error, claimed_at FROM pending_embeddings WHERE fragment_id = ?`,
		fragID).Scan(&m.FragmentID, &m.Status, &m.Attempts, &m.LastError, &m.ClaimedAt)
	if err != nil {
		t.Fatalf("marker %s: %v", fragID, err)
	}
	return m
}

// WHAT: Enqueueing the same fragment twice leaves a single pending marker.
// WHY: Re-running a sync over unchanged content must not reset markers that
// are already processing or completed.
func TestEnqueueTx_Idempotent(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})
	seedFragment(t, db, "f1", 0)

	enqueue(t, db, q, "f1")
	enqueue(t, db, q, "f1")

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pending_embeddings`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("markers = %d, want 1", n)
	}
	if m := markerByID(t, db, "f1"); m.Status != StatusPending {
		t.Fatalf("status = %q, want pending", m.Status)
	}
}

// WHAT: Claim hands out the oldest pending markers first and flips them to
// processing with an attempt counted and a claim timestamp.
func TestClaim_OldestFirst(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})
	for i, id := range []string{"f1", "f2", "f3"} {
		seedFragment(t, db, id, i)
		enqueue(t, db, q, id)
		setMarker(t, db, id, StatusPending, int64(100+i), nil)
	}

	got, err := q.Claim(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d markers, want 2", len(got))
	}
	if got[0].FragmentID != "f1" || got[1].FragmentID != "f2" {
		t.Fatalf("claimed %q,%q, want f1,f2", got[0].FragmentID, got[1].FragmentID)
	}
	for _, m := range got {
		if m.Status != StatusProcessing {
			t.Fatalf("%s status = %q, want processing", m.FragmentID, m.Status)
		}
		if m.Attempts != 1 {
			t.Fatalf("%s attempts = %d, want 1", m.FragmentID, m.Attempts)
		}
		if m.ClaimedAt == nil {
			t.Fatalf("%s claimed_at not set", m.FragmentID)
		}
	}
	if m := markerByID(t, db, "f3"); m.Status != StatusPending {
		t.Fatalf("f3 status = %q, want pending", m.Status)
	}
}

func TestClaim_EmptyQueue(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})

	got, err := q.Claim(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("claimed %d markers from empty queue", len(got))
	}
}

// WHAT: A second Claim never re-delivers markers the first one took.
// WHY: The claim UPDATE must be atomic so parallel workers split the
// backlog instead of embedding the same fragment twice.
func TestClaim_NoDoubleDelivery(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})
	for i, id := range []string{"f1", "f2"} {
		seedFragment(t, db, id, i)
		enqueue(t, db, q, id)
	}

	first, err := q.Claim(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Claim(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 0 {
		t.Fatalf("claims = %d,%d, want 2,0", len(first), len(second))
	}
}

func TestComplete(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})
	seedFragment(t, db, "f1", 0)
	enqueue(t, db, q, "f1")
	ctx := context.Background()

	if _, err := q.Claim(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, "f1"); err != nil {
		t.Fatal(err)
	}

	m := markerByID(t, db, "f1")
	if m.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", m.Status)
	}
	if m.ClaimedAt != nil {
		t.Fatal("claimed_at should be cleared on completion")
	}
}

// WHAT: Fail returns a marker to pending until MaxAttempts claims have been
// burned, then parks it as failed with the last error preserved.
func TestFail_ParksAfterMaxAttempts(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{MaxAttempts: 2})
	seedFragment(t, db, "f1", 0)
	enqueue(t, db, q, "f1")
	ctx := context.Background()

	if _, err := q.Claim(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(ctx, "f1", errors.New("timeout dialing embedder")); err != nil {
		t.Fatal(err)
	}
	m := markerByID(t, db, "f1")
	if m.Status != StatusPending {
		t.Fatalf("after attempt 1: status = %q, want pending", m.Status)
	}
	if m.LastError != "timeout dialing embedder" {
		t.Fatalf("last_error = %q", m.LastError)
	}

	if _, err := q.Claim(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(ctx, "f1", errors.New("still down")); err != nil {
		t.Fatal(err)
	}
	m = markerByID(t, db, "f1")
	if m.Status != StatusFailed {
		t.Fatalf("after attempt 2: status = %q, want failed", m.Status)
	}
	if m.LastError != "still down" {
		t.Fatalf("last_error = %q", m.LastError)
	}
}

// WHAT: Requeue returns only stale processing markers to pending.
// WHY: A crashed worker leaves claims behind; fresh claims belong to live
// workers and must not be stolen.
func TestRequeue_OnlyStale(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{StaleAfter: time.Minute})
	for i, id := range []string{"stale", "fresh"} {
		seedFragment(t, db, id, i)
		enqueue(t, db, q, id)
	}
	old := time.Now().Add(-2 * time.Minute).UnixMilli()
	recent := time.Now().UnixMilli()
	setMarker(t, db, "stale", StatusProcessing, 100, &old)
	setMarker(t, db, "fresh", StatusProcessing, 100, &recent)

	n, err := q.Requeue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("requeued %d markers, want 1", n)
	}
	if m := markerByID(t, db, "stale"); m.Status != StatusPending {
		t.Fatalf("stale status = %q, want pending", m.Status)
	}
	if m := markerByID(t, db, "fresh"); m.Status != StatusProcessing {
		t.Fatalf("fresh status = %q, want processing", m.Status)
	}
}

func TestRetryFailed(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{MaxAttempts: 1})
	ctx := context.Background()
	for i, id := range []string{"f1", "f2", "f3"} {
		seedFragment(t, db, id, i)
		enqueue(t, db, q, id)
	}
	if _, err := q.Claim(ctx, 3); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"f1", "f2"} {
		if err := q.Fail(ctx, id, errors.New("boom")); err != nil {
			t.Fatal(err)
		}
	}

	// Selective retry touches only the named fragment.
	n, err := q.RetryFailed(ctx, []string{"f1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("retried %d, want 1", n)
	}
	m := markerByID(t, db, "f1")
	if m.Status != StatusPending || m.Attempts != 0 || m.LastError != "" {
		t.Fatalf("f1 after retry = %+v", m)
	}
	if m := markerByID(t, db, "f2"); m.Status != StatusFailed {
		t.Fatalf("f2 status = %q, want failed", m.Status)
	}

	// Blanket retry sweeps the rest.
	n, err = q.RetryFailed(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("blanket retry = %d, want 1", n)
	}
	if m := markerByID(t, db, "f2"); m.Status != StatusPending {
		t.Fatalf("f2 status = %q, want pending", m.Status)
	}
}

func TestCounts(t *testing.T) {
	db := testDB(t)
	q := New(db, Options{})
	ctx := context.Background()
	for i, id := range []string{"f1", "f2", "f3"} {
		seedFragment(t, db, id, i)
		enqueue(t, db, q, id)
	}
	if _, err := q.Claim(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := q.Complete(ctx, "f1"); err != nil {
		t.Fatal(err)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusCompleted] != 1 || counts[StatusPending] != 2 {
		t.Fatalf("counts = %v", counts)
	}
}
