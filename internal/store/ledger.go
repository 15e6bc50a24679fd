// CLAUDE:SUMMARY Checkpointed ingestion: per-block savepoints inside transactions committed every N blocks.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultCheckpointEvery is how many blocks a Ledger groups per commit.
const DefaultCheckpointEvery = 10

// Ledger writes block ingestions in checkpointed groups. Each block runs
// inside a savepoint, so a failing block rolls back alone while its
// groupmates survive. Every N successful blocks the enclosing transaction
// commits, bounding how much work a crash can lose.
//
// A Ledger is single-goroutine; the sweep that owns it is sequential.
type Ledger struct {
	store   *Store
	every   int
	tx      *sql.Tx
	pending int
}

// BeginLedger starts a checkpointed ingestion. every <= 0 takes the default.
func (s *Store) BeginLedger(every int) *Ledger {
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	return &Ledger{store: s, every: every}
}

// Block runs fn inside a savepoint on the current transaction group.
// If fn fails, only this block's writes are rolled back and the error is
// returned for the caller to record; the group continues. A successful
// block may trigger a checkpoint commit.
func (l *Ledger) Block(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if l.tx == nil {
		tx, err := l.store.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin ledger tx: %w", err)
		}
		l.tx = tx
	}

	if _, err := l.tx.ExecContext(ctx, "SAVEPOINT block_ingest"); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(l.tx); err != nil {
		if _, rbErr := l.tx.ExecContext(ctx, "ROLLBACK TO block_ingest"); rbErr != nil {
			// The transaction itself is broken; drop the whole group.
			l.tx.Rollback()
			l.tx = nil
			l.pending = 0
			return fmt.Errorf("rollback to savepoint: %v (block error: %w)", rbErr, err)
		}
		l.tx.ExecContext(ctx, "RELEASE block_ingest")
		return err
	}
	if _, err := l.tx.ExecContext(ctx, "RELEASE block_ingest"); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}

	l.pending++
	if l.pending >= l.every {
		return l.checkpoint()
	}
	return nil
}

// Checkpoint commits the current group regardless of fill level.
func (l *Ledger) Checkpoint() error {
	if l.tx == nil {
		return nil
	}
	return l.checkpoint()
}

// Close commits any remaining partial group. Always call it at sweep end.
func (l *Ledger) Close() error {
	return l.Checkpoint()
}

func (l *Ledger) checkpoint() error {
	err := l.tx.Commit()
	l.tx = nil
	l.pending = 0
	if err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	return nil
}
