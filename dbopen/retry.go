package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// IsBusy reports whether err looks like an SQLite busy/locked error.
// Works by message inspection so it does not depend on a specific driver.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// RunTx runs fn inside a transaction, retrying the whole transaction up to
// three times on busy errors with increasing backoff. Any other error rolls
// back and returns immediately.
func RunTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*100*time.Millisecond); err != nil {
				return err
			}
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			if IsBusy(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("begin tx: %w", err)
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if IsBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if IsBusy(err) {
				lastErr = err
				continue
			}
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

// Exec runs a single statement with the same busy-retry discipline as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*100*time.Millisecond); err != nil {
				return nil, err
			}
		}
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("exec retries exhausted: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
