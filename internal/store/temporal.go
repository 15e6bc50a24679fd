// CLAUDE:SUMMARY Temporal resolution (current / as-of) and effective-end consolidation.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/lexkeeper/dbopen"
)

// ResolveCurrent returns the version of a block presently in force: the one
// with no effective end. When several versions are open, consolidation has
// not caught up; the most recently starting one is returned and the anomaly
// is logged rather than failed, because the caller asked a question the
// store can still answer.
func (s *Store) ResolveCurrent(ctx context.Context, instrumentID, blockID string) (*Version, error) {
	rows, err := s.DB.QueryContext(ctx,
		versionSelect+` WHERE instrument_id = ? AND block_id = ? AND effective_end IS NULL
		ORDER BY effective_start DESC, created_at DESC, id`, instrumentID, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	open, err := scanVersions(rows)
	if err != nil {
		return nil, err
	}

	switch len(open) {
	case 0:
		return nil, ErrNoCurrentVersion
	case 1:
		return open[0], nil
	default:
		s.logger.Warn("multiple open versions",
			"instrument_id", instrumentID, "block_id", blockID, "open", len(open))
		return open[0], nil
	}
}

// ResolveAsOf returns the version of a block in force on the given date,
// using half-open [start, end) containment: a version applies from its
// effective start inclusive until its effective end exclusive, and a nil
// end extends to infinity. Versions with unknown start cannot be placed on
// the timeline and are skipped. Dates before the earliest known start
// yield ErrNoVersionInForce.
func (s *Store) ResolveAsOf(ctx context.Context, instrumentID, blockID, date string) (*Version, error) {
	row := s.DB.QueryRowContext(ctx,
		versionSelect+` WHERE instrument_id = ? AND block_id = ?
		AND effective_start != '' AND effective_start <= ?
		AND (effective_end IS NULL OR effective_end > ?)
		ORDER BY effective_start DESC, created_at DESC LIMIT 1`,
		instrumentID, blockID, date, date)

	v, err := scanVersionRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNoVersionInForce
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return v, nil
}

// ConsolidateBlock derives effective ends for a block's version chain: each
// version with a known start ends where its successor starts. The newest
// version keeps whatever end it has, normally none. Only rows whose end
// actually changes are written, so a consolidated chain is a no-op and the
// operation can run after every sweep.
//
// A successor starting on or before its predecessor is an upstream data
// conflict. The pair is reported, not written: inventing an end date that
// inverts the timeline would corrupt as-of resolution.
func (s *Store) ConsolidateBlock(ctx context.Context, instrumentID, blockID string) (changed int, conflicts []Inconsistency, err error) {
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		changed = 0
		conflicts = nil

		rows, err := tx.QueryContext(ctx,
			versionSelect+` WHERE instrument_id = ? AND block_id = ? AND effective_start != ''
			ORDER BY effective_start, created_at, id`, instrumentID, blockID)
		if err != nil {
			return err
		}
		chain, err := scanVersions(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for i := 0; i+1 < len(chain); i++ {
			cur, next := chain[i], chain[i+1]
			if next.EffectiveStart <= cur.EffectiveStart {
				conflicts = append(conflicts, Inconsistency{
					InstrumentID: instrumentID,
					BlockID:      blockID,
					Versions:     len(chain),
				})
				continue
			}
			if cur.EffectiveEnd != nil && *cur.EffectiveEnd == next.EffectiveStart {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE versions SET effective_end = ? WHERE id = ?`,
				next.EffectiveStart, cur.ID); err != nil {
				return fmt.Errorf("backfill end for %s: %w", cur.ID, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	for _, c := range conflicts {
		s.logger.Warn("version chain conflict, end not backfilled",
			"instrument_id", c.InstrumentID, "block_id", c.BlockID)
	}
	return changed, conflicts, nil
}

// ConsolidateAll runs ConsolidateBlock over every block that has versions.
// Each block consolidates in its own transaction so one bad chain cannot
// hold a long write lock or fail the rest.
func (s *Store) ConsolidateAll(ctx context.Context) (blocks, changed int, err error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT DISTINCT instrument_id, block_id FROM versions`)
	if err != nil {
		return 0, 0, err
	}
	type key struct{ instrument, block string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.instrument, &k.block); err != nil {
			rows.Close()
			return 0, 0, err
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, k := range keys {
		n, _, err := s.ConsolidateBlock(ctx, k.instrument, k.block)
		if err != nil {
			return blocks, changed, fmt.Errorf("consolidate %s/%s: %w", k.instrument, k.block, err)
		}
		blocks++
		changed += n
	}
	return blocks, changed, nil
}

// OpenVersionInconsistencies reports blocks whose open-version count is not
// exactly one. These are flagged for operators, never auto-repaired.
func (s *Store) OpenVersionInconsistencies(ctx context.Context) ([]Inconsistency, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT instrument_id, block_id, COUNT(*),
			SUM(CASE WHEN effective_end IS NULL THEN 1 ELSE 0 END)
		FROM versions
		GROUP BY instrument_id, block_id
		HAVING SUM(CASE WHEN effective_end IS NULL THEN 1 ELSE 0 END) != 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Inconsistency
	for rows.Next() {
		var inc Inconsistency
		if err := rows.Scan(&inc.InstrumentID, &inc.BlockID, &inc.Versions, &inc.Open); err != nil {
			return nil, fmt.Errorf("scan inconsistency: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
