// CLAUDE:SUMMARY Insert-if-absent version rows and version lookups.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertVersionTx inserts a version if its content-hash ID is not already
// present. Returns true when a row was actually inserted. An existing row
// is left untouched: version rows are immutable once written.
func (s *Store) InsertVersionTx(ctx context.Context, tx *sql.Tx, v *Version) (bool, error) {
	if v.CreatedAt == 0 {
		v.CreatedAt = time.Now().UnixMilli()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO versions (id, instrument_id, block_id, amending_id,
		publication_date, effective_start, effective_end, raw_hash, text_hash,
		normalize_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		v.ID, v.InstrumentID, v.BlockID, v.AmendingID,
		v.PublicationDate, v.EffectiveStart, v.EffectiveEnd, v.RawHash, v.TextHash,
		v.NormalizeMode, v.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert version %s: %w", v.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, id string) (*Version, error) {
	row := s.DB.QueryRowContext(ctx, versionSelect+` WHERE id = ?`, id)
	v, err := scanVersionRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return v, nil
}

// ListVersions returns the full history of a block ordered by effective
// start, oldest first. Versions with unknown start sort first.
func (s *Store) ListVersions(ctx context.Context, instrumentID, blockID string) ([]*Version, error) {
	rows, err := s.DB.QueryContext(ctx,
		versionSelect+` WHERE instrument_id = ? AND block_id = ?
		ORDER BY effective_start, created_at, id`, instrumentID, blockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanVersions(rows)
}

const versionSelect = `SELECT id, instrument_id, block_id, amending_id,
	publication_date, effective_start, effective_end, raw_hash, text_hash,
	normalize_mode, created_at FROM versions`

func scanVersionRow(row *sql.Row) (*Version, error) {
	var v Version
	err := row.Scan(&v.ID, &v.InstrumentID, &v.BlockID, &v.AmendingID,
		&v.PublicationDate, &v.EffectiveStart, &v.EffectiveEnd, &v.RawHash,
		&v.TextHash, &v.NormalizeMode, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVersions(rows *sql.Rows) ([]*Version, error) {
	var out []*Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.InstrumentID, &v.BlockID, &v.AmendingID,
			&v.PublicationDate, &v.EffectiveStart, &v.EffectiveEnd, &v.RawHash,
			&v.TextHash, &v.NormalizeMode, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
