// CLAUDE:SUMMARY Insert-if-absent fragment rows and fragment text loading for the embed worker.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertFragmentTx inserts a fragment if its content-hash ID is not already
// present. Returns true when a row was actually inserted.
func (s *Store) InsertFragmentTx(ctx context.Context, tx *sql.Tx, f *Fragment) (bool, error) {
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixMilli()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO fragments (id, version_id, ordinal, article_label, text, text_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		f.ID, f.VersionID, f.Ordinal, f.ArticleLabel, f.Text, f.TextHash, f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert fragment %s: %w", f.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FragmentsByVersion returns a version's fragments in ordinal order.
func (s *Store) FragmentsByVersion(ctx context.Context, versionID string) ([]*Fragment, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, version_id, ordinal, article_label, text, text_hash, created_at
		FROM fragments WHERE version_id = ? ORDER BY ordinal`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

// GetFragments loads fragments by ID in one query. Missing IDs are simply
// absent from the result; the caller decides whether that matters.
func (s *Store) GetFragments(ctx context.Context, ids []string) ([]*Fragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, version_id, ordinal, article_label, text, text_hash, created_at
		FROM fragments WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFragments(rows)
}

// GetFragmentDocs loads fragments joined with their version's provenance,
// which is everything the vector index stores alongside each vector.
func (s *Store) GetFragmentDocs(ctx context.Context, ids []string) ([]*FragmentDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT f.id, f.version_id, f.ordinal, f.article_label, f.text,
			v.instrument_id, v.block_id, v.effective_start, v.effective_end
		FROM fragments f
		JOIN versions v ON v.id = f.version_id
		WHERE f.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FragmentDoc
	for rows.Next() {
		var d FragmentDoc
		var end sql.NullString
		if err := rows.Scan(&d.ID, &d.VersionID, &d.Ordinal, &d.ArticleLabel, &d.Text,
			&d.InstrumentID, &d.BlockID, &d.EffectiveStart, &end); err != nil {
			return nil, fmt.Errorf("scan fragment doc: %w", err)
		}
		d.EffectiveEnd = end.String
		out = append(out, &d)
	}
	return out, rows.Err()
}

func scanFragments(rows *sql.Rows) ([]*Fragment, error) {
	var out []*Fragment
	for rows.Next() {
		var f Fragment
		if err := rows.Scan(&f.ID, &f.VersionID, &f.Ordinal, &f.ArticleLabel,
			&f.Text, &f.TextHash, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}
