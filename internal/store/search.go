// CLAUDE:SUMMARY FTS5 full-text search over fragments joined with version temporal windows.
package store

import (
	"context"
	"fmt"
)

// Search runs an FTS5 match over fragment labels and text. Hits carry their
// version's temporal window so callers can tell current wording from
// historical. The unicode61 tokenizer with diacritics removal makes
// "articulo" find "artículo". A non-empty instrumentID scopes the match to
// one norm.
func (s *Store) Search(ctx context.Context, query, instrumentID string, limit int) ([]*SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT f.id, f.version_id, v.instrument_id, v.block_id, f.article_label,
			f.text, v.effective_start, v.effective_end, rank
		FROM fragments_fts ft
		JOIN fragments f ON f.rowid = ft.rowid
		JOIN versions v ON v.id = f.version_id
		WHERE fragments_fts MATCH ?`
	args := []any{query}
	if instrumentID != "" {
		q += ` AND v.instrument_id = ?`
		args = append(args, instrumentID)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var hits []*SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.FragmentID, &h.VersionID, &h.InstrumentID, &h.BlockID,
			&h.ArticleLabel, &h.Text, &h.EffectiveStart, &h.EffectiveEnd, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
