// CLAUDE:SUMMARY Instrument upsert keyed by upstream identifier, lookup and listing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertInstrument inserts the instrument or refreshes its descriptive
// fields. last_seen_at always advances so a sweep leaves a trace even when
// nothing changed. Instruments are never deleted: a norm missing from one
// discovery window is merely out of that window, not repealed.
func (s *Store) UpsertInstrument(ctx context.Context, in *Instrument) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO instruments (id, title, rank, department, scope,
		publication_date, enactment_date, url, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			rank = excluded.rank,
			department = excluded.department,
			scope = excluded.scope,
			publication_date = excluded.publication_date,
			enactment_date = excluded.enactment_date,
			url = excluded.url,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		in.ID, in.Title, in.Rank, in.Department, in.Scope,
		in.PublicationDate, in.EnactmentDate, in.URL, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert instrument %s: %w", in.ID, err)
	}
	return nil
}

// GetInstrument retrieves an instrument by ID.
func (s *Store) GetInstrument(ctx context.Context, id string) (*Instrument, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, title, rank, department, scope, publication_date,
		enactment_date, url, last_seen_at, created_at, updated_at
		FROM instruments WHERE id = ?`, id)

	var in Instrument
	err := row.Scan(&in.ID, &in.Title, &in.Rank, &in.Department, &in.Scope,
		&in.PublicationDate, &in.EnactmentDate, &in.URL, &in.LastSeenAt,
		&in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instrument: %w", err)
	}
	return &in, nil
}

// ListInstruments returns instruments ordered by most recently updated. A
// non-empty titleFilter keeps only titles containing it as a substring.
func (s *Store) ListInstruments(ctx context.Context, titleFilter string, limit int) ([]*Instrument, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, title, rank, department, scope, publication_date,
		enactment_date, url, last_seen_at, created_at, updated_at
		FROM instruments`
	args := []any{}
	if titleFilter != "" {
		q += ` WHERE title LIKE ?`
		args = append(args, "%"+titleFilter+"%")
	}
	q += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instrument
	for rows.Next() {
		var in Instrument
		if err := rows.Scan(&in.ID, &in.Title, &in.Rank, &in.Department, &in.Scope,
			&in.PublicationDate, &in.EnactmentDate, &in.URL, &in.LastSeenAt,
			&in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}
