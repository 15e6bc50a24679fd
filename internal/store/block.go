// CLAUDE:SUMMARY Block index upsert with change detection against stored update markers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkerDirty reports whether a block needs re-ingesting given its stored
// marker. A block with no stored row is always dirty; otherwise dirtiness
// is a byte-for-byte marker difference. The marker format is opaque and no
// ordering is assumed: any change, forward or backward, is a change.
func MarkerDirty(stored string, hasStored bool, incoming string) bool {
	return !hasStored || stored != incoming
}

// UpsertIndex reconciles the upstream block index of one instrument against
// the stored block rows and returns the entries that need re-ingesting.
// The stored marker is deliberately NOT advanced here: it moves only when
// MarkBlockSyncedTx commits a successful ingest, so a block whose ingest
// fails stays dirty and is retried on the next sweep.
// Duplicate block IDs in the index keep the first occurrence.
func (s *Store) UpsertIndex(ctx context.Context, instrumentID string, entries []IndexEntry) ([]IndexEntry, error) {
	stored := map[string]string{}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT block_id, updated_marker FROM blocks WHERE instrument_id = ?`, instrumentID)
	if err != nil {
		return nil, fmt.Errorf("load block markers: %w", err)
	}
	for rows.Next() {
		var id, marker string
		if err := rows.Scan(&id, &marker); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan block marker: %w", err)
		}
		stored[id] = marker
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	seen := map[string]bool{}
	var dirty []IndexEntry
	for _, e := range entries {
		if seen[e.BlockID] {
			continue
		}
		seen[e.BlockID] = true

		prev, ok := stored[e.BlockID]
		if MarkerDirty(prev, ok, e.UpdatedMarker) {
			dirty = append(dirty, e)
		}

		_, err := s.DB.ExecContext(ctx,
			`INSERT INTO blocks (instrument_id, block_id, heading, updated_marker, url, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?, ?)
			ON CONFLICT(instrument_id, block_id) DO UPDATE SET
				heading = excluded.heading,
				url = excluded.url,
				updated_at = excluded.updated_at`,
			instrumentID, e.BlockID, e.Heading, e.URL, now, now,
		)
		if err != nil {
			return nil, fmt.Errorf("upsert block %s/%s: %w", instrumentID, e.BlockID, err)
		}
	}
	return dirty, nil
}

// SetBlockKindTx records the block kind, which the index omits and only
// the block body carries.
func (s *Store) SetBlockKindTx(ctx context.Context, tx *sql.Tx, instrumentID, blockID, kind string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE blocks SET kind = ?, updated_at = ? WHERE instrument_id = ? AND block_id = ?`,
		kind, time.Now().UnixMilli(), instrumentID, blockID)
	return err
}

// MarkBlockSyncedTx stamps a block after its versions were ingested and
// advances the stored marker to the one the ingest ran against. Committing
// the marker in the same transaction as the version rows means a crash or
// failed ingest leaves the old marker behind and the block dirty.
func (s *Store) MarkBlockSyncedTx(ctx context.Context, tx *sql.Tx, instrumentID, blockID, marker string) error {
	now := time.Now().UnixMilli()
	_, err := tx.ExecContext(ctx,
		`UPDATE blocks SET updated_marker = ?, synced_at = ?, updated_at = ?
		WHERE instrument_id = ? AND block_id = ?`,
		marker, now, now, instrumentID, blockID)
	return err
}

// GetBlock retrieves one block.
func (s *Store) GetBlock(ctx context.Context, instrumentID, blockID string) (*Block, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT instrument_id, block_id, kind, heading, updated_marker, url,
		synced_at, created_at, updated_at
		FROM blocks WHERE instrument_id = ? AND block_id = ?`, instrumentID, blockID)

	var b Block
	err := row.Scan(&b.InstrumentID, &b.BlockID, &b.Kind, &b.Heading,
		&b.UpdatedMarker, &b.URL, &b.SyncedAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block: %w", err)
	}
	return &b, nil
}

// ListBlocks returns all blocks of an instrument in block-ID order.
func (s *Store) ListBlocks(ctx context.Context, instrumentID string) ([]*Block, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT instrument_id, block_id, kind, heading, updated_marker, url,
		synced_at, created_at, updated_at
		FROM blocks WHERE instrument_id = ? ORDER BY block_id`, instrumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.InstrumentID, &b.BlockID, &b.Kind, &b.Heading,
			&b.UpdatedMarker, &b.URL, &b.SyncedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
