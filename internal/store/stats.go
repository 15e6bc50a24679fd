package store

import "context"

// GetStats returns aggregate corpus counters.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM instruments),
		(SELECT COUNT(*) FROM blocks),
		(SELECT COUNT(*) FROM versions),
		(SELECT COUNT(*) FROM versions WHERE effective_end IS NULL),
		(SELECT COUNT(*) FROM fragments),
		(SELECT COUNT(*) FROM pending_embeddings WHERE status IN ('pending', 'processing')),
		(SELECT COUNT(*) FROM pending_embeddings WHERE status = 'failed'),
		(SELECT MAX(started_at) FROM sync_runs)`)
	if err := row.Scan(&st.Instruments, &st.Blocks, &st.Versions, &st.OpenVersions,
		&st.Fragments, &st.EmbedPending, &st.EmbedFailed, &st.LastSyncAt); err != nil {
		return nil, err
	}
	return &st, nil
}
