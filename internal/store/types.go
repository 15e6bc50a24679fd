// CLAUDE:SUMMARY All store data types: Instrument, Block, Version, Fragment, SearchHit, SyncRun, Stats.
package store

// Instrument is one legal norm (a law, decree or order) tracked in the corpus.
// Legal dates are YYYY-MM-DD strings; empty means unknown.
type Instrument struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Rank            string `json:"rank"`
	Department      string `json:"department"`
	Scope           string `json:"scope"`
	PublicationDate string `json:"publication_date"`
	EnactmentDate   string `json:"enactment_date"`
	URL             string `json:"url"`
	LastSeenAt      *int64 `json:"last_seen_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Block is one structural unit of an instrument's consolidated text.
// UpdatedMarker is the upstream change marker, stored verbatim and compared
// byte-for-byte: its format is opaque to us.
type Block struct {
	InstrumentID  string `json:"instrument_id"`
	BlockID       string `json:"block_id"`
	Kind          string `json:"kind"`
	Heading       string `json:"heading"`
	UpdatedMarker string `json:"updated_marker"`
	URL           string `json:"url"`
	SyncedAt      *int64 `json:"synced_at,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// IndexEntry is one block as listed by the upstream block index.
// The index carries no kind; that arrives with the block body.
type IndexEntry struct {
	BlockID       string `json:"block_id"`
	Heading       string `json:"heading"`
	UpdatedMarker string `json:"updated_marker"`
	URL           string `json:"url"`
}

// Version is one wording of a block over a time interval. The ID is a
// content hash, so the row is immutable except for EffectiveEnd, which
// consolidation backfills when a successor version appears. A nil
// EffectiveEnd means the version is open (in force).
type Version struct {
	ID              string  `json:"id"`
	InstrumentID    string  `json:"instrument_id"`
	BlockID         string  `json:"block_id"`
	AmendingID      string  `json:"amending_id,omitempty"`
	PublicationDate string  `json:"publication_date"`
	EffectiveStart  string  `json:"effective_start"`
	EffectiveEnd    *string `json:"effective_end,omitempty"`
	RawHash         string  `json:"raw_hash"`
	TextHash        string  `json:"text_hash"`
	NormalizeMode   string  `json:"normalize_mode"`
	CreatedAt       int64   `json:"created_at"`
}

// Fragment is one retrieval-sized span of a version's normalized text.
// Ordinals are dense and zero-based within a version.
type Fragment struct {
	ID           string `json:"id"`
	VersionID    string `json:"version_id"`
	Ordinal      int    `json:"ordinal"`
	ArticleLabel string `json:"article_label"`
	Text         string `json:"text"`
	TextHash     string `json:"text_hash"`
	CreatedAt    int64  `json:"created_at"`
}

// FragmentDoc is a fragment joined with its version's provenance, shaped
// for handing to the vector index.
type FragmentDoc struct {
	ID             string `json:"id"`
	VersionID      string `json:"version_id"`
	Ordinal        int    `json:"ordinal"`
	ArticleLabel   string `json:"article_label"`
	Text           string `json:"text"`
	InstrumentID   string `json:"instrument_id"`
	BlockID        string `json:"block_id"`
	EffectiveStart string `json:"effective_start"`
	EffectiveEnd   string `json:"effective_end,omitempty"`
}

// SearchHit is one full-text match over fragments, joined with its
// version's temporal window so callers can tell current from historical.
type SearchHit struct {
	FragmentID     string  `json:"fragment_id"`
	VersionID      string  `json:"version_id"`
	InstrumentID   string  `json:"instrument_id"`
	BlockID        string  `json:"block_id"`
	ArticleLabel   string  `json:"article_label"`
	Text           string  `json:"text"`
	EffectiveStart string  `json:"effective_start"`
	EffectiveEnd   *string `json:"effective_end,omitempty"`
	Rank           float64 `json:"rank"`
}

// Inconsistency flags a block whose open-version count is not exactly one.
// Zero open versions means history closed without a successor; more than
// one means consolidation has not caught up or upstream data conflicts.
type Inconsistency struct {
	InstrumentID string `json:"instrument_id"`
	BlockID      string `json:"block_id"`
	Versions     int    `json:"versions"`
	Open         int    `json:"open"`
}

// SyncRun records one sweep of the upstream source.
type SyncRun struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"` // "window" | "historical"
	WindowFrom      string `json:"window_from"`
	WindowTo        string `json:"window_to"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      *int64 `json:"finished_at,omitempty"`
	Status          string `json:"status"` // "running" | "ok" | "partial" | "error"
	InstrumentsSeen int    `json:"instruments_seen"`
	BlocksSeen      int    `json:"blocks_seen"`
	BlocksDirty     int    `json:"blocks_dirty"`
	VersionsAdded   int    `json:"versions_added"`
	FragmentsAdded  int    `json:"fragments_added"`
	FailuresJSON    string `json:"failures_json"`
}

// Stats holds aggregate corpus counters.
type Stats struct {
	Instruments  int    `json:"instruments"`
	Blocks       int    `json:"blocks"`
	Versions     int    `json:"versions"`
	OpenVersions int    `json:"open_versions"`
	Fragments    int    `json:"fragments"`
	EmbedPending int    `json:"embed_pending"`
	EmbedFailed  int    `json:"embed_failed"`
	LastSyncAt   *int64 `json:"last_sync_at,omitempty"`
}
