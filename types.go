package lexkeeper

import (
	"github.com/hazyhaar/lexkeeper/internal/store"
	"github.com/hazyhaar/lexkeeper/internal/vecindex"
)

// Re-exported types from internal packages for use by cmd/ and external
// callers.
type (
	Instrument    = store.Instrument
	Block         = store.Block
	Version       = store.Version
	Fragment      = store.Fragment
	SearchHit     = store.SearchHit
	Inconsistency = store.Inconsistency
	SyncRun       = store.SyncRun
	Stats         = store.Stats
	VectorHit     = vecindex.Hit
)
