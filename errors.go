package lexkeeper

import (
	"github.com/hazyhaar/lexkeeper/internal/store"
	"github.com/hazyhaar/lexkeeper/internal/vecindex"
)

// Sentinel errors re-exported for callers that only import the root
// package. Compare with errors.Is.
var (
	ErrNotFound         = store.ErrNotFound
	ErrNoCurrentVersion = store.ErrNoCurrentVersion
	ErrNoVersionInForce = store.ErrNoVersionInForce
	ErrVectorsDisabled  = vecindex.ErrDisabled
)
