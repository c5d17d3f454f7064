// Package state persists datasources, conversation threads, checkpoints,
// responses and feedback in SQLite. Feedback rows are append-only apart from
// the consumed marker set when a refinement has used them.
package state

import (
	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Type aliases for the persisted types defined in pkg/core.
type (
	// Store is an alias for core.Store.
	Store = core.Store

	// Thread is an alias for core.Thread.
	Thread = core.Thread

	// Checkpoint is an alias for core.Checkpoint.
	Checkpoint = core.Checkpoint
)

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
