package eventsourcing

import (
	"context"
	"database/sql"
	"time"
)

// Checkpoint tracks the replay progress of a single projection.
type Checkpoint struct {
	// Name is the unique projection name this checkpoint belongs to.
	Name string

	// LastEventID is the id of the last event the projection has
	// durably applied. Monotonically non-decreasing.
	LastEventID int64

	// UpdatedAt is when the checkpoint was last advanced.
	UpdatedAt time.Time
}

// CheckpointStore persists projection checkpoints.
type CheckpointStore interface {
	// Load loads the checkpoint for a projection. If the projection has
	// never run, a zero checkpoint (LastEventID 0) is returned.
	Load(ctx context.Context, name string) (Checkpoint, error)

	// Save saves a checkpoint in its own transaction.
	// For atomic projection updates use SaveInTx instead.
	Save(ctx context.Context, cp Checkpoint) error

	// SaveInTx saves a checkpoint within the provided transaction. The
	// projection mutation and the checkpoint advance must commit together
	// so the two never diverge on crash.
	SaveInTx(tx *sql.Tx, cp Checkpoint) error

	// Delete deletes a checkpoint (for rebuilding a projection).
	Delete(ctx context.Context, name string) error
}
