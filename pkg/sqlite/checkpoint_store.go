package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/sqlite/migrate"
)

//go:embed checkpoint_migrations/*.sql
var checkpointMigrationsFS embed.FS

// CheckpointStore is a SQLite-based implementation of
// eventsourcing.CheckpointStore. It is normally created on the same
// database as the event store and the projection tables so that
// SaveInTx can commit a checkpoint advance together with the projection
// mutation it covers.
type CheckpointStore struct {
	db *sql.DB
}

type checkpointStoreConfig struct {
	autoMigrate bool
}

// CheckpointStoreOption is a function that configures a CheckpointStore.
type CheckpointStoreOption func(*checkpointStoreConfig)

// WithCheckpointAutoMigrate enables automatic migration on startup.
func WithCheckpointAutoMigrate(enabled bool) CheckpointStoreOption {
	return func(c *checkpointStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewCheckpointStore creates a checkpoint store on db.
//
//	checkpoints, err := sqlite.NewCheckpointStore(eventStore.DB())
func NewCheckpointStore(db *sql.DB, opts ...CheckpointStoreOption) (*CheckpointStore, error) {
	config := checkpointStoreConfig{autoMigrate: true}
	for _, opt := range opts {
		opt(&config)
	}

	store := &CheckpointStore{db: db}

	if config.autoMigrate {
		if err := runCheckpointMigrations(db); err != nil {
			return nil, fmt.Errorf("run checkpoint migrations: %w", err)
		}
	}
	return store, nil
}

func runCheckpointMigrations(db *sql.DB) error {
	m := migrate.New(db, "checkpoint_schema_migrations")
	if err := m.LoadFromFS(checkpointMigrationsFS, "checkpoint_migrations"); err != nil {
		return fmt.Errorf("load checkpoint migrations: %w", err)
	}
	return m.Up()
}

// DB returns the underlying database connection for creating transactions.
func (s *CheckpointStore) DB() *sql.DB {
	return s.db
}

// Load loads the checkpoint for a projection. A projection that has
// never run gets a zero checkpoint, not an error.
func (s *CheckpointStore) Load(ctx context.Context, name string) (eventsourcing.Checkpoint, error) {
	var (
		cp        eventsourcing.Checkpoint
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT projection_name, last_event_id, updated_at
		FROM checkpoints
		WHERE projection_name = ?
	`, name).Scan(&cp.Name, &cp.LastEventID, &updatedAt)

	if err == sql.ErrNoRows {
		return eventsourcing.Checkpoint{Name: name}, nil
	}
	if err != nil {
		return eventsourcing.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", name, err)
	}

	cp.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return cp, nil
}

// Save saves a checkpoint in its own transaction.
// WARNING: for atomic projection updates use SaveInTx to avoid
// dual-write divergence between projection rows and the checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, cp eventsourcing.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, saveCheckpointSQL,
		cp.Name, cp.LastEventID, cp.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.Name, err)
	}
	return nil
}

// SaveInTx saves a checkpoint within the provided transaction so the
// projection update and the checkpoint advance commit atomically.
func (s *CheckpointStore) SaveInTx(tx *sql.Tx, cp eventsourcing.Checkpoint) error {
	_, err := tx.Exec(saveCheckpointSQL,
		cp.Name, cp.LastEventID, cp.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint %s in tx: %w", cp.Name, err)
	}
	return nil
}

// Delete deletes a checkpoint (for rebuilding a projection).
func (s *CheckpointStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE projection_name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", name, err)
	}
	return nil
}

const saveCheckpointSQL = `
	INSERT INTO checkpoints (projection_name, last_event_id, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(projection_name) DO UPDATE SET
		last_event_id = excluded.last_event_id,
		updated_at = excluded.updated_at
`
