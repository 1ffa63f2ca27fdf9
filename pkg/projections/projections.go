// Package projections contains the reducers that build the read models
// consumed by the API layer: liked songs, server library membership,
// playlists, play counts, and users.
//
// Exactly one reducer writes a given projection; readers never mutate
// it. Every reducer is idempotent under at-least-once delivery, so
// replaying an event across a process restart cannot corrupt state.
package projections

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/tonearm/tonearm/pkg/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations creates the projection tables. The tables must live in
// the same database as the checkpoints so a reducer's writes and its
// checkpoint advance share one transaction.
func RunMigrations(db *sql.DB) error {
	m := migrate.New(db, "projection_schema_migrations")
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("load projection migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("run projection migrations: %w", err)
	}
	return nil
}
