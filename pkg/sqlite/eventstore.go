// Package sqlite provides the SQLite-backed event store and checkpoint
// store. It uses the pure Go modernc.org/sqlite driver, so there are no
// CGo dependencies.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/sqlite/migrate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// EventStore is a SQLite-based implementation of eventsourcing.EventStore.
// Appends are serialized under a mutex and committed in a single
// transaction, which is what makes id assignment atomic and gapless.
type EventStore struct {
	db *sql.DB
	mu sync.Mutex
}

type eventStoreConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "tonearm.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
	}
}

// EventStoreOption is a function that configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses an in-memory database. Intended for tests.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = ":memory:"
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging for better concurrency.
// Recommended for file-backed databases; not applicable to :memory:.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate enables automatic migration on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
	}
}

// NewEventStore opens (and by default migrates) a SQLite event store.
//
//	// Defaults: tonearm.db, WAL mode, auto-migrate
//	store, err := sqlite.NewEventStore()
//
//	// In-memory database for testing
//	store, err := sqlite.NewEventStore(sqlite.WithMemoryDatabase())
func NewEventStore(opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database exists per connection, so the pool must be
	// pinned to one connection or each would see an empty database.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{db: db}

	if config.walMode && config.dsn != ":memory:" {
		if err := store.setWALMode(); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runEventMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return store, nil
}

func (s *EventStore) setWALMode() error {
	_, err := s.db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
	`)
	return err
}

func runEventMigrations(db *sql.DB) error {
	m := migrate.New(db, "event_schema_migrations")
	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("load event migrations: %w", err)
	}
	return m.Up()
}

// Append appends events atomically and returns the last assigned id.
// Either all events commit with contiguous fresh ids, or none do.
func (s *EventStore) Append(ctx context.Context, events ...eventsourcing.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eventsourcing.NewStoreError("append", err)
	}
	defer tx.Rollback()

	var lastID int64
	for _, event := range events {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (kind, actor, created_at, payload)
			VALUES (?, ?, ?, ?)
		`, event.Kind, event.Actor, event.CreatedAt.Unix(), string(event.Payload))
		if err != nil {
			return 0, eventsourcing.NewStoreError("append", err)
		}
		lastID, err = res.LastInsertId()
		if err != nil {
			return 0, eventsourcing.NewStoreError("append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eventsourcing.NewStoreError("append commit", err)
	}
	return lastID, nil
}

// ReadFrom loads up to limit events with id > afterID in ascending order.
func (s *EventStore) ReadFrom(ctx context.Context, afterID int64, limit int) ([]eventsourcing.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means unlimited
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, actor, created_at, payload
		FROM events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, eventsourcing.NewStoreError("read", err)
	}
	defer rows.Close()

	var events []eventsourcing.Event
	for rows.Next() {
		var (
			event     eventsourcing.Event
			createdAt int64
			payload   string
		)
		if err := rows.Scan(&event.ID, &event.Kind, &event.Actor, &createdAt, &payload); err != nil {
			return nil, eventsourcing.NewStoreError("read", err)
		}
		event.CreatedAt = time.Unix(createdAt, 0).UTC()
		event.Payload = []byte(payload)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, eventsourcing.NewStoreError("read", err)
	}
	return events, nil
}

// LastID returns the highest assigned event id, 0 for an empty log.
func (s *EventStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id)
	if err != nil {
		return 0, eventsourcing.NewStoreError("last id", err)
	}
	return id, nil
}

// DB returns the underlying database connection so checkpoint and
// projection tables can live in the same database.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Close closes the event store and releases resources.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
