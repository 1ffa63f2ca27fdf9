package projections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
)

// Users maintains the user accounts read model.
type Users struct{}

// NewUsers creates the users reducer.
func NewUsers() *Users {
	return &Users{}
}

// Name returns the projection name.
func (p *Users) Name() string {
	return "users"
}

// Apply processes one event within tx.
func (p *Users) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	if event.Kind != library.KindUserCreated {
		return nil
	}

	var payload library.UserCreated
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	at := event.CreatedAt.Unix()
	// OR IGNORE covers both re-delivery of the same event and a racing
	// create that claimed the username first; the command service
	// validates against this table before appending.
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (user_id, username, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, payload.UserID, payload.Username, at, at)
	return err
}

// UsersReader answers user queries.
type UsersReader struct {
	db *sql.DB
}

// NewUsersReader creates a reader over db.
func NewUsersReader(db *sql.DB) *UsersReader {
	return &UsersReader{db: db}
}

// ByUsername returns the user with the given name, or ok=false.
func (r *UsersReader) ByUsername(ctx context.Context, username string) (library.User, bool, error) {
	var (
		user      library.User
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, username, created_at FROM users WHERE username = ?
	`, username).Scan(&user.UserID, &user.Username, &createdAt)
	if err == sql.ErrNoRows {
		return library.User{}, false, nil
	}
	if err != nil {
		return library.User{}, false, fmt.Errorf("query user: %w", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	return user, true, nil
}

// Exists reports whether a user id is known.
func (r *UsersReader) Exists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE user_id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return true, nil
}
