package projections

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
)

// Playlists maintains playlists and their ordered items. Events that
// reference a playlist the projection has not seen, name the wrong
// owner, or were created by an unknown user are logged and skipped:
// the event log itself is correct and a later event may resolve the
// gap, so this is a recoverable consistency gap from async processing,
// not a fatal error.
type Playlists struct {
	logger *slog.Logger
}

// NewPlaylists creates the playlists reducer.
func NewPlaylists(logger *slog.Logger) *Playlists {
	if logger == nil {
		logger = slog.Default()
	}
	return &Playlists{logger: logger}
}

// Name returns the projection name.
func (p *Playlists) Name() string {
	return "playlists"
}

// Apply processes one event within tx.
func (p *Playlists) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	switch event.Kind {
	case library.KindPlaylistCreated:
		return p.applyCreated(ctx, tx, event)
	case library.KindPlaylistRenamed:
		return p.applyRenamed(ctx, tx, event)
	case library.KindPlaylistDeleted:
		return p.applyDeleted(ctx, tx, event)
	case library.KindPlaylistSongAdded:
		return p.applySongAdded(ctx, tx, event)
	case library.KindPlaylistSongRemoved:
		return p.applySongRemoved(ctx, tx, event)
	}
	return nil
}

func (p *Playlists) applyCreated(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	var payload library.PlaylistCreated
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM users WHERE user_id = ?`, event.Actor).Scan(&one)
	if err == sql.ErrNoRows {
		p.logger.Warn("playlist created by unknown user, skipping",
			slog.Int64("event_id", event.ID),
			slog.String("kind", event.Kind),
			slog.String("playlist_id", payload.PlaylistID),
			slog.String("actor", event.Actor),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("query actor: %w", err)
	}

	at := event.CreatedAt.Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO playlists (playlist_id, owner_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, payload.PlaylistID, event.Actor, payload.Name, at, at)
	return err
}

func (p *Playlists) applyRenamed(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	var payload library.PlaylistRenamed
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	owner, ok, err := p.ownerOf(ctx, tx, payload.PlaylistID)
	if err != nil {
		return err
	}
	if !ok {
		p.warnMissing(event, payload.PlaylistID)
		return nil
	}
	if owner != event.Actor {
		p.warnOwner(event, payload.PlaylistID, owner)
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE playlists SET name = ?, updated_at = ? WHERE playlist_id = ?
	`, payload.NewName, event.CreatedAt.Unix(), payload.PlaylistID)
	return err
}

func (p *Playlists) applyDeleted(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	var payload library.PlaylistDeleted
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	owner, ok, err := p.ownerOf(ctx, tx, payload.PlaylistID)
	if err != nil {
		return err
	}
	if !ok {
		// Already gone; deletion is naturally idempotent.
		return nil
	}
	if owner != event.Actor {
		p.warnOwner(event, payload.PlaylistID, owner)
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM playlist_items WHERE playlist_id = ?`, payload.PlaylistID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM playlists WHERE playlist_id = ?`, payload.PlaylistID)
	return err
}

func (p *Playlists) applySongAdded(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	var payload library.PlaylistSongAdded
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	owner, ok, err := p.ownerOf(ctx, tx, payload.PlaylistID)
	if err != nil {
		return err
	}
	if !ok {
		p.warnMissing(event, payload.PlaylistID)
		return nil
	}
	if owner != event.Actor {
		p.warnOwner(event, payload.PlaylistID, owner)
		return nil
	}

	// INSERT OR IGNORE keeps the original position on re-delivery.
	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO playlist_items (playlist_id, recording_id, position, added_at)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM playlist_items WHERE playlist_id = ?),
			?)
	`, payload.PlaylistID, payload.RecordingID, payload.PlaylistID, event.CreatedAt.Unix())
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE playlists SET updated_at = ? WHERE playlist_id = ?
	`, event.CreatedAt.Unix(), payload.PlaylistID)
	return err
}

func (p *Playlists) applySongRemoved(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	var payload library.PlaylistSongAdded
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	owner, ok, err := p.ownerOf(ctx, tx, payload.PlaylistID)
	if err != nil {
		return err
	}
	if !ok {
		p.warnMissing(event, payload.PlaylistID)
		return nil
	}
	if owner != event.Actor {
		p.warnOwner(event, payload.PlaylistID, owner)
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM playlist_items WHERE playlist_id = ? AND recording_id = ?
	`, payload.PlaylistID, payload.RecordingID)
	return err
}

func (p *Playlists) ownerOf(ctx context.Context, tx *sql.Tx, playlistID string) (string, bool, error) {
	var owner string
	err := tx.QueryRowContext(ctx,
		`SELECT owner_id FROM playlists WHERE playlist_id = ?`, playlistID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query playlist owner: %w", err)
	}
	return owner, true, nil
}

func (p *Playlists) warnMissing(event eventsourcing.Event, playlistID string) {
	p.logger.Warn("playlist event references unknown playlist, skipping",
		slog.Int64("event_id", event.ID),
		slog.String("kind", event.Kind),
		slog.String("playlist_id", playlistID),
	)
}

func (p *Playlists) warnOwner(event eventsourcing.Event, playlistID, owner string) {
	p.logger.Warn("playlist event actor is not the owner, skipping",
		slog.Int64("event_id", event.ID),
		slog.String("kind", event.Kind),
		slog.String("playlist_id", playlistID),
		slog.String("actor", event.Actor),
		slog.String("owner", owner),
	)
}

// PlaylistsReader answers playlist queries.
type PlaylistsReader struct {
	db *sql.DB
}

// NewPlaylistsReader creates a reader over db.
func NewPlaylistsReader(db *sql.DB) *PlaylistsReader {
	return &PlaylistsReader{db: db}
}

// Get returns a playlist with its items in order, or ok=false.
func (r *PlaylistsReader) Get(ctx context.Context, playlistID string) (library.Playlist, bool, error) {
	var (
		pl        library.Playlist
		createdAt int64
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT playlist_id, owner_id, name, created_at, updated_at
		FROM playlists WHERE playlist_id = ?
	`, playlistID).Scan(&pl.PlaylistID, &pl.OwnerID, &pl.Name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return library.Playlist{}, false, nil
	}
	if err != nil {
		return library.Playlist{}, false, fmt.Errorf("query playlist: %w", err)
	}
	pl.CreatedAt = time.Unix(createdAt, 0).UTC()
	pl.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	rows, err := r.db.QueryContext(ctx, `
		SELECT recording_id FROM playlist_items
		WHERE playlist_id = ?
		ORDER BY position
	`, playlistID)
	if err != nil {
		return library.Playlist{}, false, fmt.Errorf("query playlist items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return library.Playlist{}, false, err
		}
		pl.Items = append(pl.Items, id)
	}
	return pl, true, rows.Err()
}

// ListForOwner returns the owner's playlists ordered by creation time.
func (r *PlaylistsReader) ListForOwner(ctx context.Context, ownerID string) ([]library.Playlist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT playlist_id FROM playlists
		WHERE owner_id = ?
		ORDER BY created_at, playlist_id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	playlists := make([]library.Playlist, 0, len(ids))
	for _, id := range ids {
		pl, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			playlists = append(playlists, pl)
		}
	}
	return playlists, nil
}
