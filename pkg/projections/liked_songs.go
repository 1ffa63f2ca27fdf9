package projections

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
)

// LikedSongs maintains the per-user set of liked recording ids.
// Set semantics make replay idempotent: liking twice inserts once,
// unliking an absent row deletes nothing.
type LikedSongs struct{}

// NewLikedSongs creates the liked songs reducer.
func NewLikedSongs() *LikedSongs {
	return &LikedSongs{}
}

// Name returns the projection name.
func (p *LikedSongs) Name() string {
	return "liked_songs"
}

// Apply processes one event within tx.
func (p *LikedSongs) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	switch event.Kind {
	case library.KindSongLiked:
		var payload library.SongLiked
		if err := event.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Kind, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO liked_songs (user_id, recording_id, liked_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, payload.UserID, payload.RecordingID, event.CreatedAt.Unix(), event.CreatedAt.Unix())
		return err

	case library.KindSongUnliked:
		var payload library.SongLiked
		if err := event.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Kind, err)
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM liked_songs WHERE user_id = ? AND recording_id = ?
		`, payload.UserID, payload.RecordingID)
		return err
	}
	return nil
}

// LikedSongsReader answers queries against the liked songs projection.
type LikedSongsReader struct {
	db *sql.DB
}

// NewLikedSongsReader creates a reader over db.
func NewLikedSongsReader(db *sql.DB) *LikedSongsReader {
	return &LikedSongsReader{db: db}
}

// IsLiked reports whether the user has liked the recording.
func (r *LikedSongsReader) IsLiked(ctx context.Context, userID, recordingID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM liked_songs WHERE user_id = ? AND recording_id = ?
	`, userID, recordingID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query liked: %w", err)
	}
	return true, nil
}

// ListForUser returns the user's liked recording ids, most recent first.
func (r *LikedSongsReader) ListForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT recording_id FROM liked_songs
		WHERE user_id = ?
		ORDER BY liked_at DESC, recording_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list liked: %w", err)
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
	return ids, rows.Err()
}
