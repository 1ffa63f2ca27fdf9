package projections

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
)

// PlayCounts maintains per-(user, recording) playback counters. A plain
// counter increment is not idempotent, so each row remembers the id of
// the last event it counted and ignores anything at or below it.
type PlayCounts struct{}

// NewPlayCounts creates the play counts reducer.
func NewPlayCounts() *PlayCounts {
	return &PlayCounts{}
}

// Name returns the projection name.
func (p *PlayCounts) Name() string {
	return "play_counts"
}

// Apply processes one event within tx.
func (p *PlayCounts) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	if event.Kind != library.KindPlayRecorded {
		return nil
	}

	var payload library.PlayRecorded
	if err := event.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Kind, err)
	}

	at := event.CreatedAt.Unix()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO play_counts (user_id, recording_id, play_count, last_event_id, last_played_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT(user_id, recording_id) DO UPDATE SET
			play_count = play_count + 1,
			last_event_id = excluded.last_event_id,
			last_played_at = excluded.last_played_at,
			updated_at = excluded.updated_at
		WHERE excluded.last_event_id > play_counts.last_event_id
	`, payload.UserID, payload.RecordingID, event.ID, at, at)
	return err
}

// PlayCountsReader answers play count queries.
type PlayCountsReader struct {
	db *sql.DB
}

// NewPlayCountsReader creates a reader over db.
func NewPlayCountsReader(db *sql.DB) *PlayCountsReader {
	return &PlayCountsReader{db: db}
}

// Count returns how many times the user played the recording.
func (r *PlayCountsReader) Count(ctx context.Context, userID, recordingID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT play_count FROM play_counts WHERE user_id = ? AND recording_id = ?
	`, userID, recordingID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query play count: %w", err)
	}
	return n, nil
}
