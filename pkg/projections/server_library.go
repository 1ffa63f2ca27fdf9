package projections

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
)

// ServerLibrary maintains which artists and release groups are present
// in the server library. Adds are set-insertions keyed by id, so
// re-delivery of a membership event is a no-op.
type ServerLibrary struct{}

// NewServerLibrary creates the membership reducer.
func NewServerLibrary() *ServerLibrary {
	return &ServerLibrary{}
}

// Name returns the projection name.
func (p *ServerLibrary) Name() string {
	return "server_library"
}

// Apply processes one event within tx.
func (p *ServerLibrary) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	at := event.CreatedAt.Unix()

	switch event.Kind {
	case library.KindArtistAdded:
		var payload library.ArtistAdded
		if err := event.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Kind, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO library_artists (artist_id, name, added_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(artist_id) DO UPDATE SET
				name = excluded.name,
				updated_at = excluded.updated_at
		`, payload.ArtistID, payload.Name, at, at)
		return err

	case library.KindArtistRemoved:
		var payload library.ArtistRemoved
		if err := event.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Kind, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM library_releases WHERE artist_id = ?`, payload.ArtistID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM library_artists WHERE artist_id = ?`, payload.ArtistID)
		return err

	case library.KindReleaseAdded:
		var payload library.ReleaseAdded
		if err := event.DecodePayload(&payload); err != nil {
			return fmt.Errorf("decode %s: %w", event.Kind, err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO library_releases (artist_id, release_group_id, title, added_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(artist_id, release_group_id) DO UPDATE SET
				title = excluded.title,
				updated_at = excluded.updated_at
		`, payload.ArtistID, payload.ReleaseGroupID, payload.Title, at, at)
		return err
	}
	return nil
}

// LibraryArtist is one row of the artist membership projection.
type LibraryArtist struct {
	ArtistID string
	Name     string
	AddedAt  time.Time
}

// ServerLibraryReader answers membership queries for command validation
// and enqueue-time dedup.
type ServerLibraryReader struct {
	db *sql.DB
}

// NewServerLibraryReader creates a reader over db.
func NewServerLibraryReader(db *sql.DB) *ServerLibraryReader {
	return &ServerLibraryReader{db: db}
}

// HasArtist reports whether the artist is in the server library.
func (r *ServerLibraryReader) HasArtist(ctx context.Context, artistID string) (bool, error) {
	return r.exists(ctx, `SELECT 1 FROM library_artists WHERE artist_id = ?`, artistID)
}

// HasRelease reports whether the release group is in the server library.
func (r *ServerLibraryReader) HasRelease(ctx context.Context, artistID, releaseGroupID string) (bool, error) {
	return r.exists(ctx,
		`SELECT 1 FROM library_releases WHERE artist_id = ? AND release_group_id = ?`,
		artistID, releaseGroupID)
}

// CountReleases returns how many release groups the artist has in the
// library. Used to reconstruct import progress after a restart.
func (r *ServerLibraryReader) CountReleases(ctx context.Context, artistID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM library_releases WHERE artist_id = ?`, artistID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count releases: %w", err)
	}
	return n, nil
}

// ListArtists returns all artists in the library, ordered by name.
func (r *ServerLibraryReader) ListArtists(ctx context.Context) ([]LibraryArtist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT artist_id, name, added_at FROM library_artists ORDER BY name, artist_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}
	defer rows.Close()

	var artists []LibraryArtist
	for rows.Next() {
		var (
			artist  LibraryArtist
			addedAt int64
		)
		if err := rows.Scan(&artist.ArtistID, &artist.Name, &addedAt); err != nil {
			return nil, err
		}
		artist.AddedAt = time.Unix(addedAt, 0).UTC()
		artists = append(artists, artist)
	}
	return artists, rows.Err()
}

func (r *ServerLibraryReader) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("membership query: %w", err)
	}
	return true, nil
}
