// Package metadata defines the metadata catalog boundary. The command
// service and the download orchestrator only see the Provider
// interface; lookups that fail or time out are reported as not found so
// existence checks fail closed instead of leaving state ambiguous.
package metadata

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the catalog has no entity for an id.
var ErrNotFound = errors.New("metadata: not found")

// Artist is a catalog artist.
type Artist struct {
	ID             string
	Name           string
	SortName       string
	Disambiguation string
}

// ReleaseGroup is a catalog release group (an album across its editions).
type ReleaseGroup struct {
	ID               string
	ArtistID         string
	Title            string
	PrimaryType      string
	FirstReleaseDate string
}

// Track is one track of a release.
type Track struct {
	RecordingID string
	Title       string
	Position    int
	LengthMS    int
}

// Recording is a single catalog recording.
type Recording struct {
	ID       string
	Title    string
	LengthMS int
}

// Provider looks up catalog metadata. Implementations are expected to
// bound each call with the context deadline; the caller supplies
// timeouts and bounded retries.
type Provider interface {
	// GetArtistByID resolves an artist, ErrNotFound if unknown.
	GetArtistByID(ctx context.Context, artistID string) (Artist, error)

	// GetRecordingByID resolves a recording, ErrNotFound if unknown.
	GetRecordingByID(ctx context.Context, recordingID string) (Recording, error)

	// GetReleaseGroupByID resolves a release group, ErrNotFound if unknown.
	GetReleaseGroupByID(ctx context.Context, releaseGroupID string) (ReleaseGroup, error)

	// GetReleaseGroupsForArtist lists an artist's release groups.
	GetReleaseGroupsForArtist(ctx context.Context, artistID string) ([]ReleaseGroup, error)

	// GetRecordingsForRelease lists the expected track list of a release
	// group, in track order. The orchestrator uses it to verify a
	// transfer delivered every expected file.
	GetRecordingsForRelease(ctx context.Context, releaseGroupID string) ([]Track, error)
}
