package library

import (
	"context"
	"time"
)

// Readers groups the projection readers the command service validates
// against. Handlers re-check preconditions right before appending;
// projection freshness across concurrent commands is never assumed.
// The interfaces are satisfied by the concrete readers in the
// projections package, which depends on this one for event kinds and
// payloads.
type Readers struct {
	Liked     LikedReader
	Library   MembershipReader
	Playlists PlaylistReader
	Users     UserReader
}

// LikedReader answers liked-state queries.
type LikedReader interface {
	IsLiked(ctx context.Context, userID, recordingID string) (bool, error)
}

// MembershipReader answers server library membership queries.
type MembershipReader interface {
	HasArtist(ctx context.Context, artistID string) (bool, error)
	HasRelease(ctx context.Context, artistID, releaseGroupID string) (bool, error)
}

// PlaylistReader loads playlists for ownership and membership checks.
type PlaylistReader interface {
	Get(ctx context.Context, playlistID string) (Playlist, bool, error)
}

// UserReader answers user account queries.
type UserReader interface {
	ByUsername(ctx context.Context, username string) (User, bool, error)
	Exists(ctx context.Context, userID string) (bool, error)
}

// Playlist is the read-model view of a playlist with its ordered
// recording ids.
type Playlist struct {
	PlaylistID string
	OwnerID    string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Items      []string
}

// User is the read-model view of a user account.
type User struct {
	UserID    string
	Username  string
	CreatedAt time.Time
}
