// Package library holds the music library domain: event kinds and
// payloads, typed commands with closed result sets, and the command
// service that validates, appends, and drives projections.
package library

// Event kinds appended by the command service and the download/import
// orchestration. Reducers switch on these; unknown kinds are no-ops.
const (
	KindSongLiked   = "library.song_liked"
	KindSongUnliked = "library.song_unliked"

	KindArtistAdded   = "library.artist_added"
	KindArtistRemoved = "library.artist_removed"
	KindReleaseAdded  = "library.release_added"

	KindPlaylistCreated     = "playlist.created"
	KindPlaylistRenamed     = "playlist.renamed"
	KindPlaylistDeleted     = "playlist.deleted"
	KindPlaylistSongAdded   = "playlist.song_added"
	KindPlaylistSongRemoved = "playlist.song_removed"

	KindUserCreated = "user.created"

	KindPlayRecorded = "player.play_recorded"
)

// SongLiked records that a user liked a recording. The same payload
// shape serves KindSongUnliked.
type SongLiked struct {
	UserID      string `json:"user_id"`
	RecordingID string `json:"recording_id"`
}

// ArtistAdded records that an artist entered the server library.
type ArtistAdded struct {
	ArtistID string `json:"artist_id"`
	Name     string `json:"name"`
}

// ArtistRemoved records that an artist left the server library. All of
// the artist's release memberships are removed with it.
type ArtistRemoved struct {
	ArtistID string `json:"artist_id"`
}

// ReleaseAdded records that a release group became available in the
// server library, either through an artist import or a completed
// download.
type ReleaseAdded struct {
	ArtistID       string `json:"artist_id"`
	ReleaseGroupID string `json:"release_group_id"`
	Title          string `json:"title"`
}

// PlaylistCreated records a new playlist owned by the acting user.
type PlaylistCreated struct {
	PlaylistID string `json:"playlist_id"`
	Name       string `json:"name"`
}

// PlaylistRenamed records a rename by the playlist owner.
type PlaylistRenamed struct {
	PlaylistID string `json:"playlist_id"`
	NewName    string `json:"new_name"`
}

// PlaylistDeleted records a deletion by the playlist owner.
type PlaylistDeleted struct {
	PlaylistID string `json:"playlist_id"`
}

// PlaylistSongAdded appends a recording to a playlist. The same payload
// shape serves KindPlaylistSongRemoved.
type PlaylistSongAdded struct {
	PlaylistID  string `json:"playlist_id"`
	RecordingID string `json:"recording_id"`
}

// UserCreated records a new user account.
type UserCreated struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// PlayRecorded records a single playback of a recording by a user.
type PlayRecorded struct {
	UserID      string `json:"user_id"`
	RecordingID string `json:"recording_id"`
}
