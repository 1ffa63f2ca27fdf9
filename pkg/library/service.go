package library

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/idgen"
	"github.com/tonearm/tonearm/pkg/messaging"
	"github.com/tonearm/tonearm/pkg/metadata"
	"github.com/tonearm/tonearm/pkg/observability"
)

// AcquisitionCanceller cancels the in-flight acquisitions for an
// artist and drops its waiting ones. Implemented by the download
// queue; used when an artist is removed while a download for it is
// still running.
type AcquisitionCanceller interface {
	CancelActiveForArtist(artistID string) int
}

// CommandService validates commands against current projection state,
// appends the resulting events, synchronously drives the projection
// pipeline so callers observe their own writes, and returns typed
// results. Business outcomes are values, never errors; an error from
// any method means storage failed and nothing was recorded.
type CommandService struct {
	events    eventsourcing.EventStore
	pipeline  *eventsourcing.Pipeline
	readers   Readers
	meta      metadata.Provider
	bus       messaging.EventBus
	canceller AcquisitionCanceller
	logger    *slog.Logger
	metrics   *observability.Metrics

	lookupTimeout  time.Duration
	lookupAttempts int

	artistAdded func(artistID, name string)
}

// ServiceOption configures a CommandService.
type ServiceOption func(*CommandService)

// WithEventBus publishes appended events to bus. Publish failures are
// logged, not surfaced: the event store is the source of truth.
func WithEventBus(bus messaging.EventBus) ServiceOption {
	return func(s *CommandService) {
		s.bus = bus
	}
}

// WithCanceller wires the download queue so artist removal can cancel
// in-flight acquisitions.
func WithCanceller(c AcquisitionCanceller) ServiceOption {
	return func(s *CommandService) {
		s.canceller = c
	}
}

// WithServiceMetrics records handled commands and appended events.
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *CommandService) {
		s.metrics = m
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *CommandService) {
		s.logger = logger
	}
}

// WithLookupTimeout bounds each external existence check. Default 10s.
func WithLookupTimeout(d time.Duration) ServiceOption {
	return func(s *CommandService) {
		if d > 0 {
			s.lookupTimeout = d
		}
	}
}

// WithLookupAttempts sets how many times an existence check is tried
// before failing closed. Default 2.
func WithLookupAttempts(n int) ServiceOption {
	return func(s *CommandService) {
		if n > 0 {
			s.lookupAttempts = n
		}
	}
}

// WithArtistAddedHook runs after an artist membership event lands.
// Used to kick off the background artist import.
func WithArtistAddedHook(hook func(artistID, name string)) ServiceOption {
	return func(s *CommandService) {
		s.artistAdded = hook
	}
}

// NewCommandService creates the command service.
func NewCommandService(
	events eventsourcing.EventStore,
	pipeline *eventsourcing.Pipeline,
	readers Readers,
	meta metadata.Provider,
	opts ...ServiceOption,
) *CommandService {
	s := &CommandService{
		events:         events,
		pipeline:       pipeline,
		readers:        readers,
		meta:           meta,
		logger:         slog.Default(),
		lookupTimeout:  10 * time.Second,
		lookupAttempts: 2,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LikeSong marks a recording liked by the user. Liking an already
// liked recording is a no-op. An unknown recording (or a metadata
// lookup that fails or times out) yields LikeSongDoesNotExist.
func (s *CommandService) LikeSong(ctx context.Context, userID, recordingID string) (result LikeResult, err error) {
	defer func() { s.handled(ctx, "like_song", result, err) }()

	liked, err := s.readers.Liked.IsLiked(ctx, userID, recordingID)
	if err != nil {
		return 0, fmt.Errorf("check liked state: %w", err)
	}
	if liked {
		return LikeAlreadyLiked, nil
	}

	if !s.recordingExists(ctx, recordingID) {
		return LikeSongDoesNotExist, nil
	}

	if err := s.appendAndProject(ctx, userID, KindSongLiked,
		SongLiked{UserID: userID, RecordingID: recordingID}); err != nil {
		return 0, err
	}
	return LikeOK, nil
}

// UnlikeSong removes a like. Unliking a recording that is not liked is
// a no-op reported as UnlikeAlreadyNotLiked.
func (s *CommandService) UnlikeSong(ctx context.Context, userID, recordingID string) (result UnlikeResult, err error) {
	defer func() { s.handled(ctx, "unlike_song", result, err) }()

	liked, err := s.readers.Liked.IsLiked(ctx, userID, recordingID)
	if err != nil {
		return 0, fmt.Errorf("check liked state: %w", err)
	}
	if !liked {
		return UnlikeAlreadyNotLiked, nil
	}

	if err := s.appendAndProject(ctx, userID, KindSongUnliked,
		SongLiked{UserID: userID, RecordingID: recordingID}); err != nil {
		return 0, err
	}
	return UnlikeOK, nil
}

// AddArtistToServerLibrary adds an artist to the library. The artist
// must exist in the metadata catalog; a lookup that errors or times
// out fails closed as AddArtistDoesNotExist and appends nothing.
func (s *CommandService) AddArtistToServerLibrary(ctx context.Context, actor, artistID string) (result AddArtistResult, err error) {
	defer func() { s.handled(ctx, "add_artist", result, err) }()

	present, err := s.readers.Library.HasArtist(ctx, artistID)
	if err != nil {
		return 0, fmt.Errorf("check library membership: %w", err)
	}
	if present {
		return AddArtistAlreadyAdded, nil
	}

	artist, ok := s.lookupArtist(ctx, artistID)
	if !ok {
		return AddArtistDoesNotExist, nil
	}

	if err := s.appendAndProject(ctx, actor, KindArtistAdded,
		ArtistAdded{ArtistID: artistID, Name: artist.Name}); err != nil {
		return 0, err
	}

	if s.artistAdded != nil {
		s.artistAdded(artistID, artist.Name)
	}
	return AddArtistOK, nil
}

// RemoveArtistFromServerLibrary removes an artist and its release
// memberships, cancelling any in-flight acquisition for the artist
// before the membership event is appended.
func (s *CommandService) RemoveArtistFromServerLibrary(ctx context.Context, actor, artistID string) (result RemoveArtistResult, err error) {
	defer func() { s.handled(ctx, "remove_artist", result, err) }()

	present, err := s.readers.Library.HasArtist(ctx, artistID)
	if err != nil {
		return 0, fmt.Errorf("check library membership: %w", err)
	}
	if !present {
		return RemoveArtistNotInLibrary, nil
	}

	if s.canceller != nil {
		if n := s.canceller.CancelActiveForArtist(artistID); n > 0 {
			s.logger.Info("cancelled or dropped acquisitions for removed artist",
				slog.String("artist_id", artistID),
				slog.Int("affected", n),
			)
		}
	}

	if err := s.appendAndProject(ctx, actor, KindArtistRemoved,
		ArtistRemoved{ArtistID: artistID}); err != nil {
		return 0, err
	}
	return RemoveArtistOK, nil
}

// AddReleaseToServerLibrary records a release group as present in the
// library. Appended by artist imports and by the download orchestrator
// when an acquisition completes; actor is empty for those.
func (s *CommandService) AddReleaseToServerLibrary(ctx context.Context, actor, artistID, releaseGroupID, title string) (result AddReleaseResult, err error) {
	defer func() { s.handled(ctx, "add_release", result, err) }()

	hasArtist, err := s.readers.Library.HasArtist(ctx, artistID)
	if err != nil {
		return 0, fmt.Errorf("check library membership: %w", err)
	}
	if !hasArtist {
		return AddReleaseArtistNotInLibrary, nil
	}

	hasRelease, err := s.readers.Library.HasRelease(ctx, artistID, releaseGroupID)
	if err != nil {
		return 0, fmt.Errorf("check release membership: %w", err)
	}
	if hasRelease {
		return AddReleaseAlreadyAdded, nil
	}

	if err := s.appendAndProject(ctx, actor, KindReleaseAdded,
		ReleaseAdded{ArtistID: artistID, ReleaseGroupID: releaseGroupID, Title: title}); err != nil {
		return 0, err
	}
	return AddReleaseOK, nil
}

// CreatePlaylist creates a playlist owned by the actor and returns its
// id. The actor must be a known user; an unknown actor yields
// PlaylistUnknownOwner and appends nothing.
func (s *CommandService) CreatePlaylist(ctx context.Context, actor, name string) (id string, result PlaylistResult, err error) {
	defer func() { s.handled(ctx, "create_playlist", result, err) }()

	known, err := s.readers.Users.Exists(ctx, actor)
	if err != nil {
		return "", 0, fmt.Errorf("check actor: %w", err)
	}
	if !known {
		return "", PlaylistUnknownOwner, nil
	}

	playlistID := idgen.MustNewSortableID()
	if err := s.appendAndProject(ctx, actor, KindPlaylistCreated,
		PlaylistCreated{PlaylistID: playlistID, Name: name}); err != nil {
		return "", 0, err
	}
	return playlistID, PlaylistOK, nil
}

// RenamePlaylist renames a playlist owned by the actor.
func (s *CommandService) RenamePlaylist(ctx context.Context, actor, playlistID, newName string) (result PlaylistResult, err error) {
	defer func() { s.handled(ctx, "rename_playlist", result, err) }()

	if result, err := s.checkPlaylistOwner(ctx, actor, playlistID); result != PlaylistOK || err != nil {
		return result, err
	}
	if err := s.appendAndProject(ctx, actor, KindPlaylistRenamed,
		PlaylistRenamed{PlaylistID: playlistID, NewName: newName}); err != nil {
		return 0, err
	}
	return PlaylistOK, nil
}

// DeletePlaylist deletes a playlist owned by the actor.
func (s *CommandService) DeletePlaylist(ctx context.Context, actor, playlistID string) (result PlaylistResult, err error) {
	defer func() { s.handled(ctx, "delete_playlist", result, err) }()

	if result, err := s.checkPlaylistOwner(ctx, actor, playlistID); result != PlaylistOK || err != nil {
		return result, err
	}
	if err := s.appendAndProject(ctx, actor, KindPlaylistDeleted,
		PlaylistDeleted{PlaylistID: playlistID}); err != nil {
		return 0, err
	}
	return PlaylistOK, nil
}

// AddSongToPlaylist appends a recording to a playlist owned by the actor.
func (s *CommandService) AddSongToPlaylist(ctx context.Context, actor, playlistID, recordingID string) (result PlaylistResult, err error) {
	defer func() { s.handled(ctx, "add_song_to_playlist", result, err) }()

	pl, ok, err := s.readers.Playlists.Get(ctx, playlistID)
	if err != nil {
		return 0, fmt.Errorf("load playlist: %w", err)
	}
	if !ok {
		return PlaylistNotFound, nil
	}
	if pl.OwnerID != actor {
		return PlaylistNotAllowed, nil
	}
	for _, item := range pl.Items {
		if item == recordingID {
			return PlaylistSongAlreadyPresent, nil
		}
	}

	if err := s.appendAndProject(ctx, actor, KindPlaylistSongAdded,
		PlaylistSongAdded{PlaylistID: playlistID, RecordingID: recordingID}); err != nil {
		return 0, err
	}
	return PlaylistOK, nil
}

// RemoveSongFromPlaylist removes a recording from a playlist owned by
// the actor.
func (s *CommandService) RemoveSongFromPlaylist(ctx context.Context, actor, playlistID, recordingID string) (result PlaylistResult, err error) {
	defer func() { s.handled(ctx, "remove_song_from_playlist", result, err) }()

	pl, ok, err := s.readers.Playlists.Get(ctx, playlistID)
	if err != nil {
		return 0, fmt.Errorf("load playlist: %w", err)
	}
	if !ok {
		return PlaylistNotFound, nil
	}
	if pl.OwnerID != actor {
		return PlaylistNotAllowed, nil
	}

	present := false
	for _, item := range pl.Items {
		if item == recordingID {
			present = true
			break
		}
	}
	if !present {
		return PlaylistSongNotPresent, nil
	}

	if err := s.appendAndProject(ctx, actor, KindPlaylistSongRemoved,
		PlaylistSongAdded{PlaylistID: playlistID, RecordingID: recordingID}); err != nil {
		return 0, err
	}
	return PlaylistOK, nil
}

// RecordPlay records a single playback.
func (s *CommandService) RecordPlay(ctx context.Context, userID, recordingID string) error {
	return s.appendAndProject(ctx, userID, KindPlayRecorded,
		PlayRecorded{UserID: userID, RecordingID: recordingID})
}

// CreateUser creates a user account and returns its id.
func (s *CommandService) CreateUser(ctx context.Context, username string) (id string, result CreateUserResult, err error) {
	defer func() { s.handled(ctx, "create_user", result, err) }()

	_, taken, err := s.readers.Users.ByUsername(ctx, username)
	if err != nil {
		return "", 0, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return "", CreateUserNameTaken, nil
	}

	userID := uuid.NewString()
	if err := s.appendAndProject(ctx, "", KindUserCreated,
		UserCreated{UserID: userID, Username: username}); err != nil {
		return "", 0, err
	}
	return userID, CreateUserOK, nil
}

// handled records a completed command and its business outcome. Storage
// failures are errors, not outcomes, and are not counted.
func (s *CommandService) handled(ctx context.Context, command string, result fmt.Stringer, err error) {
	if err != nil {
		return
	}
	s.metrics.CommandHandled(ctx, command, result.String())
}

func (s *CommandService) checkPlaylistOwner(ctx context.Context, actor, playlistID string) (PlaylistResult, error) {
	pl, ok, err := s.readers.Playlists.Get(ctx, playlistID)
	if err != nil {
		return 0, fmt.Errorf("load playlist: %w", err)
	}
	if !ok {
		return PlaylistNotFound, nil
	}
	if pl.OwnerID != actor {
		return PlaylistNotAllowed, nil
	}
	return PlaylistOK, nil
}

// appendAndProject appends one event, drives every projection to the
// new head, and publishes the event. The append is the commit point: a
// failure there means nothing was recorded and surfaces as an error.
func (s *CommandService) appendAndProject(ctx context.Context, actor, kind string, payload any) error {
	event, err := eventsourcing.NewEvent(kind, actor, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	lastID, err := s.events.Append(ctx, event)
	if err != nil {
		return fmt.Errorf("append %s: %w", kind, err)
	}
	event.ID = lastID
	s.metrics.EventsAppended(ctx, 1)

	if err := s.pipeline.CatchUp(ctx); err != nil {
		// The event is durable; projections will recover on the next
		// pass. Surface the failure so the caller knows reads may lag.
		return fmt.Errorf("project %s: %w", kind, err)
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, event); err != nil {
			s.logger.Warn("event publish failed",
				slog.String("kind", kind),
				slog.Int64("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// recordingExists checks the catalog with bounded attempts. Any error
// counts as "does not exist" so validation fails closed.
func (s *CommandService) recordingExists(ctx context.Context, recordingID string) bool {
	for attempt := 0; attempt < s.lookupAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		_, err := s.meta.GetRecordingByID(lookupCtx, recordingID)
		cancel()
		if err == nil {
			return true
		}
		if err == metadata.ErrNotFound || ctx.Err() != nil {
			return false
		}
		s.logger.Warn("recording lookup failed",
			slog.String("recording_id", recordingID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// lookupArtist resolves an artist with bounded attempts, failing closed.
func (s *CommandService) lookupArtist(ctx context.Context, artistID string) (metadata.Artist, bool) {
	for attempt := 0; attempt < s.lookupAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
		artist, err := s.meta.GetArtistByID(lookupCtx, artistID)
		cancel()
		if err == nil {
			return artist, true
		}
		if err == metadata.ErrNotFound || ctx.Err() != nil {
			return metadata.Artist{}, false
		}
		s.logger.Warn("artist lookup failed",
			slog.String("artist_id", artistID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return metadata.Artist{}, false
}
