package projections_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/library"
	"github.com/tonearm/tonearm/pkg/projections"
	"github.com/tonearm/tonearm/pkg/sqlite"
)

type fixture struct {
	store    *sqlite.EventStore
	pipeline *eventsourcing.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewEventStore(
		sqlite.WithMemoryDatabase(),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db := store.DB()
	checkpoints, err := sqlite.NewCheckpointStore(db,
		sqlite.WithCheckpointAutoMigrate(true))
	require.NoError(t, err)
	require.NoError(t, projections.RunMigrations(db))

	pipeline := eventsourcing.NewPipeline(db, store, checkpoints)
	pipeline.Register(projections.NewLikedSongs())
	pipeline.Register(projections.NewServerLibrary())
	pipeline.Register(projections.NewPlaylists(slog.Default()))
	pipeline.Register(projections.NewPlayCounts())
	pipeline.Register(projections.NewUsers())

	return &fixture{store: store, pipeline: pipeline}
}

func (f *fixture) emit(t *testing.T, actor, kind string, payload any) {
	t.Helper()
	event, err := eventsourcing.NewEvent(kind, actor, payload)
	require.NoError(t, err)
	_, err = f.store.Append(context.Background(), event)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.CatchUp(context.Background()))
}

func TestLikedSongsProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := projections.NewLikedSongsReader(f.store.DB())

	f.emit(t, "u1", library.KindSongLiked, library.SongLiked{UserID: "u1", RecordingID: "r1"})

	liked, err := reader.IsLiked(ctx, "u1", "r1")
	require.NoError(t, err)
	require.True(t, liked)

	t.Run("ReplayIsIdempotent", func(t *testing.T) {
		require.NoError(t, f.pipeline.Rebuild(ctx, "liked_songs"))

		songs, err := reader.ListForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, songs, 1)
	})

	t.Run("UnlikeRemoves", func(t *testing.T) {
		f.emit(t, "u1", library.KindSongUnliked, library.SongLiked{UserID: "u1", RecordingID: "r1"})

		liked, err := reader.IsLiked(ctx, "u1", "r1")
		require.NoError(t, err)
		require.False(t, liked)
	})
}

func TestServerLibraryProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := projections.NewServerLibraryReader(f.store.DB())

	f.emit(t, "admin", library.KindArtistAdded, library.ArtistAdded{ArtistID: "a1", Name: "Boards of Canada"})
	f.emit(t, "", library.KindReleaseAdded, library.ReleaseAdded{ArtistID: "a1", ReleaseGroupID: "rg1", Title: "Geogaddi"})
	f.emit(t, "", library.KindReleaseAdded, library.ReleaseAdded{ArtistID: "a1", ReleaseGroupID: "rg2", Title: "Tomorrow's Harvest"})

	has, err := reader.HasArtist(ctx, "a1")
	require.NoError(t, err)
	require.True(t, has)

	count, err := reader.CountReleases(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	t.Run("DuplicateReleaseEventIsIdempotent", func(t *testing.T) {
		f.emit(t, "", library.KindReleaseAdded, library.ReleaseAdded{ArtistID: "a1", ReleaseGroupID: "rg1", Title: "Geogaddi"})

		count, err := reader.CountReleases(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})

	t.Run("RemovingArtistCascadesReleases", func(t *testing.T) {
		f.emit(t, "admin", library.KindArtistRemoved, library.ArtistRemoved{ArtistID: "a1"})

		has, err := reader.HasArtist(ctx, "a1")
		require.NoError(t, err)
		require.False(t, has)

		count, err := reader.CountReleases(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})
}

func TestPlaylistsProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := projections.NewPlaylistsReader(f.store.DB())

	f.emit(t, "", library.KindUserCreated, library.UserCreated{UserID: "owner", Username: "ada"})
	f.emit(t, "owner", library.KindPlaylistCreated, library.PlaylistCreated{PlaylistID: "p1", Name: "Morning"})
	f.emit(t, "owner", library.KindPlaylistSongAdded, library.PlaylistSongAdded{PlaylistID: "p1", RecordingID: "r1"})
	f.emit(t, "owner", library.KindPlaylistSongAdded, library.PlaylistSongAdded{PlaylistID: "p1", RecordingID: "r2"})
	f.emit(t, "owner", library.KindPlaylistSongAdded, library.PlaylistSongAdded{PlaylistID: "p1", RecordingID: "r3"})

	pl, ok, err := reader.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"r1", "r2", "r3"}, pl.Items, "items keep insertion order")

	t.Run("CreateByUnknownUserIsSkipped", func(t *testing.T) {
		f.emit(t, "nobody", library.KindPlaylistCreated, library.PlaylistCreated{PlaylistID: "p9", Name: "Orphan"})

		_, ok, err := reader.Get(ctx, "p9")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("EventForUnknownPlaylistIsSkipped", func(t *testing.T) {
		f.emit(t, "owner", library.KindPlaylistSongAdded, library.PlaylistSongAdded{PlaylistID: "ghost", RecordingID: "r9"})

		_, ok, err := reader.Get(ctx, "ghost")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("NonOwnerEventIsSkipped", func(t *testing.T) {
		f.emit(t, "intruder", library.KindPlaylistRenamed, library.PlaylistRenamed{PlaylistID: "p1", NewName: "Hijacked"})

		pl, _, err := reader.Get(ctx, "p1")
		require.NoError(t, err)
		require.Equal(t, "Morning", pl.Name)
	})

	t.Run("RemoveSongKeepsRemainingOrder", func(t *testing.T) {
		f.emit(t, "owner", library.KindPlaylistSongRemoved, library.PlaylistSongAdded{PlaylistID: "p1", RecordingID: "r2"})

		pl, _, err := reader.Get(ctx, "p1")
		require.NoError(t, err)
		require.Equal(t, []string{"r1", "r3"}, pl.Items)
	})

	t.Run("DeleteRemovesPlaylistAndItems", func(t *testing.T) {
		f.emit(t, "owner", library.KindPlaylistDeleted, library.PlaylistDeleted{PlaylistID: "p1"})

		_, ok, err := reader.Get(ctx, "p1")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestPlayCountsProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := projections.NewPlayCountsReader(f.store.DB())

	f.emit(t, "u1", library.KindPlayRecorded, library.PlayRecorded{UserID: "u1", RecordingID: "r1"})
	f.emit(t, "u1", library.KindPlayRecorded, library.PlayRecorded{UserID: "u1", RecordingID: "r1"})
	f.emit(t, "u1", library.KindPlayRecorded, library.PlayRecorded{UserID: "u1", RecordingID: "r1"})

	count, err := reader.Count(ctx, "u1", "r1")
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	t.Run("ReplayDoesNotDoubleCount", func(t *testing.T) {
		require.NoError(t, f.pipeline.Rebuild(ctx, "play_counts"))

		count, err := reader.Count(ctx, "u1", "r1")
		require.NoError(t, err)
		require.Equal(t, int64(3), count)
	})
}

func TestUsersProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reader := projections.NewUsersReader(f.store.DB())

	f.emit(t, "", library.KindUserCreated, library.UserCreated{UserID: "u1", Username: "ada"})

	user, ok, err := reader.ByUsername(ctx, "ada")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", user.UserID)

	exists, err := reader.Exists(ctx, "u1")
	require.NoError(t, err)
	require.True(t, exists)
}
