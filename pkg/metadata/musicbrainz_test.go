package metadata_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/metadata"
)

func newServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") != "json" {
			http.Error(w, "fmt=json required", http.StatusBadRequest)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMusicBrainzGetArtistByID(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/artist/mbid-1": `{
			"id": "mbid-1",
			"name": "Boards of Canada",
			"sort-name": "Boards of Canada",
			"disambiguation": "Scottish electronic duo"
		}`,
	})
	client := metadata.NewMusicBrainzClient(srv.URL)

	artist, err := client.GetArtistByID(context.Background(), "mbid-1")
	require.NoError(t, err)
	require.Equal(t, "Boards of Canada", artist.Name)
	require.Equal(t, "Scottish electronic duo", artist.Disambiguation)

	t.Run("UnknownIDIsNotFound", func(t *testing.T) {
		_, err := client.GetArtistByID(context.Background(), "nope")
		require.ErrorIs(t, err, metadata.ErrNotFound)
	})
}

func TestMusicBrainzGetReleaseGroupByID(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/release-group/rg-1": `{
			"id": "rg-1",
			"title": "Music Has the Right to Children",
			"primary-type": "Album",
			"first-release-date": "1998-04-20",
			"artist-credit": [{"artist": {"id": "mbid-1"}}]
		}`,
	})
	client := metadata.NewMusicBrainzClient(srv.URL)

	rg, err := client.GetReleaseGroupByID(context.Background(), "rg-1")
	require.NoError(t, err)
	require.Equal(t, "Music Has the Right to Children", rg.Title)
	require.Equal(t, "mbid-1", rg.ArtistID)
	require.Equal(t, "Album", rg.PrimaryType)
}

func TestMusicBrainzGetReleaseGroupsForArtist(t *testing.T) {
	srv := newServer(t, map[string]string{
		"/release-group": `{
			"release-groups": [
				{"id": "rg-1", "title": "First", "primary-type": "Album"},
				{"id": "rg-2", "title": "Second", "primary-type": "EP"}
			]
		}`,
	})
	client := metadata.NewMusicBrainzClient(srv.URL)

	groups, err := client.GetReleaseGroupsForArtist(context.Background(), "mbid-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "rg-1", groups[0].ID)
	require.Equal(t, "mbid-1", groups[0].ArtistID, "artist id carried onto each group")
}

func TestMusicBrainzGetRecordingsForRelease(t *testing.T) {
	t.Run("FlattensMediaInOrder", func(t *testing.T) {
		srv := newServer(t, map[string]string{
			"/release": `{
				"releases": [{
					"id": "rel-1",
					"media": [
						{"tracks": [
							{"position": 1, "title": "One", "length": 180000, "recording": {"id": "rec-1"}},
							{"position": 2, "title": "Two", "length": 200000, "recording": {"id": "rec-2"}}
						]},
						{"tracks": [
							{"position": 1, "title": "Three", "recording": {"id": "rec-3"}}
						]}
					]
				}]
			}`,
		})
		client := metadata.NewMusicBrainzClient(srv.URL)

		tracks, err := client.GetRecordingsForRelease(context.Background(), "rg-1")
		require.NoError(t, err)
		require.Len(t, tracks, 3)
		require.Equal(t, "rec-1", tracks[0].RecordingID)
		require.Equal(t, 180000, tracks[0].LengthMS)
		require.Equal(t, "rec-3", tracks[2].RecordingID)
	})

	t.Run("NoReleasesIsNotFound", func(t *testing.T) {
		srv := newServer(t, map[string]string{
			"/release": `{"releases": []}`,
		})
		client := metadata.NewMusicBrainzClient(srv.URL)

		_, err := client.GetRecordingsForRelease(context.Background(), "rg-1")
		require.ErrorIs(t, err, metadata.ErrNotFound)
	})
}

func TestMusicBrainzNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	client := metadata.NewMusicBrainzClient(srv.URL)

	_, err := client.GetArtistByID(context.Background(), "mbid-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, metadata.ErrNotFound, "server errors are not the same as missing entities")
}

func TestMusicBrainzSendsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"id": "mbid-1"}`))
	}))
	t.Cleanup(srv.Close)

	client := metadata.NewMusicBrainzClient(srv.URL, metadata.WithUserAgent("tonearm-test/0.1"))
	_, err := client.GetArtistByID(context.Background(), "mbid-1")
	require.NoError(t, err)
	require.Equal(t, "tonearm-test/0.1", got)
}
