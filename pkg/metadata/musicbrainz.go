package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MusicBrainzClient is a Provider backed by a MusicBrainz-compatible
// HTTP API (ws/2, JSON). Only the handful of lookups the orchestration
// needs are implemented.
type MusicBrainzClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// MusicBrainzOption configures a MusicBrainzClient.
type MusicBrainzOption func(*MusicBrainzClient)

// WithHTTPClient sets the HTTP client (for tests or custom transports).
func WithHTTPClient(client *http.Client) MusicBrainzOption {
	return func(c *MusicBrainzClient) {
		c.client = client
	}
}

// WithUserAgent sets the User-Agent header. MusicBrainz requires a
// descriptive one.
func WithUserAgent(ua string) MusicBrainzOption {
	return func(c *MusicBrainzClient) {
		c.userAgent = ua
	}
}

// NewMusicBrainzClient creates a client for baseURL, e.g.
// "https://musicbrainz.org/ws/2".
func NewMusicBrainzClient(baseURL string, opts ...MusicBrainzOption) *MusicBrainzClient {
	c := &MusicBrainzClient{
		baseURL:   baseURL,
		userAgent: "tonearm/1.0",
		client:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetArtistByID resolves an artist by MBID.
func (c *MusicBrainzClient) GetArtistByID(ctx context.Context, artistID string) (Artist, error) {
	var body struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		SortName       string `json:"sort-name"`
		Disambiguation string `json:"disambiguation"`
	}
	if err := c.get(ctx, "/artist/"+url.PathEscape(artistID), nil, &body); err != nil {
		return Artist{}, err
	}
	return Artist{
		ID:             body.ID,
		Name:           body.Name,
		SortName:       body.SortName,
		Disambiguation: body.Disambiguation,
	}, nil
}

// GetRecordingByID resolves a recording by MBID.
func (c *MusicBrainzClient) GetRecordingByID(ctx context.Context, recordingID string) (Recording, error) {
	var body struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Length int    `json:"length"`
	}
	if err := c.get(ctx, "/recording/"+url.PathEscape(recordingID), nil, &body); err != nil {
		return Recording{}, err
	}
	return Recording{ID: body.ID, Title: body.Title, LengthMS: body.Length}, nil
}

// GetReleaseGroupByID resolves a release group by MBID.
func (c *MusicBrainzClient) GetReleaseGroupByID(ctx context.Context, releaseGroupID string) (ReleaseGroup, error) {
	var body struct {
		ID               string `json:"id"`
		Title            string `json:"title"`
		PrimaryType      string `json:"primary-type"`
		FirstReleaseDate string `json:"first-release-date"`
		ArtistCredit     []struct {
			Artist struct {
				ID string `json:"id"`
			} `json:"artist"`
		} `json:"artist-credit"`
	}
	err := c.get(ctx, "/release-group/"+url.PathEscape(releaseGroupID),
		url.Values{"inc": {"artist-credits"}}, &body)
	if err != nil {
		return ReleaseGroup{}, err
	}

	rg := ReleaseGroup{
		ID:               body.ID,
		Title:            body.Title,
		PrimaryType:      body.PrimaryType,
		FirstReleaseDate: body.FirstReleaseDate,
	}
	if len(body.ArtistCredit) > 0 {
		rg.ArtistID = body.ArtistCredit[0].Artist.ID
	}
	return rg, nil
}

// GetReleaseGroupsForArtist lists an artist's release groups.
func (c *MusicBrainzClient) GetReleaseGroupsForArtist(ctx context.Context, artistID string) ([]ReleaseGroup, error) {
	var body struct {
		ReleaseGroups []struct {
			ID               string `json:"id"`
			Title            string `json:"title"`
			PrimaryType      string `json:"primary-type"`
			FirstReleaseDate string `json:"first-release-date"`
		} `json:"release-groups"`
	}
	err := c.get(ctx, "/release-group",
		url.Values{"artist": {artistID}, "limit": {"100"}}, &body)
	if err != nil {
		return nil, err
	}

	groups := make([]ReleaseGroup, 0, len(body.ReleaseGroups))
	for _, rg := range body.ReleaseGroups {
		groups = append(groups, ReleaseGroup{
			ID:               rg.ID,
			ArtistID:         artistID,
			Title:            rg.Title,
			PrimaryType:      rg.PrimaryType,
			FirstReleaseDate: rg.FirstReleaseDate,
		})
	}
	return groups, nil
}

// GetRecordingsForRelease lists the expected tracks of a release group,
// taken from its earliest release's media.
func (c *MusicBrainzClient) GetRecordingsForRelease(ctx context.Context, releaseGroupID string) ([]Track, error) {
	var body struct {
		Releases []struct {
			ID    string `json:"id"`
			Media []struct {
				Tracks []struct {
					Position  int    `json:"position"`
					Title     string `json:"title"`
					Length    int    `json:"length"`
					Recording struct {
						ID string `json:"id"`
					} `json:"recording"`
				} `json:"tracks"`
			} `json:"media"`
		} `json:"releases"`
	}
	err := c.get(ctx, "/release",
		url.Values{"release-group": {releaseGroupID}, "inc": {"recordings"}, "limit": {"1"}}, &body)
	if err != nil {
		return nil, err
	}
	if len(body.Releases) == 0 {
		return nil, ErrNotFound
	}

	var tracks []Track
	for _, medium := range body.Releases[0].Media {
		for _, t := range medium.Tracks {
			tracks = append(tracks, Track{
				RecordingID: t.Recording.ID,
				Title:       t.Title,
				Position:    t.Position,
				LengthMS:    t.Length,
			})
		}
	}
	if len(tracks) == 0 {
		return nil, ErrNotFound
	}
	return tracks, nil
}

func (c *MusicBrainzClient) get(ctx context.Context, path string, query url.Values, target any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("fmt", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("metadata request %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode metadata response: %w", err)
	}
	return nil
}
