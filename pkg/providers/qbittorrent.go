package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/download"
)

// QBittorrentClient acquires releases via qBittorrent: searching uses
// the Web API search plugins, fetching adds the torrent and polls
// until it finishes seeding-side processing.
type QBittorrentClient struct {
	baseURL      string
	username     string
	password     string
	client       *http.Client
	pollInterval time.Duration
	searchWait   time.Duration

	mu       sync.Mutex
	loggedIn bool
	results  map[string]string // candidate id -> torrent file url / magnet
}

// QBittorrentOption configures a QBittorrentClient.
type QBittorrentOption func(*QBittorrentClient)

// WithQBittorrentPollInterval sets the torrent poll interval.
func WithQBittorrentPollInterval(d time.Duration) QBittorrentOption {
	return func(c *QBittorrentClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithQBittorrentSearchWait bounds how long a search collects results.
func WithQBittorrentSearchWait(d time.Duration) QBittorrentOption {
	return func(c *QBittorrentClient) {
		if d > 0 {
			c.searchWait = d
		}
	}
}

// NewQBittorrentClient creates a client for a qBittorrent Web UI.
func NewQBittorrentClient(baseURL, username, password string, opts ...QBittorrentOption) *QBittorrentClient {
	jar, _ := cookiejar.New(nil)
	c := &QBittorrentClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		username:     username,
		password:     password,
		client:       &http.Client{Timeout: 30 * time.Second, Jar: jar},
		pollInterval: defaultPollInterval,
		searchWait:   20 * time.Second,
		results:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements download.Provider.
func (c *QBittorrentClient) Name() string {
	return "qbittorrent"
}

// login authenticates once; the session cookie lives in the jar.
func (c *QBittorrentClient) login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}
	c.loggedIn = true
	return nil
}

// Search runs the search plugins and returns one candidate per result.
func (c *QBittorrentClient) Search(ctx context.Context, req download.Request) ([]download.Candidate, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	var started struct {
		ID int `json:"id"`
	}
	err := c.postForm(ctx, "/api/v2/search/start", url.Values{
		"pattern":  {req.ArtistName + " " + req.ReleaseTitle},
		"plugins":  {"enabled"},
		"category": {"music"},
	}, &started)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.postForm(stopCtx, "/api/v2/search/stop",
			url.Values{"id": {strconv.Itoa(started.ID)}}, nil)
	}()

	deadline := time.Now().Add(c.searchWait)
	var body struct {
		Status  string `json:"status"`
		Results []struct {
			FileName string `json:"fileName"`
			FileURL  string `json:"fileUrl"`
			FileSize int64  `json:"fileSize"`
		} `json:"results"`
	}
	for {
		err := getJSON(ctx, c.client,
			c.baseURL+"/api/v2/search/results?id="+strconv.Itoa(started.ID), nil, &body)
		if err != nil {
			return nil, fmt.Errorf("poll search: %w", err)
		}
		if body.Status == "Stopped" || time.Now().After(deadline) {
			break
		}
		if err := waitPoll(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	var candidates []download.Candidate
	for _, r := range body.Results {
		if r.FileURL == "" {
			continue
		}
		c.mu.Lock()
		c.results[r.FileURL] = r.FileURL
		c.mu.Unlock()

		candidates = append(candidates, download.Candidate{
			ID:        r.FileURL,
			Provider:  c.Name(),
			Title:     r.FileName,
			Official:  false,
			Format:    formatFromName(r.FileName),
			SizeBytes: r.FileSize,
		})
	}
	return candidates, nil
}

// Fetch adds the torrent and polls until completion, then moves the
// payload into destDir.
func (c *QBittorrentClient) Fetch(ctx context.Context, candidate download.Candidate, destDir string) (download.Transfer, error) {
	if err := c.login(ctx); err != nil {
		return download.Transfer{}, err
	}

	c.mu.Lock()
	torrentURL, ok := c.results[candidate.ID]
	c.mu.Unlock()
	if !ok {
		return download.Transfer{}, fmt.Errorf("unknown candidate %q; search first", candidate.ID)
	}
	return c.FetchURL(ctx, torrentURL, destDir)
}

// FetchURL adds a torrent by URL or magnet, for grabs coming from an
// aggregator.
func (c *QBittorrentClient) FetchURL(ctx context.Context, torrentURL, destDir string) (download.Transfer, error) {
	if err := c.login(ctx); err != nil {
		return download.Transfer{}, err
	}

	// Tag the torrent so polling can find it without knowing the hash.
	tag := "tonearm-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	err := c.postForm(ctx, "/api/v2/torrents/add", url.Values{
		"urls": {torrentURL},
		"tags": {tag},
	}, nil)
	if err != nil {
		return download.Transfer{}, fmt.Errorf("add torrent: %w", err)
	}

	for {
		var torrents []struct {
			Hash        string  `json:"hash"`
			State       string  `json:"state"`
			Progress    float64 `json:"progress"`
			ContentPath string  `json:"content_path"`
		}
		err := getJSON(ctx, c.client,
			c.baseURL+"/api/v2/torrents/info?tag="+url.QueryEscape(tag), nil, &torrents)
		if err != nil {
			return download.Transfer{}, fmt.Errorf("poll torrents: %w", err)
		}

		for _, t := range torrents {
			switch {
			case t.State == "error" || t.State == "missingFiles":
				return download.Transfer{}, fmt.Errorf("torrent entered state %s", t.State)
			case t.Progress >= 1 && t.ContentPath != "":
				count, bytes, err := moveIntoDir(t.ContentPath, destDir)
				if err != nil {
					return download.Transfer{}, err
				}
				return download.Transfer{Dir: destDir, FileCount: count, Bytes: bytes}, nil
			}
		}
		if err := waitPoll(ctx, c.pollInterval); err != nil {
			return download.Transfer{}, err
		}
	}
}

func (c *QBittorrentClient) postForm(ctx context.Context, path string, form url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doJSON(c.client, req, target)
}

func formatFromName(name string) string {
	lower := strings.ToLower(name)
	for _, format := range []string{"flac", "mp3", "ogg", "m4a", "wav"} {
		if strings.Contains(lower, format) {
			return format
		}
	}
	return ""
}
