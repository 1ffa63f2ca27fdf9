package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/download"
)

// URLFetcher downloads a release given its grab URL. SABnzbd and
// qBittorrent clients serve as delegates depending on the protocol of
// the Prowlarr result.
type URLFetcher interface {
	FetchURL(ctx context.Context, grabURL, destDir string) (download.Transfer, error)
}

// ProwlarrClient searches every indexer configured in a Prowlarr
// instance. Prowlarr only aggregates search results; actual transfers
// are delegated to the download client registered for the result's
// protocol ("usenet" or "torrent").
type ProwlarrClient struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// delegates maps the result protocol to the client that can fetch it.
	delegates map[string]URLFetcher

	mu      sync.Mutex
	results map[string]prowlarrResult
}

type prowlarrResult struct {
	downloadURL string
	protocol    string
}

// ProwlarrOption configures a ProwlarrClient.
type ProwlarrOption func(*ProwlarrClient)

// WithProwlarrHTTPClient sets the HTTP client.
func WithProwlarrHTTPClient(client *http.Client) ProwlarrOption {
	return func(c *ProwlarrClient) {
		c.client = client
	}
}

// WithDelegate registers the download client for a result protocol.
func WithDelegate(protocol string, fetcher URLFetcher) ProwlarrOption {
	return func(c *ProwlarrClient) {
		c.delegates[strings.ToLower(protocol)] = fetcher
	}
}

// NewProwlarrClient creates a client for a Prowlarr instance.
func NewProwlarrClient(baseURL, apiKey string, opts ...ProwlarrOption) *ProwlarrClient {
	c := &ProwlarrClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 30 * time.Second},
		delegates: make(map[string]URLFetcher),
		results:   make(map[string]prowlarrResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements download.Provider.
func (c *ProwlarrClient) Name() string {
	return "prowlarr"
}

// Search queries all configured indexers in the audio category.
func (c *ProwlarrClient) Search(ctx context.Context, req download.Request) ([]download.Candidate, error) {
	query := url.Values{
		"query":      {req.ArtistName + " " + req.ReleaseTitle},
		"categories": {"3000"},
		"type":       {"search"},
	}
	var results []struct {
		GUID        string `json:"guid"`
		Title       string `json:"title"`
		Size        int64  `json:"size"`
		DownloadURL string `json:"downloadUrl"`
		Protocol    string `json:"protocol"`
		Indexer     string `json:"indexer"`
	}
	err := getJSON(ctx, c.client,
		c.baseURL+"/api/v1/search?"+query.Encode(),
		map[string]string{"X-Api-Key": c.apiKey}, &results)
	if err != nil {
		return nil, fmt.Errorf("indexer search: %w", err)
	}

	var candidates []download.Candidate
	for _, r := range results {
		protocol := strings.ToLower(r.Protocol)
		if r.DownloadURL == "" {
			continue
		}
		if _, ok := c.delegates[protocol]; !ok {
			// No download client can take this result; don't offer it.
			continue
		}
		c.mu.Lock()
		c.results[r.GUID] = prowlarrResult{downloadURL: r.DownloadURL, protocol: protocol}
		c.mu.Unlock()

		candidates = append(candidates, download.Candidate{
			ID:        r.GUID,
			Provider:  c.Name(),
			Title:     r.Title,
			Official:  true,
			Format:    formatFromName(r.Title),
			SizeBytes: r.Size,
		})
	}
	return candidates, nil
}

// Fetch hands the grab URL to the delegate for the result's protocol.
func (c *ProwlarrClient) Fetch(ctx context.Context, candidate download.Candidate, destDir string) (download.Transfer, error) {
	c.mu.Lock()
	result, ok := c.results[candidate.ID]
	c.mu.Unlock()
	if !ok {
		return download.Transfer{}, fmt.Errorf("unknown candidate %q; search first", candidate.ID)
	}

	delegate, ok := c.delegates[result.protocol]
	if !ok {
		return download.Transfer{}, fmt.Errorf("no download client for protocol %q", result.protocol)
	}
	return delegate.FetchURL(ctx, result.downloadURL, destDir)
}
