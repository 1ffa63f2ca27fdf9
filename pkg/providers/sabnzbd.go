package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/download"
)

// SABnzbdClient acquires releases over Usenet: searching goes through
// a Newznab-compatible indexer, fetching pushes the NZB to SABnzbd and
// polls its history until post-processing finishes.
type SABnzbdClient struct {
	sabURL       string
	sabAPIKey    string
	indexerURL   string
	indexerKey   string
	client       *http.Client
	pollInterval time.Duration

	mu      sync.Mutex
	results map[string]string // candidate id -> nzb url
}

// SABnzbdOption configures a SABnzbdClient.
type SABnzbdOption func(*SABnzbdClient)

// WithSABnzbdHTTPClient sets the HTTP client.
func WithSABnzbdHTTPClient(client *http.Client) SABnzbdOption {
	return func(c *SABnzbdClient) {
		c.client = client
	}
}

// WithSABnzbdPollInterval sets the history poll interval.
func WithSABnzbdPollInterval(d time.Duration) SABnzbdOption {
	return func(c *SABnzbdClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewSABnzbdClient creates a client for a SABnzbd instance paired with
// a Newznab indexer for search.
func NewSABnzbdClient(sabURL, sabAPIKey, indexerURL, indexerKey string, opts ...SABnzbdOption) *SABnzbdClient {
	c := &SABnzbdClient{
		sabURL:       strings.TrimRight(sabURL, "/"),
		sabAPIKey:    sabAPIKey,
		indexerURL:   strings.TrimRight(indexerURL, "/"),
		indexerKey:   indexerKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		results:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements download.Provider.
func (c *SABnzbdClient) Name() string {
	return "sabnzbd"
}

type newznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type newznabItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Link      string `xml:"link"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length int64  `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []newznabAttr `xml:"attr"`
}

// Search queries the indexer's music category.
func (c *SABnzbdClient) Search(ctx context.Context, req download.Request) ([]download.Candidate, error) {
	query := url.Values{
		"t":      {"music"},
		"artist": {req.ArtistName},
		"album":  {req.ReleaseTitle},
		"apikey": {c.indexerKey},
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.indexerURL+"/api?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build indexer request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("indexer search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer search: unexpected status %d", resp.StatusCode)
	}

	var feed struct {
		Channel struct {
			Items []newznabItem `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}

	var candidates []download.Candidate
	for _, item := range feed.Channel.Items {
		nzbURL := item.Enclosure.URL
		if nzbURL == "" {
			nzbURL = item.Link
		}
		if nzbURL == "" {
			continue
		}
		c.mu.Lock()
		c.results[item.GUID] = nzbURL
		c.mu.Unlock()

		candidates = append(candidates, download.Candidate{
			ID:       item.GUID,
			Provider: c.Name(),
			Title:    item.Title,
			// Usenet posts of proper album releases; the indexer does
			// not expose a release country.
			Official:    true,
			Format:      attrValue(item.Attrs, "format"),
			BitrateKbps: attrInt(item.Attrs, "bitrate"),
			SizeBytes:   item.Enclosure.Length,
		})
	}
	return candidates, nil
}

// Fetch sends the NZB to SABnzbd and polls history until the job
// completes, then moves the completed directory into destDir.
func (c *SABnzbdClient) Fetch(ctx context.Context, candidate download.Candidate, destDir string) (download.Transfer, error) {
	c.mu.Lock()
	nzbURL, ok := c.results[candidate.ID]
	c.mu.Unlock()
	if !ok {
		return download.Transfer{}, fmt.Errorf("unknown candidate %q; search first", candidate.ID)
	}
	return c.FetchURL(ctx, nzbURL, destDir)
}

// FetchURL pushes an NZB by URL, for grabs coming from an aggregator.
func (c *SABnzbdClient) FetchURL(ctx context.Context, nzbURL, destDir string) (download.Transfer, error) {
	var added struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
	}
	err := getJSON(ctx, c.client, c.sabAPI(url.Values{
		"mode": {"addurl"},
		"name": {nzbURL},
	}), nil, &added)
	if err != nil {
		return download.Transfer{}, fmt.Errorf("add nzb: %w", err)
	}
	if !added.Status || len(added.NzoIDs) == 0 {
		return download.Transfer{}, fmt.Errorf("sabnzbd rejected nzb %q", nzbURL)
	}
	nzoID := added.NzoIDs[0]

	for {
		storage, done, err := c.historyStatus(ctx, nzoID)
		if err != nil {
			return download.Transfer{}, err
		}
		if done {
			count, bytes, err := moveIntoDir(storage, destDir)
			if err != nil {
				return download.Transfer{}, err
			}
			return download.Transfer{Dir: destDir, FileCount: count, Bytes: bytes}, nil
		}
		if err := waitPoll(ctx, c.pollInterval); err != nil {
			return download.Transfer{}, err
		}
	}
}

func (c *SABnzbdClient) historyStatus(ctx context.Context, nzoID string) (string, bool, error) {
	var history struct {
		History struct {
			Slots []struct {
				NzoID   string `json:"nzo_id"`
				Status  string `json:"status"`
				Storage string `json:"storage"`
				FailMsg string `json:"fail_message"`
			} `json:"slots"`
		} `json:"history"`
	}
	err := getJSON(ctx, c.client, c.sabAPI(url.Values{
		"mode":  {"history"},
		"limit": {"50"},
	}), nil, &history)
	if err != nil {
		return "", false, fmt.Errorf("poll history: %w", err)
	}

	for _, slot := range history.History.Slots {
		if slot.NzoID != nzoID {
			continue
		}
		switch slot.Status {
		case "Completed":
			return slot.Storage, true, nil
		case "Failed":
			return "", false, fmt.Errorf("sabnzbd job failed: %s", slot.FailMsg)
		}
	}
	return "", false, nil
}

func (c *SABnzbdClient) sabAPI(query url.Values) string {
	query.Set("apikey", c.sabAPIKey)
	query.Set("output", "json")
	return c.sabURL + "/api?" + query.Encode()
}

func attrValue(attrs []newznabAttr, name string) string {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

func attrInt(attrs []newznabAttr, name string) int {
	n, _ := strconv.Atoi(attrValue(attrs, name))
	return n
}
