package providers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/download"
)

// SlskdClient acquires releases from the Soulseek network through a
// slskd daemon. A candidate is one peer's folder of matching files;
// fetching requests every file and polls the transfer queue until the
// folder is complete.
type SlskdClient struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	searchWait   time.Duration

	mu      sync.Mutex
	results map[string]slskdFolder
}

type slskdFolder struct {
	username string
	dir      string
	files    []slskdFile
}

type slskdFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	BitRate  int    `json:"bitRate"`
}

// SlskdOption configures a SlskdClient.
type SlskdOption func(*SlskdClient)

// WithSlskdHTTPClient sets the HTTP client.
func WithSlskdHTTPClient(client *http.Client) SlskdOption {
	return func(c *SlskdClient) {
		c.client = client
	}
}

// WithSlskdPollInterval sets the transfer poll interval.
func WithSlskdPollInterval(d time.Duration) SlskdOption {
	return func(c *SlskdClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithSlskdSearchWait bounds how long a search collects responses.
func WithSlskdSearchWait(d time.Duration) SlskdOption {
	return func(c *SlskdClient) {
		if d > 0 {
			c.searchWait = d
		}
	}
}

// NewSlskdClient creates a client for a slskd instance.
func NewSlskdClient(baseURL, apiKey string, opts ...SlskdOption) *SlskdClient {
	c := &SlskdClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		searchWait:   15 * time.Second,
		results:      make(map[string]slskdFolder),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements download.Provider.
func (c *SlskdClient) Name() string {
	return "slskd"
}

func (c *SlskdClient) headers() map[string]string {
	return map[string]string{"X-API-Key": c.apiKey}
}

// Search starts a Soulseek search and folds the responses into one
// candidate per peer folder holding at least the expected track count.
func (c *SlskdClient) Search(ctx context.Context, req download.Request) ([]download.Candidate, error) {
	var started struct {
		ID string `json:"id"`
	}
	err := postJSON(ctx, c.client, c.baseURL+"/api/v0/searches", c.headers(),
		map[string]string{"searchText": req.ArtistName + " " + req.ReleaseTitle}, &started)
	if err != nil {
		return nil, fmt.Errorf("start search: %w", err)
	}

	deadline := time.Now().Add(c.searchWait)
	var body struct {
		State     string `json:"state"`
		Responses []struct {
			Username string      `json:"username"`
			Files    []slskdFile `json:"files"`
		} `json:"responses"`
	}
	for {
		err := getJSON(ctx, c.client,
			c.baseURL+"/api/v0/searches/"+started.ID+"?includeResponses=true",
			c.headers(), &body)
		if err != nil {
			return nil, fmt.Errorf("poll search: %w", err)
		}
		if strings.Contains(body.State, "Completed") || time.Now().After(deadline) {
			break
		}
		if err := waitPoll(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}

	var candidates []download.Candidate
	for _, resp := range body.Responses {
		for dir, files := range groupByFolder(resp.Files) {
			if len(files) < req.TrackCount {
				continue
			}
			id := resp.Username + "|" + dir
			c.mu.Lock()
			c.results[id] = slskdFolder{username: resp.Username, dir: dir, files: files}
			c.mu.Unlock()

			candidates = append(candidates, download.Candidate{
				ID:       id,
				Provider: c.Name(),
				Title:    path.Base(dir),
				// Peer shares are rips, never official releases, and
				// carry no release country.
				Official:    false,
				Format:      fileFormat(files[0].Filename),
				BitrateKbps: files[0].BitRate,
				SizeBytes:   totalSize(files),
			})
		}
	}
	return candidates, nil
}

// Fetch enqueues every file of the candidate's folder and polls until
// all transfers complete, then moves them into destDir.
func (c *SlskdClient) Fetch(ctx context.Context, candidate download.Candidate, destDir string) (download.Transfer, error) {
	c.mu.Lock()
	folder, ok := c.results[candidate.ID]
	c.mu.Unlock()
	if !ok {
		return download.Transfer{}, fmt.Errorf("unknown candidate %q; search first", candidate.ID)
	}

	requests := make([]map[string]any, 0, len(folder.files))
	for _, f := range folder.files {
		requests = append(requests, map[string]any{"filename": f.Filename, "size": f.Size})
	}
	err := postJSON(ctx, c.client,
		c.baseURL+"/api/v0/transfers/downloads/"+folder.username,
		c.headers(), requests, nil)
	if err != nil {
		return download.Transfer{}, fmt.Errorf("enqueue downloads: %w", err)
	}

	for {
		done, localDir, err := c.transfersComplete(ctx, folder)
		if err != nil {
			return download.Transfer{}, err
		}
		if done {
			count, bytes, err := moveIntoDir(localDir, destDir)
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

// transfersComplete checks the user's download queue for the folder's
// files. A transfer in an errored state fails the fetch.
func (c *SlskdClient) transfersComplete(ctx context.Context, folder slskdFolder) (bool, string, error) {
	var body struct {
		Directories []struct {
			Directory string `json:"directory"`
			Files     []struct {
				Filename  string `json:"filename"`
				State     string `json:"state"`
				LocalPath string `json:"localPath"`
			} `json:"files"`
		} `json:"directories"`
	}
	err := getJSON(ctx, c.client,
		c.baseURL+"/api/v0/transfers/downloads/"+folder.username,
		c.headers(), &body)
	if err != nil {
		return false, "", fmt.Errorf("poll transfers: %w", err)
	}

	for _, dir := range body.Directories {
		if dir.Directory != folder.dir {
			continue
		}
		localDir := ""
		for _, f := range dir.Files {
			switch {
			case strings.Contains(f.State, "Errored") || strings.Contains(f.State, "Rejected"):
				return false, "", fmt.Errorf("transfer failed for %s: %s", f.Filename, f.State)
			case !strings.Contains(f.State, "Completed"):
				return false, "", nil
			}
			if f.LocalPath != "" {
				localDir = path.Dir(f.LocalPath)
			}
		}
		if localDir == "" {
			return false, "", nil
		}
		return true, localDir, nil
	}
	return false, "", nil
}

func groupByFolder(files []slskdFile) map[string][]slskdFile {
	folders := make(map[string][]slskdFile)
	for _, f := range files {
		dir := path.Dir(strings.ReplaceAll(f.Filename, "\\", "/"))
		folders[dir] = append(folders[dir], f)
	}
	return folders
}

func fileFormat(filename string) string {
	ext := strings.TrimPrefix(path.Ext(strings.ReplaceAll(filename, "\\", "/")), ".")
	return strings.ToLower(ext)
}

func totalSize(files []slskdFile) int64 {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total
}
