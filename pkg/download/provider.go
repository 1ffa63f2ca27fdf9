package download

import "context"

// Request describes what a provider should search for.
type Request struct {
	ArtistID     string
	ArtistName   string
	ReleaseTitle string

	// TrackCount is the expected number of tracks, used by providers
	// that can filter incomplete listings up front.
	TrackCount int

	Format         string
	MinBitrateKbps int
}

// Candidate is one search result a provider can fetch.
type Candidate struct {
	// ID is provider-scoped and stable for the same remote item.
	ID       string
	Provider string

	Title string
	// Official marks a proper release as opposed to a bootleg or
	// unofficial compilation.
	Official bool
	// Country is the release country code; "XW" means worldwide.
	Country string

	Format      string
	BitrateKbps int
	SizeBytes   int64
}

// Transfer is the outcome of a completed fetch.
type Transfer struct {
	// Dir holds the received files.
	Dir       string
	FileCount int
	Bytes     int64
}

// Provider is one acquisition backend. Implementations must honor
// context cancellation promptly on both calls: a cancelled Fetch stops
// the transfer and may leave partial files in destDir for the caller
// to discard.
type Provider interface {
	Name() string
	Search(ctx context.Context, req Request) ([]Candidate, error)
	Fetch(ctx context.Context, candidate Candidate, destDir string) (Transfer, error)
}
