// Package importer populates the library with an artist's release
// groups after the artist is added. Release groups are resolved from
// the metadata catalog and recorded in parallel, with progress pushed
// to the status broadcaster as each membership event lands.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonearm/tonearm/pkg/library"
	"github.com/tonearm/tonearm/pkg/metadata"
	"github.com/tonearm/tonearm/pkg/status"
)

// ReleaseRecorder appends release membership events. Satisfied by the
// library command service.
type ReleaseRecorder interface {
	AddReleaseToServerLibrary(ctx context.Context, actor, artistID, releaseGroupID, title string) (library.AddReleaseResult, error)
}

// ErrImportInProgress is returned when the artist is already being
// imported.
var ErrImportInProgress = errors.New("import already in progress for artist")

// Importer fans an artist's release groups into the library.
type Importer struct {
	meta      metadata.Provider
	recorder  ReleaseRecorder
	broadcast *status.Broadcaster
	logger    *slog.Logger

	parallelism   int
	lookupTimeout time.Duration

	mu         sync.Mutex
	inProgress map[string]struct{}
}

// Option configures an Importer.
type Option func(*Importer)

// WithParallelism bounds concurrent membership appends. Default 4.
func WithParallelism(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.parallelism = n
		}
	}
}

// WithLookupTimeout bounds the catalog lookups. Default 30s; artist
// discographies can be large.
func WithLookupTimeout(d time.Duration) Option {
	return func(i *Importer) {
		if d > 0 {
			i.lookupTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) {
		i.logger = logger
	}
}

// New creates an Importer.
func New(meta metadata.Provider, recorder ReleaseRecorder, broadcast *status.Broadcaster, opts ...Option) *Importer {
	i := &Importer{
		meta:          meta,
		recorder:      recorder,
		broadcast:     broadcast,
		logger:        slog.Default(),
		parallelism:   4,
		lookupTimeout: 30 * time.Second,
		inProgress:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// statusKey namespaces import progress away from acquisition keys.
func statusKey(artistID string) string {
	return "import/" + artistID
}

// ImportArtist resolves the artist's release groups and records each
// as a library membership. Blocks until done; a second call for the
// same artist while one runs returns ErrImportInProgress. A catalog
// lookup failure ends the import as failed without partial retries.
func (i *Importer) ImportArtist(ctx context.Context, actor, artistID string) error {
	i.mu.Lock()
	if _, running := i.inProgress[artistID]; running {
		i.mu.Unlock()
		return ErrImportInProgress
	}
	i.inProgress[artistID] = struct{}{}
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		delete(i.inProgress, artistID)
		i.mu.Unlock()
	}()

	key := statusKey(artistID)
	i.broadcast.Set(key, "resolving", "")

	lookupCtx, cancel := context.WithTimeout(ctx, i.lookupTimeout)
	groups, err := i.meta.GetReleaseGroupsForArtist(lookupCtx, artistID)
	cancel()
	if err != nil {
		i.broadcast.Set(key, "failed", "catalog lookup failed")
		return fmt.Errorf("list release groups for %s: %w", artistID, err)
	}
	if len(groups) == 0 {
		i.broadcast.Set(key, "completed", "0/0")
		return nil
	}

	var done atomic.Int64
	total := len(groups)
	i.broadcast.Set(key, "importing", fmt.Sprintf("0/%d", total))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(i.parallelism)
	for _, rg := range groups {
		g.Go(func() error {
			result, err := i.recorder.AddReleaseToServerLibrary(groupCtx, actor, artistID, rg.ID, rg.Title)
			if err != nil {
				return fmt.Errorf("record release %s: %w", rg.ID, err)
			}
			if result == library.AddReleaseArtistNotInLibrary {
				// Artist was removed while the import ran; stop quietly.
				return nil
			}
			n := done.Add(1)
			i.broadcast.Set(key, "importing", fmt.Sprintf("%d/%d", n, total))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		i.broadcast.Set(key, "failed", err.Error())
		return err
	}

	i.broadcast.Set(key, "completed", fmt.Sprintf("%d/%d", done.Load(), total))
	i.logger.Info("artist import finished",
		slog.String("artist_id", artistID),
		slog.Int("release_groups", total),
	)
	return nil
}
