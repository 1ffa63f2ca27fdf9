package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonearm/tonearm/pkg/library"
	"github.com/tonearm/tonearm/pkg/metadata"
	"github.com/tonearm/tonearm/pkg/observability"
	"github.com/tonearm/tonearm/pkg/status"
)

// MembershipRecorder appends the release membership event once an
// acquisition completes. Satisfied by the library command service.
type MembershipRecorder interface {
	AddReleaseToServerLibrary(ctx context.Context, actor, artistID, releaseGroupID, title string) (library.AddReleaseResult, error)
}

// MembershipReader answers whether a release is already in the
// library, so enqueue can skip satisfied targets. Satisfied by the
// server library projection reader.
type MembershipReader interface {
	HasRelease(ctx context.Context, artistID, releaseGroupID string) (bool, error)
}

// EnqueueResult is the outcome of enqueueing an acquisition.
type EnqueueResult int

const (
	EnqueueAccepted EnqueueResult = iota
	// EnqueueDuplicate means the key is already waiting or active.
	EnqueueDuplicate
	// EnqueueAlreadyInLibrary means the membership projection already
	// has the release.
	EnqueueAlreadyInLibrary
)

func (r EnqueueResult) String() string {
	switch r {
	case EnqueueAccepted:
		return "accepted"
	case EnqueueDuplicate:
		return "duplicate"
	case EnqueueAlreadyInLibrary:
		return "already_in_library"
	default:
		return "unknown"
	}
}

// Orchestrator walks each acquisition through its phases: metadata
// lookup, provider search and ranking, transfer with bounded retries,
// finalization, membership append. Every transition is pushed to the
// status broadcaster under the job's key.
type Orchestrator struct {
	queue     *Queue
	slots     *SlotManager
	meta      metadata.Provider
	recorder  MembershipRecorder
	reader    MembershipReader
	broadcast *status.Broadcaster
	providers []Provider
	finalizer Finalizer
	logger    *slog.Logger
	metrics   *observability.Metrics

	workDir           string
	lookupTimeout     time.Duration
	lookupAttempts    int
	transferAttempts  int
	defaultFormat     string
	defaultMinBitrate int
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkDir sets where in-flight transfers are staged. Default
// "tonearm-work" under the system temp directory.
func WithWorkDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.workDir = dir
	}
}

// WithFinalizer replaces the default library-layout finalizer.
func WithFinalizer(f Finalizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.finalizer = f
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records queue depth, active jobs, and terminal phases.
func WithMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithMetadataTimeout bounds each metadata call. Default 10s.
func WithMetadataTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.lookupTimeout = d
		}
	}
}

// WithLookupAttempts sets the metadata attempt bound. Default 2.
func WithLookupAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.lookupAttempts = n
		}
	}
}

// WithTransferAttempts sets the transfer attempt bound. Default 3.
func WithTransferAttempts(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.transferAttempts = n
		}
	}
}

// WithQualityDefaults fills format and bitrate constraints into jobs
// enqueued without their own.
func WithQualityDefaults(format string, minBitrateKbps int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaultFormat = format
		o.defaultMinBitrate = minBitrateKbps
	}
}

// NewOrchestrator creates an orchestrator. Provider order is the
// ranking tiebreak order.
func NewOrchestrator(
	queue *Queue,
	slots *SlotManager,
	meta metadata.Provider,
	recorder MembershipRecorder,
	reader MembershipReader,
	broadcast *status.Broadcaster,
	providers []Provider,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		queue:            queue,
		slots:            slots,
		meta:             meta,
		recorder:         recorder,
		reader:           reader,
		broadcast:        broadcast,
		providers:        providers,
		logger:           slog.Default(),
		workDir:          filepath.Join(os.TempDir(), "tonearm-work"),
		lookupTimeout:    10 * time.Second,
		lookupAttempts:   2,
		transferAttempts: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.finalizer == nil {
		o.finalizer = NewLayoutFinalizer(filepath.Join(o.workDir, "library"))
	}
	return o
}

// Enqueue queues a release acquisition. A key already waiting or
// active is a no-op; a release the membership projection already has
// is rejected. Quality constraints the job does not carry are filled
// from the configured defaults.
func (o *Orchestrator) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	if job.Format == "" {
		job.Format = o.defaultFormat
	}
	if job.MinBitrateKbps == 0 {
		job.MinBitrateKbps = o.defaultMinBitrate
	}

	if job.ReleaseGroupID != "" {
		satisfied, err := o.reader.HasRelease(ctx, job.ArtistID, job.ReleaseGroupID)
		if err != nil {
			return 0, fmt.Errorf("check membership: %w", err)
		}
		if satisfied {
			return EnqueueAlreadyInLibrary, nil
		}
	}

	if !o.queue.Enqueue(job) {
		return EnqueueDuplicate, nil
	}

	o.metrics.QueueDepth(ctx, 1)
	o.broadcast.Set(job.Key(), PhaseQueued.String(), "")
	o.logger.Info("acquisition queued",
		slog.String("key", job.Key()),
		slog.String("release", job.ReleaseTitle),
	)
	return EnqueueAccepted, nil
}

// Run dispatches queued jobs into free slots until ctx is done.
// Implements the runner service contract.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		job, err := o.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		o.metrics.QueueDepth(ctx, -1)

		if err := o.slots.Acquire(ctx); err != nil {
			o.queue.Finish(job.Key())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		go o.run(ctx, job)
	}
}

func (o *Orchestrator) run(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	o.queue.Activate(job.Key(), cancel)
	o.metrics.ActiveDownloads(ctx, 1)
	defer func() {
		cancel()
		o.queue.Finish(job.Key())
		o.slots.Release()
		o.metrics.ActiveDownloads(context.WithoutCancel(ctx), -1)
	}()

	o.transition(&job, PhaseLookingUpMetadata, "")
	group, tracks, err := o.lookupRelease(jobCtx, job)
	if err != nil {
		if jobCtx.Err() != nil {
			o.finish(jobCtx, &job, PhaseCancelled, "")
			return
		}
		o.logger.Warn("metadata lookup failed, job terminal",
			slog.String("key", job.Key()),
			slog.String("error", err.Error()),
		)
		o.finish(jobCtx, &job, PhaseNotFound, err.Error())
		return
	}
	if job.ReleaseTitle == "" {
		job.ReleaseTitle = group.Title
	}

	o.transition(&job, PhaseSearchingProviders, "")
	req := Request{
		ArtistID:       job.ArtistID,
		ArtistName:     job.ArtistName,
		ReleaseTitle:   job.ReleaseTitle,
		TrackCount:     len(tracks),
		Format:         job.Format,
		MinBitrateKbps: job.MinBitrateKbps,
	}
	candidates := o.search(jobCtx, req)
	if jobCtx.Err() != nil {
		o.finish(jobCtx, &job, PhaseCancelled, "")
		return
	}
	if len(candidates) == 0 {
		o.finish(jobCtx, &job, PhaseNoProviderResult, "no provider returned a usable result")
		return
	}

	winner := Rank(candidates, req, o.providerNames())[0]
	provider := o.providerByName(winner.Provider)
	if provider == nil {
		o.finish(jobCtx, &job, PhaseFailed, "winning candidate names unknown provider "+winner.Provider)
		return
	}

	o.transition(&job, PhaseDownloading, "via "+winner.Provider)
	stageDir := filepath.Join(o.workDir, job.ID)
	transfer, err := o.fetch(jobCtx, provider, winner, stageDir)
	if err != nil {
		_ = os.RemoveAll(stageDir)
		if jobCtx.Err() != nil {
			o.finish(jobCtx, &job, PhaseCancelled, "")
			return
		}
		o.finish(jobCtx, &job, PhaseFailed, err.Error())
		return
	}
	if transfer.FileCount != len(tracks) {
		_ = os.RemoveAll(stageDir)
		o.finish(jobCtx, &job, PhaseFailed,
			fmt.Sprintf("incomplete transfer: got %d files, expected %d tracks", transfer.FileCount, len(tracks)))
		return
	}

	o.transition(&job, PhaseProcessing, "")
	libraryDir, err := o.finalizer.Finalize(jobCtx, transfer, job)
	if err != nil {
		_ = os.RemoveAll(stageDir)
		if jobCtx.Err() != nil {
			o.finish(jobCtx, &job, PhaseCancelled, "")
			return
		}
		o.finish(jobCtx, &job, PhaseFailed, "finalize: "+err.Error())
		return
	}

	added, err := o.recorder.AddReleaseToServerLibrary(jobCtx, "", job.ArtistID, job.ReleaseGroupID, job.ReleaseTitle)
	if err != nil {
		if jobCtx.Err() != nil {
			o.finish(jobCtx, &job, PhaseCancelled, "")
			return
		}
		o.finish(jobCtx, &job, PhaseFailed, "record membership: "+err.Error())
		return
	}
	if added == library.AddReleaseArtistNotInLibrary {
		// The artist was removed while the download ran; the files do
		// not belong in the library anymore.
		if libraryDir != "" {
			_ = os.RemoveAll(libraryDir)
		}
		o.finish(jobCtx, &job, PhaseCancelled, "artist removed from library")
		return
	}

	o.finish(jobCtx, &job, PhaseCompleted, "")
}

// lookupRelease resolves the release group and its expected track list
// with bounded attempts. Not-found is terminal immediately.
func (o *Orchestrator) lookupRelease(ctx context.Context, job Job) (metadata.ReleaseGroup, []metadata.Track, error) {
	var lastErr error
	for attempt := 0; attempt < o.lookupAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, o.lookupTimeout)
		group, err := o.meta.GetReleaseGroupByID(lookupCtx, job.ReleaseGroupID)
		if err == nil {
			var tracks []metadata.Track
			tracks, err = o.meta.GetRecordingsForRelease(lookupCtx, job.ReleaseGroupID)
			if err == nil {
				cancel()
				return group, tracks, nil
			}
		}
		cancel()

		if errors.Is(err, metadata.ErrNotFound) || ctx.Err() != nil {
			return metadata.ReleaseGroup{}, nil, err
		}
		lastErr = err
	}
	return metadata.ReleaseGroup{}, nil, fmt.Errorf("metadata lookup exhausted retries: %w", lastErr)
}

// search collects candidates from every provider. A provider that
// errors is logged and skipped; the others still count.
func (o *Orchestrator) search(ctx context.Context, req Request) []Candidate {
	var candidates []Candidate
	for _, p := range o.providers {
		if ctx.Err() != nil {
			return nil
		}
		found, err := p.Search(ctx, req)
		if err != nil {
			o.logger.Warn("provider search failed",
				slog.String("provider", p.Name()),
				slog.String("release", req.ReleaseTitle),
				slog.String("error", err.Error()),
			)
			continue
		}
		candidates = append(candidates, found...)
	}
	return candidates
}

// fetch runs the winning transfer with bounded retries on transient
// failures. Partial output is discarded between attempts.
func (o *Orchestrator) fetch(ctx context.Context, provider Provider, candidate Candidate, destDir string) (Transfer, error) {
	var lastErr error
	for attempt := 0; attempt < o.transferAttempts; attempt++ {
		transfer, err := provider.Fetch(ctx, candidate, destDir)
		if err == nil {
			return transfer, nil
		}
		if ctx.Err() != nil {
			return Transfer{}, err
		}

		lastErr = err
		_ = os.RemoveAll(destDir)
		o.logger.Warn("transfer attempt failed",
			slog.String("provider", provider.Name()),
			slog.String("candidate", candidate.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return Transfer{}, fmt.Errorf("transfer exhausted retries: %w", lastErr)
}

func (o *Orchestrator) providerNames() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

func (o *Orchestrator) providerByName(name string) Provider {
	for _, p := range o.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// transition moves the job forward and broadcasts the new phase.
func (o *Orchestrator) transition(job *Job, target Phase, detail string) {
	if !job.Phase.CanTransition(target) {
		o.logger.Error("illegal phase transition",
			slog.String("key", job.Key()),
			slog.String("from", job.Phase.String()),
			slog.String("to", target.String()),
		)
		return
	}
	job.Phase = target
	o.broadcast.Set(job.Key(), target.String(), detail)
}

// finish moves the job to a terminal phase.
func (o *Orchestrator) finish(ctx context.Context, job *Job, target Phase, detail string) {
	o.transition(job, target, detail)
	o.metrics.JobFinished(context.WithoutCancel(ctx), target.String())
	o.logger.Info("acquisition finished",
		slog.String("key", job.Key()),
		slog.String("phase", target.String()),
		slog.String("detail", detail),
	)
}
