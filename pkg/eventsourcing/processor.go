package eventsourcing

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/observability"
)

// Processor builds one read model from events. Apply mutates projection
// tables inside the supplied transaction and nothing else: no network
// I/O, no writes outside tx. Event kinds a processor does not recognize
// must be ignored so new kinds never break old processors. Apply must be
// idempotent under at-least-once delivery (set membership and keyed
// upserts, never blind appends).
type Processor interface {
	// Name returns the unique name of this projection.
	Name() string

	// Apply processes a single event within tx.
	Apply(ctx context.Context, tx *sql.Tx, event Event) error
}

// Pipeline drives all registered processors from their checkpoints to the
// head of the event log. Each projection advances independently; there is
// no cross-projection ordering guarantee. The pipeline serializes catch-up
// passes so a projection only ever has a single writer.
type Pipeline struct {
	db          *sql.DB
	events      EventStore
	checkpoints CheckpointStore
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int

	mu         sync.Mutex
	processors []Processor
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBatchSize sets how many events are applied per transaction during
// catch-up. Default is 256.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithPipelineLogger sets the logger used for warnings during replay.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithPipelineMetrics records how far each projection trails the log
// head at the start of a catch-up pass.
func WithPipelineMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline creates a pipeline over the given stores. db must be the
// database that holds both the projection tables and the checkpoints so a
// projection write and its checkpoint advance share one transaction.
func NewPipeline(db *sql.DB, events EventStore, checkpoints CheckpointStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		db:          db,
		events:      events,
		checkpoints: checkpoints,
		logger:      slog.Default(),
		batchSize:   256,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register registers a processor. Not safe to call concurrently with CatchUp.
func (p *Pipeline) Register(proc Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processors = append(p.processors, proc)
}

// CatchUp brings every registered projection up to the head of the event
// log. Passes are serialized: concurrent callers queue up rather than race
// on the same projection rows.
func (p *Pipeline) CatchUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, proc := range p.processors {
		if err := p.catchUp(ctx, proc); err != nil {
			return fmt.Errorf("catch up projection %s: %w", proc.Name(), err)
		}
	}
	return nil
}

// CatchUpOne advances a single named projection.
func (p *Pipeline) CatchUpOne(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, proc := range p.processors {
		if proc.Name() == name {
			return p.catchUp(ctx, proc)
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSuchProcessor, name)
}

// Rebuild resets a projection's checkpoint and replays the full log into
// it. The processor's Apply must tolerate re-seeing old events, which the
// idempotence contract already guarantees.
func (p *Pipeline) Rebuild(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, proc := range p.processors {
		if proc.Name() != name {
			continue
		}
		if err := p.checkpoints.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", name, err)
		}
		return p.catchUp(ctx, proc)
	}
	return fmt.Errorf("%w: %s", ErrNoSuchProcessor, name)
}

// catchUp replays events after the processor's checkpoint in batches.
// Each batch commits the projection mutations and the checkpoint advance
// in one transaction, so a crash can at worst re-deliver a whole batch.
func (p *Pipeline) catchUp(ctx context.Context, proc Processor) error {
	cp, err := p.checkpoints.Load(ctx, proc.Name())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	if p.metrics != nil {
		head, err := p.events.LastID(ctx)
		if err == nil {
			p.metrics.ProjectionLag(ctx, proc.Name(), head-cp.LastEventID)
		}
	}

	for {
		events, err := p.events.ReadFrom(ctx, cp.LastEventID, p.batchSize)
		if err != nil {
			return fmt.Errorf("read events after %d: %w", cp.LastEventID, err)
		}
		if len(events) == 0 {
			return nil
		}

		if err := p.applyBatch(ctx, proc, &cp, events); err != nil {
			return err
		}

		if len(events) < p.batchSize {
			return nil
		}
	}
}

func (p *Pipeline) applyBatch(ctx context.Context, proc Processor, cp *Checkpoint, events []Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, event := range events {
		if event.ID <= cp.LastEventID {
			// Never observe an id at or below the checkpoint twice
			// within one pass.
			return fmt.Errorf("event %d at or below checkpoint %d for %s",
				event.ID, cp.LastEventID, proc.Name())
		}
		if err := proc.Apply(ctx, tx, event); err != nil {
			return fmt.Errorf("apply event %d (%s): %w", event.ID, event.Kind, err)
		}
		cp.LastEventID = event.ID
	}

	cp.Name = proc.Name()
	cp.UpdatedAt = time.Now().UTC()
	if err := p.checkpoints.SaveInTx(tx, *cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	p.logger.Debug("projection advanced",
		slog.String("projection", proc.Name()),
		slog.Int64("last_event_id", cp.LastEventID),
		slog.Int("events", len(events)),
	)
	return nil
}
