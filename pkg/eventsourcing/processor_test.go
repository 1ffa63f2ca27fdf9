package eventsourcing_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/sqlite"
)

// countingProcessor records every event id it sees into a table, using
// INSERT OR IGNORE so replays are idempotent.
type countingProcessor struct {
	name    string
	applied []int64
}

func (p *countingProcessor) Name() string { return p.name }

func (p *countingProcessor) Apply(ctx context.Context, tx *sql.Tx, event eventsourcing.Event) error {
	p.applied = append(p.applied, event.ID)
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO applied_events (processor, event_id) VALUES (?, ?)`,
		p.name, event.ID)
	return err
}

func newPipelineFixture(t *testing.T) (*sqlite.EventStore, *sqlite.CheckpointStore) {
	t.Helper()
	store, err := sqlite.NewEventStore(
		sqlite.WithMemoryDatabase(),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	checkpoints, err := sqlite.NewCheckpointStore(store.DB(),
		sqlite.WithCheckpointAutoMigrate(true))
	require.NoError(t, err)

	_, err = store.DB().Exec(`
		CREATE TABLE applied_events (
			processor TEXT NOT NULL,
			event_id INTEGER NOT NULL,
			PRIMARY KEY (processor, event_id)
		)
	`)
	require.NoError(t, err)
	return store, checkpoints
}

func appendN(t *testing.T, store *sqlite.EventStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		event, err := eventsourcing.NewEvent("test.tick", "tester", nil)
		require.NoError(t, err)
		_, err = store.Append(context.Background(), event)
		require.NoError(t, err)
	}
}

func TestPipelineCatchUp(t *testing.T) {
	ctx := context.Background()
	store, checkpoints := newPipelineFixture(t)

	proc := &countingProcessor{name: "counter"}
	pipeline := eventsourcing.NewPipeline(store.DB(), store, checkpoints)
	pipeline.Register(proc)

	appendN(t, store, 5)
	require.NoError(t, pipeline.CatchUp(ctx))
	require.Equal(t, []int64{1, 2, 3, 4, 5}, proc.applied, "events apply in ascending id order")

	cp, err := checkpoints.Load(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, int64(5), cp.LastEventID)

	t.Run("SecondCatchUpAppliesNothing", func(t *testing.T) {
		require.NoError(t, pipeline.CatchUp(ctx))
		require.Len(t, proc.applied, 5)
	})

	t.Run("NewEventsResumeFromCheckpoint", func(t *testing.T) {
		appendN(t, store, 2)
		require.NoError(t, pipeline.CatchUp(ctx))
		require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, proc.applied)

		cp, err := checkpoints.Load(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, int64(7), cp.LastEventID)
	})
}

func TestPipelineCheckpointsAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, checkpoints := newPipelineFixture(t)

	fast := &countingProcessor{name: "fast"}
	late := &countingProcessor{name: "late"}

	pipeline := eventsourcing.NewPipeline(store.DB(), store, checkpoints)
	pipeline.Register(fast)

	appendN(t, store, 3)
	require.NoError(t, pipeline.CatchUp(ctx))

	// A processor registered later starts from zero and catches up on
	// its own; the earlier one is not re-applied.
	pipeline.Register(late)
	require.NoError(t, pipeline.CatchUp(ctx))

	require.Equal(t, []int64{1, 2, 3}, fast.applied)
	require.Equal(t, []int64{1, 2, 3}, late.applied)
}

func TestPipelineRebuild(t *testing.T) {
	ctx := context.Background()
	store, checkpoints := newPipelineFixture(t)

	proc := &countingProcessor{name: "rebuildable"}
	pipeline := eventsourcing.NewPipeline(store.DB(), store, checkpoints)
	pipeline.Register(proc)

	appendN(t, store, 4)
	require.NoError(t, pipeline.CatchUp(ctx))
	require.Len(t, proc.applied, 4)

	require.NoError(t, pipeline.Rebuild(ctx, "rebuildable"))
	require.Equal(t, []int64{1, 2, 3, 4, 1, 2, 3, 4}, proc.applied,
		"rebuild replays the full log")

	// Table writes stayed idempotent across the replay.
	var count int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM applied_events WHERE processor = 'rebuildable'`).Scan(&count))
	require.Equal(t, 4, count)
}

func TestPipelineRebuildUnknownProcessor(t *testing.T) {
	store, checkpoints := newPipelineFixture(t)
	pipeline := eventsourcing.NewPipeline(store.DB(), store, checkpoints)

	err := pipeline.Rebuild(context.Background(), "missing")
	require.ErrorIs(t, err, eventsourcing.ErrNoSuchProcessor)
}
