package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/sqlite"
)

func newMemoryStore(t *testing.T) *sqlite.EventStore {
	t.Helper()
	store, err := sqlite.NewEventStore(
		sqlite.WithMemoryDatabase(),
		sqlite.WithWALMode(false),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustEvent(t *testing.T, kind, actor string, payload any) eventsourcing.Event {
	t.Helper()
	event, err := eventsourcing.NewEvent(kind, actor, payload)
	require.NoError(t, err)
	return event
}

func TestEventStoreAppend(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	t.Run("AssignsMonotonicGaplessIDs", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			_, err := store.Append(ctx, mustEvent(t, "test.ping", "alice", map[string]int{"n": i}))
			require.NoError(t, err)
		}

		events, err := store.ReadFrom(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, event := range events {
			require.Equal(t, int64(i+1), event.ID, "ids must be gapless from 1")
		}
	})

	t.Run("LastIDTracksHead", func(t *testing.T) {
		lastID, err := store.LastID(ctx)
		require.NoError(t, err)

		newLast, err := store.Append(ctx, mustEvent(t, "test.ping", "alice", nil))
		require.NoError(t, err)
		require.Equal(t, lastID+1, newLast)
	})

	t.Run("BatchAppendIsAtomic", func(t *testing.T) {
		before, err := store.LastID(ctx)
		require.NoError(t, err)

		last, err := store.Append(ctx,
			mustEvent(t, "test.batch", "bob", nil),
			mustEvent(t, "test.batch", "bob", nil),
			mustEvent(t, "test.batch", "bob", nil),
		)
		require.NoError(t, err)
		require.Equal(t, before+3, last)
	})

	t.Run("ConcurrentAppendsStayGapless", func(t *testing.T) {
		store := newMemoryStore(t)

		const writers = 8
		const perWriter = 10
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					_, err := store.Append(ctx, mustEvent(t, "test.concurrent", "w", nil))
					require.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		events, err := store.ReadFrom(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, events, writers*perWriter)
		for i, event := range events {
			require.Equal(t, int64(i+1), event.ID)
		}
	})
}

func TestEventStoreReadFrom(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	for i := 0; i < 10; i++ {
		_, err := store.Append(ctx, mustEvent(t, "test.ping", "alice", nil))
		require.NoError(t, err)
	}

	t.Run("AfterIDExcludesBoundary", func(t *testing.T) {
		events, err := store.ReadFrom(ctx, 7, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		require.Equal(t, int64(8), events[0].ID)
	})

	t.Run("LimitBoundsBatch", func(t *testing.T) {
		events, err := store.ReadFrom(ctx, 0, 4)
		require.NoError(t, err)
		require.Len(t, events, 4)
	})

	t.Run("EmptyBeyondHead", func(t *testing.T) {
		events, err := store.ReadFrom(ctx, 100, 0)
		require.NoError(t, err)
		require.Empty(t, events)
	})
}

func TestEventRoundTripsPayload(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)

	type payload struct {
		UserID      string `json:"user_id"`
		RecordingID string `json:"recording_id"`
	}
	_, err := store.Append(ctx, mustEvent(t, "library.song_liked", "alice",
		payload{UserID: "u1", RecordingID: "r1"}))
	require.NoError(t, err)

	events, err := store.ReadFrom(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "library.song_liked", events[0].Kind)
	require.Equal(t, "alice", events[0].Actor)

	var got payload
	require.NoError(t, events[0].DecodePayload(&got))
	require.Equal(t, payload{UserID: "u1", RecordingID: "r1"}, got)
}
