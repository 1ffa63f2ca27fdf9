package download

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testJob(artistID, folder string) Job {
	return Job{
		ArtistID:          artistID,
		ArtistName:        "Artist " + artistID,
		ReleaseGroupID:    "rg-" + folder,
		ReleaseFolderName: folder,
	}
}

func TestQueueEnqueueDedup(t *testing.T) {
	q := NewQueue()

	require.True(t, q.Enqueue(testJob("a1", "album")))
	require.False(t, q.Enqueue(testJob("a1", "album")), "same key is a no-op")
	require.True(t, q.Enqueue(testJob("a1", "other-album")))
	require.True(t, q.Enqueue(testJob("a2", "album")))

	require.Len(t, q.Snapshot(), 3)
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(testJob("a1", "first"))
	q.Enqueue(testJob("a1", "second"))
	q.Enqueue(testJob("a1", "third"))

	for _, want := range []string{"first", "second", "third"} {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, job.ReleaseFolderName)
	}
}

func TestQueueDequeueBlocks(t *testing.T) {
	q := NewQueue()

	t.Run("CancelledContextReturns", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("EnqueueWakesWaiter", func(t *testing.T) {
		got := make(chan Job, 1)
		go func() {
			job, err := q.Dequeue(context.Background())
			if err == nil {
				got <- job
			}
		}()

		time.Sleep(20 * time.Millisecond)
		q.Enqueue(testJob("a1", "late"))

		select {
		case job := <-got:
			require.Equal(t, "late", job.ReleaseFolderName)
		case <-time.After(time.Second):
			t.Fatal("dequeue did not observe the enqueue")
		}
	})
}

func TestQueueKeyHeldUntilFinish(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	job := testJob("a1", "album")
	require.True(t, q.Enqueue(job))

	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.False(t, q.Enqueue(job), "key stays claimed while the job runs")

	q.Finish(dequeued.Key())
	require.True(t, q.Enqueue(job), "key is free again after Finish")
}

func TestQueueTryRemove(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(testJob("a1", "waiting"))
	q.Enqueue(testJob("a1", "active"))

	dequeued, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "waiting", dequeued.ReleaseFolderName)

	t.Run("RemovesWaitingJob", func(t *testing.T) {
		require.True(t, q.TryRemove(testJob("a1", "active").Key()))
		require.False(t, q.Contains(testJob("a1", "active").Key()))
	})

	t.Run("DoesNotTouchActiveJob", func(t *testing.T) {
		q.Activate(dequeued.Key(), func() {})
		require.False(t, q.TryRemove(dequeued.Key()))
	})
}

func TestQueueCancelActive(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(testJob("a1", "album"))
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	jobCtx, cancel := context.WithCancel(ctx)
	q.Activate(job.Key(), cancel)

	t.Run("CancelActiveForKey", func(t *testing.T) {
		require.True(t, q.CancelActiveForKey(job.Key()))
		require.ErrorIs(t, jobCtx.Err(), context.Canceled)
	})

	t.Run("UnknownKeyIsFalse", func(t *testing.T) {
		require.False(t, q.CancelActiveForKey("a9/nothing"))
	})
}

func TestQueueCancelActiveForArtist(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()

	q.Enqueue(testJob("a1", "running"))
	q.Enqueue(testJob("a1", "waiting"))
	q.Enqueue(testJob("a2", "unrelated"))

	running, err := q.Dequeue(ctx)
	require.NoError(t, err)
	jobCtx, cancel := context.WithCancel(ctx)
	q.Activate(running.Key(), cancel)

	affected := q.CancelActiveForArtist("a1")
	require.Equal(t, 2, affected, "one active job cancelled plus one waiting job dropped")
	require.ErrorIs(t, jobCtx.Err(), context.Canceled)

	require.False(t, q.Contains(testJob("a1", "waiting").Key()),
		"the artist's waiting jobs are dropped")
	require.True(t, q.Contains(testJob("a2", "unrelated").Key()),
		"other artists are untouched")
}

func TestQueueSnapshotOrder(t *testing.T) {
	q := NewQueue()

	// Enqueued in one tight loop so many jobs share a timestamp.
	folders := make([]string, 20)
	for i := range folders {
		folders[i] = fmt.Sprintf("release-%02d", i)
		require.True(t, q.Enqueue(testJob("a1", folders[i])))
	}

	snapshot := q.Snapshot()
	require.Len(t, snapshot, len(folders))
	for i, job := range snapshot {
		require.Equal(t, folders[i], job.ReleaseFolderName, "snapshot preserves enqueue order")
	}
}
