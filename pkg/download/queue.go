package download

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tonearm/tonearm/pkg/idgen"
)

// Queue is the FIFO acquisition queue. Jobs are deduplicated by key
// across both waiting and active entries, so a key has at most one
// orchestration anywhere in the system at a time.
type Queue struct {
	mu      sync.Mutex
	seq     uint64
	pending []*Job
	byKey   map[string]*Job
	active  map[string]context.CancelFunc
	wake    chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		byKey:  make(map[string]*Job),
		active: make(map[string]context.CancelFunc),
		wake:   make(chan struct{}),
	}
}

// Enqueue adds a job unless its key is already waiting or active.
// Returns false on a duplicate. The job's id, phase, and enqueue time
// are assigned here.
func (q *Queue) Enqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byKey[job.Key()]; exists {
		return false
	}

	q.seq++
	job.seq = q.seq
	job.ID = idgen.MustNewSortableID()
	job.Phase = PhaseQueued
	job.EnqueuedAt = time.Now().UTC()

	j := &job
	q.byKey[job.Key()] = j
	q.pending = append(q.pending, j)
	close(q.wake)
	q.wake = make(chan struct{})
	return true
}

// Dequeue blocks until a job is waiting or ctx is done, then returns
// the oldest waiting job. The job stays tracked by key until Finish.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			j := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return *j, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

// Activate registers the cancel function for a dequeued job so other
// tasks can stop it via CancelActiveForKey or CancelActiveForArtist.
func (q *Queue) Activate(key string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active[key] = cancel
}

// Finish releases a job's key once its orchestration ends, allowing
// the key to be enqueued again.
func (q *Queue) Finish(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, key)
	delete(q.byKey, key)
}

// TryRemove removes a waiting job by key. Active jobs are not touched;
// use CancelActiveForKey for those.
func (q *Queue) TryRemove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, j := range q.pending {
		if j.Key() == key {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			delete(q.byKey, key)
			return true
		}
	}
	return false
}

// CancelActiveForKey cancels the in-flight job for key, if any.
func (q *Queue) CancelActiveForKey(key string) bool {
	q.mu.Lock()
	cancel, ok := q.active[key]
	q.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// CancelActiveForArtist cancels every in-flight job for the artist and
// drops the artist's waiting jobs. Returns how many were affected,
// cancelled and dropped together. Used when an artist is removed from
// the library mid-download.
func (q *Queue) CancelActiveForArtist(artistID string) int {
	q.mu.Lock()
	var cancels []context.CancelFunc
	for key, cancel := range q.active {
		if j, ok := q.byKey[key]; ok && j.ArtistID == artistID {
			cancels = append(cancels, cancel)
		}
	}
	dropped := 0
	kept := q.pending[:0]
	for _, j := range q.pending {
		if j.ArtistID == artistID {
			delete(q.byKey, j.Key())
			dropped++
			continue
		}
		kept = append(kept, j)
	}
	q.pending = kept
	q.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels) + dropped
}

// Contains reports whether key is waiting or active.
func (q *Queue) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byKey[key]
	return ok
}

// Snapshot returns every tracked job in enqueue order, active jobs
// included, for display.
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, 0, len(q.byKey))
	for _, j := range q.byKey {
		jobs = append(jobs, *j)
	}
	// seq is assigned under the lock at enqueue; ULIDs are not ordered
	// within one millisecond.
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq < jobs[j].seq })
	return jobs
}
