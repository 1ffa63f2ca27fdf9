package download

import "time"

// Job is one pending or in-flight release acquisition. Jobs are keyed
// by (artist id, release folder name): at most one orchestration per
// key runs at a time and duplicate enqueues for the key are no-ops.
type Job struct {
	// ID is a sortable unique id assigned on enqueue.
	ID string

	ArtistID          string
	ArtistName        string
	ReleaseGroupID    string
	ReleaseTitle      string
	ReleaseFolderName string

	// Quality constraints applied during candidate ranking. Zero values
	// mean "no preference".
	Format         string
	MinBitrateKbps int

	Phase      Phase
	EnqueuedAt time.Time

	// seq orders tracked jobs by enqueue for Queue.Snapshot. Assigned
	// under the queue lock.
	seq uint64
}

// Key returns the job's dedup key.
func (j Job) Key() string {
	return j.ArtistID + "/" + j.ReleaseFolderName
}
