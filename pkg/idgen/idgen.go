// Package idgen generates lexicographically sortable identifiers for
// playlists and acquisition jobs.
package idgen

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// MustNewSortableID returns a new ULID string. ULIDs sort by creation
// time, which keeps queue snapshots and playlist ids naturally ordered.
func MustNewSortableID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
