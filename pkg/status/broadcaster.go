// Package status keeps the latest acquisition status per job key and
// fans updates out to subscribers. It is a latest-value cache, not a
// durable log: a subscriber that falls behind misses intermediate
// updates but always receives the most recent one.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is one acquisition status update.
type Status struct {
	Key       string
	Phase     string
	Detail    string
	UpdatedAt time.Time
}

type subscriber struct {
	key string // empty subscribes to every key
	ch  chan Status
}

// Broadcaster holds the latest status per key and notifies subscribers
// on every update. All methods are safe for concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	latest      map[string]Status
	subscribers map[string]subscriber
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		latest:      make(map[string]Status),
		subscribers: make(map[string]subscriber),
	}
}

// Set records the latest status for key and notifies matching
// subscribers. Delivery is non-blocking: a subscriber whose channel is
// full has its stale pending value replaced by the new one.
func (b *Broadcaster) Set(key, phase, detail string) {
	st := Status{
		Key:       key,
		Phase:     phase,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest[key] = st
	for _, sub := range b.subscribers {
		if sub.key != "" && sub.key != key {
			continue
		}
		deliverLatest(sub.ch, st)
	}
}

// Clear removes the stored status for key. Subscribers are not
// notified; the key simply disappears from future snapshots.
func (b *Broadcaster) Clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, key)
}

// Get returns the latest status for key.
func (b *Broadcaster) Get(key string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.latest[key]
	return st, ok
}

// Snapshot returns a copy of every key's latest status.
func (b *Broadcaster) Snapshot() map[string]Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Status, len(b.latest))
	for k, v := range b.latest {
		out[k] = v
	}
	return out
}

// Subscribe registers for updates to key, or to all keys when key is
// empty. The returned token releases the subscription via Unsubscribe.
// If key already has a status it is delivered immediately.
func (b *Broadcaster) Subscribe(key string) (string, <-chan Status) {
	token := uuid.NewString()
	ch := make(chan Status, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[token] = subscriber{key: key, ch: ch}
	if key != "" {
		if st, ok := b.latest[key]; ok {
			ch <- st
		}
	}
	return token, ch
}

// Unsubscribe releases a subscription. Unknown tokens are ignored.
func (b *Broadcaster) Unsubscribe(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[token]
	if !ok {
		return
	}
	delete(b.subscribers, token)
	close(sub.ch)
}

// deliverLatest replaces any undelivered value with st so the channel
// always holds the newest update.
func deliverLatest(ch chan Status, st Status) {
	for {
		select {
		case ch <- st:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
