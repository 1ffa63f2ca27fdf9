package eventsourcing

import (
	"context"
	"encoding/json"
	"time"
)

// Event represents a domain event that has occurred in the system.
// Events are immutable facts about state changes: once appended they
// are never mutated or deleted, and their id order defines the only
// valid replay order.
type Event struct {
	// ID is assigned at append time. It is strictly increasing and
	// gapless per store; no two events share an id and no committed
	// id is ever skipped.
	ID int64

	// Kind discriminates the payload (e.g., "library.song_liked").
	Kind string

	// Actor identifies the user that caused this event. Empty for
	// system-originated events such as download completions.
	Actor string

	// CreatedAt is when the event was appended, in UTC.
	CreatedAt time.Time

	// Payload is the kind-specific JSON body of the event.
	Payload json.RawMessage
}

// NewEvent builds an unappended event with the payload marshalled to JSON.
// The ID stays zero until the store assigns one.
func NewEvent(kind, actor string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:      kind,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
		Payload:   body,
	}, nil
}

// DecodePayload unmarshals the event payload into target.
func (e Event) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// EventStore defines the interface for persisting and retrieving events.
type EventStore interface {
	// Append appends events atomically and returns the id assigned to the
	// last event. Id assignment is atomic: either every event is committed
	// with a fresh contiguous id, or none are. A failed append wraps
	// ErrStoreUnavailable and means nothing was recorded.
	Append(ctx context.Context, events ...Event) (int64, error)

	// ReadFrom loads up to limit events with id > afterID, in ascending
	// id order. A limit <= 0 means no limit.
	ReadFrom(ctx context.Context, afterID int64, limit int) ([]Event, error)

	// LastID returns the highest assigned event id, 0 if the log is empty.
	LastID(ctx context.Context) (int64, error)

	// Close closes the event store and releases resources.
	Close() error
}
