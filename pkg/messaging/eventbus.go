// Package messaging defines the event bus boundary used to push
// appended domain events to external consumers (API subscriptions,
// other processes). The durable source of truth stays the event store;
// bus delivery is best-effort from the command service's point of view.
package messaging

import (
	"context"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
)

// EventHandler processes one published event. Returning an error nacks
// the event for redelivery where the underlying bus supports it.
type EventHandler func(event eventsourcing.Event) error

// Subscription is an active event subscription.
type Subscription interface {
	// Unsubscribe stops delivery and releases resources.
	Unsubscribe() error
}

// EventBus publishes and subscribes to domain events.
type EventBus interface {
	// Publish publishes events to all subscribers.
	Publish(ctx context.Context, events ...eventsourcing.Event) error

	// Subscribe subscribes to events of the given kinds; no kinds means
	// all events.
	Subscribe(handler EventHandler, kinds ...string) (Subscription, error)

	// Close closes the bus and all subscriptions.
	Close() error
}
