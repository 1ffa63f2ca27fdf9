// Package nats implements the event bus on NATS JetStream and provides
// an embedded server for single-binary deployments and tests.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/messaging"
)

// EventBus is a JetStream-backed messaging.EventBus with at-least-once
// delivery. Event ids double as message ids, so JetStream deduplicates
// republished events.
type EventBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	mu         sync.RWMutex
	subs       map[string]*nats.Subscription
}

// Config holds configuration for the NATS event bus.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream name for events.
	StreamName string

	// MaxAge is how long to retain events in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum bytes the stream can store.
	MaxBytes int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		StreamName: "TONEARM_EVENTS",
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024, // 1 GB
	}
}

// NewEventBus connects to NATS and ensures the event stream exists.
func NewEventBus(config Config) (*EventBus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	bus := &EventBus{
		nc:         nc,
		js:         js,
		streamName: config.StreamName,
		subs:       make(map[string]*nats.Subscription),
	}
	if err := bus.ensureStream(config); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return bus, nil
}

func (b *EventBus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{"events.>"},
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	stream, err := b.js.StreamInfo(config.StreamName)
	if err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}

	if stream.Config.MaxAge != config.MaxAge || stream.Config.MaxBytes != config.MaxBytes {
		if _, err := b.js.UpdateStream(streamConfig); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
	}
	return nil
}

// subjectFor maps an event kind to its stream subject. Kinds already
// use dot-separated names, so they slot directly into the hierarchy.
func subjectFor(kind string) string {
	return "events." + kind
}

// Publish publishes events to the stream, using the store-assigned
// event id as JetStream message id for deduplication.
func (b *EventBus) Publish(ctx context.Context, events ...eventsourcing.Event) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("serialize event %d: %w", event.ID, err)
		}
		_, err = b.js.Publish(subjectFor(event.Kind), data,
			nats.MsgId(strconv.FormatInt(event.ID, 10)),
			nats.Context(ctx),
		)
		if err != nil {
			return fmt.Errorf("publish event %d: %w", event.ID, err)
		}
	}
	return nil
}

// Subscribe delivers events of the given kinds to handler; no kinds
// means every event. Handler errors nack the message for redelivery.
func (b *EventBus) Subscribe(handler messaging.EventHandler, kinds ...string) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subject := "events.>"
	if len(kinds) == 1 {
		subject = subjectFor(kinds[0])
	}
	wanted := make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		wanted[kind] = struct{}{}
	}

	consumerName := "consumer_" + uuid.NewString()[:8]
	sub, err := b.js.QueueSubscribe(
		subject,
		consumerName,
		func(msg *nats.Msg) {
			var event eventsourcing.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				msg.Nak()
				return
			}
			if len(wanted) > 0 {
				if _, ok := wanted[event.Kind]; !ok {
					msg.Ack()
					return
				}
			}
			if err := handler(event); err != nil {
				msg.Nak()
				return
			}
			msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	b.subs[consumerName] = sub
	return &subscription{bus: b, sub: sub, consumerName: consumerName}, nil
}

// Close closes the bus and all subscriptions.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}

type subscription struct {
	bus          *EventBus
	sub          *nats.Subscription
	consumerName string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	delete(s.bus.subs, s.consumerName)
	return s.sub.Unsubscribe()
}

var _ messaging.EventBus = (*EventBus)(nil)
