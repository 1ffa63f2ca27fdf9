// Package observability holds the OpenTelemetry instruments the command
// service, projection pipeline, and acquisition orchestration record to.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments. A nil *Metrics is safe to call; every
// method no-ops, so wiring metrics stays optional.
type Metrics struct {
	commandsHandled metric.Int64Counter
	eventsAppended  metric.Int64Counter
	projectionLag   metric.Int64Gauge
	queueDepth      metric.Int64UpDownCounter
	activeDownloads metric.Int64UpDownCounter
	jobsFinished    metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.commandsHandled, err = meter.Int64Counter("tonearm.commands.handled",
		metric.WithDescription("Commands handled, by kind and result")); err != nil {
		return nil, err
	}
	if m.eventsAppended, err = meter.Int64Counter("tonearm.events.appended",
		metric.WithDescription("Events appended to the event store")); err != nil {
		return nil, err
	}
	if m.projectionLag, err = meter.Int64Gauge("tonearm.projection.lag",
		metric.WithDescription("Events between the log head and a projection checkpoint")); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64UpDownCounter("tonearm.acquisition.queue_depth",
		metric.WithDescription("Acquisition jobs waiting in the queue")); err != nil {
		return nil, err
	}
	if m.activeDownloads, err = meter.Int64UpDownCounter("tonearm.acquisition.active",
		metric.WithDescription("Acquisition jobs currently holding a slot")); err != nil {
		return nil, err
	}
	if m.jobsFinished, err = meter.Int64Counter("tonearm.acquisition.finished",
		metric.WithDescription("Acquisition jobs finished, by terminal phase")); err != nil {
		return nil, err
	}
	return m, nil
}

// CommandHandled records one handled command.
func (m *Metrics) CommandHandled(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	m.commandsHandled.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind), attribute.String("result", result)))
}

// EventsAppended records n appended events.
func (m *Metrics) EventsAppended(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.eventsAppended.Add(ctx, n)
}

// ProjectionLag records how far a projection trails the log head.
func (m *Metrics) ProjectionLag(ctx context.Context, projection string, lag int64) {
	if m == nil {
		return
	}
	m.projectionLag.Record(ctx, lag,
		metric.WithAttributes(attribute.String("projection", projection)))
}

// QueueDepth adjusts the waiting-job gauge by delta.
func (m *Metrics) QueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}

// ActiveDownloads adjusts the in-flight-job gauge by delta.
func (m *Metrics) ActiveDownloads(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.activeDownloads.Add(ctx, delta)
}

// JobFinished records one job reaching a terminal phase.
func (m *Metrics) JobFinished(ctx context.Context, phase string) {
	if m == nil {
		return
	}
	m.jobsFinished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("phase", phase)))
}
