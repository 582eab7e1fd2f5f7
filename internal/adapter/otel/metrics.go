package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chatbridge"

// Metrics holds all chatbridge metric instruments.
type Metrics struct {
	EventsIngested   metric.Int64Counter
	EventsDuplicate  metric.Int64Counter
	EventsProcessed  metric.Int64Counter
	EventsFailed     metric.Int64Counter
	EventsDiscarded  metric.Int64Counter
	EventsReclaimed  metric.Int64Counter
	OutboundQueued   metric.Int64Counter
	OutboundSent     metric.Int64Counter
	OutboundFailed   metric.Int64Counter
	DispatchDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsIngested, err = meter.Int64Counter("chatbridge.events.ingested",
		metric.WithDescription("Inbound events durably recorded"))
	if err != nil {
		return nil, err
	}

	m.EventsDuplicate, err = meter.Int64Counter("chatbridge.events.duplicate",
		metric.WithDescription("Inbound events absorbed by the dedup key"))
	if err != nil {
		return nil, err
	}

	m.EventsProcessed, err = meter.Int64Counter("chatbridge.events.processed",
		metric.WithDescription("Inbound events applied to task-domain state"))
	if err != nil {
		return nil, err
	}

	m.EventsFailed, err = meter.Int64Counter("chatbridge.events.failed",
		metric.WithDescription("Inbound event processing failures"))
	if err != nil {
		return nil, err
	}

	m.EventsDiscarded, err = meter.Int64Counter("chatbridge.events.discarded",
		metric.WithDescription("Inbound events discarded (orphans, retry exhaustion)"))
	if err != nil {
		return nil, err
	}

	m.EventsReclaimed, err = meter.Int64Counter("chatbridge.events.reclaimed",
		metric.WithDescription("Stuck processing entries returned by lease expiry"))
	if err != nil {
		return nil, err
	}

	m.OutboundQueued, err = meter.Int64Counter("chatbridge.outbound.queued",
		metric.WithDescription("Outbound messages enqueued"))
	if err != nil {
		return nil, err
	}

	m.OutboundSent, err = meter.Int64Counter("chatbridge.outbound.sent",
		metric.WithDescription("Outbound messages delivered"))
	if err != nil {
		return nil, err
	}

	m.OutboundFailed, err = meter.Int64Counter("chatbridge.outbound.failed",
		metric.WithDescription("Outbound messages terminally failed"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("chatbridge.dispatch.duration_seconds",
		metric.WithDescription("Chat API send duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
