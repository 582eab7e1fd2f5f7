package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

// IngestService records inbound provider events in the ledger. Both
// transports (the HTTP webhook and the NATS subscription) funnel into
// Ingest; recording is the acknowledgement point, so a duplicate
// delivery is absorbed by the dedup key and acknowledged like a first
// delivery.
type IngestService struct {
	store   database.Store
	queue   messagequeue.Queue
	metrics *otel.Metrics
	log     *slog.Logger
}

// NewIngestService creates a new IngestService.
func NewIngestService(store database.Store, queue messagequeue.Queue, metrics *otel.Metrics, log *slog.Logger) *IngestService {
	return &IngestService{store: store, queue: queue, metrics: metrics, log: log.With("component", "ingest")}
}

// Envelope is the transport framing of one provider event delivery.
type Envelope struct {
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

// Ingest durably records one provider event. Returns false when the
// event id was already recorded. The event kind is classified up front
// so the audit API can filter without decoding payloads.
func (s *IngestService) Ingest(ctx context.Context, providerEventID string, raw json.RawMessage) (bool, error) {
	if providerEventID == "" {
		return false, fmt.Errorf("%w: provider event id is required", domain.ErrValidation)
	}
	if len(raw) == 0 {
		return false, fmt.Errorf("%w: event payload is required", domain.ErrValidation)
	}

	var p event.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return false, fmt.Errorf("%w: malformed event payload: %v", domain.ErrValidation, err)
	}
	kind := event.ParseKind(p.EventType)

	inserted, err := s.store.IngestEvent(ctx, providerEventID, kind, raw, time.Now())
	if err != nil {
		return false, fmt.Errorf("ingest event %s: %w", providerEventID, err)
	}
	if !inserted {
		if s.metrics != nil {
			s.metrics.EventsDuplicate.Add(ctx, 1)
		}
		s.log.Debug("duplicate event absorbed", "provider_event_id", providerEventID)
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.EventsIngested.Add(ctx, 1)
	}
	s.log.Info("event ingested", "provider_event_id", providerEventID, "kind", kind)

	// Wake an idle worker. Lost wakeups are repaired by the sweep.
	if err := s.queue.Publish(ctx, messagequeue.SubjectEventClaimable, []byte(providerEventID)); err != nil {
		s.log.Warn("publish claimable wakeup", "provider_event_id", providerEventID, "error", err)
	}

	return true, nil
}

// ConsumeQueue subscribes to the raw event subject and feeds deliveries
// into the ledger. Returning an error from the handler naks the
// message, so only infrastructure failures trigger redelivery;
// malformed envelopes are logged and dropped.
func (s *IngestService) ConsumeQueue(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectEventReceived, func(ctx context.Context, _ string, data []byte) error {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Error("malformed event envelope dropped", "error", err)
			return nil
		}

		_, err := s.Ingest(ctx, env.EventID, env.Payload)
		if errors.Is(err, domain.ErrValidation) {
			s.log.Error("invalid event dropped", "event_id", env.EventID, "error", err)
			return nil
		}
		return err
	})
}
