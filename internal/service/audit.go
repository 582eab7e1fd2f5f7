package service

import (
	"context"
	"log/slog"

	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

// AuditService exposes the ledger and the outbox to operators: listing,
// inspection, and the manual recovery operations (reprocess a discarded
// event, re-queue a failed message).
type AuditService struct {
	store database.Store
	queue messagequeue.Queue
	log   *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(store database.Store, queue messagequeue.Queue, log *slog.Logger) *AuditService {
	return &AuditService{store: store, queue: queue, log: log.With("component", "audit")}
}

// ListEvents returns ledger entries, optionally filtered by status.
func (s *AuditService) ListEvents(ctx context.Context, status event.Status, limit int) ([]event.InboundEvent, error) {
	return s.store.ListEvents(ctx, status, limit)
}

// GetEvent returns one ledger entry.
func (s *AuditService) GetEvent(ctx context.Context, id int64) (*event.InboundEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// ReprocessEvent returns a failed or discarded entry to the queue with
// a fresh attempt budget. Only terminal entries are eligible; anything
// else is domain.ErrConflict.
func (s *AuditService) ReprocessEvent(ctx context.Context, id int64) error {
	if err := s.store.ResetEvent(ctx, id); err != nil {
		return err
	}
	s.log.Info("event queued for reprocessing", "event_id", id)
	if err := s.queue.Publish(ctx, messagequeue.SubjectEventClaimable, nil); err != nil {
		s.log.Warn("publish claimable wakeup", "event_id", id, "error", err)
	}
	return nil
}

// ListOutbound returns outbox entries, optionally filtered by status.
func (s *AuditService) ListOutbound(ctx context.Context, status message.Status, limit int) ([]message.Outbound, error) {
	return s.store.ListOutbound(ctx, status, limit)
}

// GetOutbound returns one outbox entry.
func (s *AuditService) GetOutbound(ctx context.Context, id string) (*message.Outbound, error) {
	return s.store.GetOutbound(ctx, id)
}

// RetryOutbound re-queues a terminally failed message for delivery.
func (s *AuditService) RetryOutbound(ctx context.Context, id string) error {
	if err := s.store.ResetOutbound(ctx, id); err != nil {
		return err
	}
	s.log.Info("outbound message re-queued", "message_id", id)
	if err := s.queue.Publish(ctx, messagequeue.SubjectOutboundQueued, []byte(id)); err != nil {
		s.log.Warn("publish outbound wakeup", "message_id", id, "error", err)
	}
	return nil
}
