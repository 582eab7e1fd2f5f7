package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/domain/task"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

// NotifierService turns task-domain changes into queued outbound chat
// messages. Enqueueing is the commit point: once the row is durable the
// change is considered notified, and delivery is the dispatcher's job.
type NotifierService struct {
	store   database.Store
	mapper  *MapperService
	queue   messagequeue.Queue
	metrics *otel.Metrics
}

// NewNotifierService creates a new NotifierService.
func NewNotifierService(store database.Store, mapper *MapperService, queue messagequeue.Queue, metrics *otel.Metrics) *NotifierService {
	return &NotifierService{store: store, mapper: mapper, queue: queue, metrics: metrics}
}

// NotifyTaskChanged formats a change set for the given task and
// enqueues it to the task's thread. A change set with no tracked
// fields, or a task whose project is not linked, enqueues nothing and
// returns nil.
func (s *NotifierService) NotifyTaskChanged(ctx context.Context, taskID int64, changes task.Changes) (*message.Outbound, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("notify task change: %w", err)
	}

	payload, ok := message.Format(t, changes)
	if !ok {
		return nil, nil
	}

	m, err := s.enqueue(ctx, taskID, payload)
	if errors.Is(err, domain.ErrNotLinked) {
		// Changes in unlinked projects are not an error, just out of scope.
		return nil, nil
	}
	return m, err
}

// ResyncTask pushes the task's full tracked state to its thread as a
// card, repairing the chat side after missed notifications.
func (s *NotifierService) ResyncTask(ctx context.Context, taskID int64) (*message.Outbound, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("resync task: %w", err)
	}

	return s.enqueue(ctx, taskID, message.FormatState(t))
}

func (s *NotifierService) enqueue(ctx context.Context, taskID int64, payload message.Payload) (*message.Outbound, error) {
	tm, err := s.mapper.ResolveThread(ctx, taskID)
	if err != nil {
		return nil, err
	}

	m := &message.Outbound{
		ID:        uuid.NewString(),
		ThreadKey: tm.ThreadKey,
		Payload:   payload,
		Status:    message.StatusPending,
	}
	if err := s.store.EnqueueOutbound(ctx, m); err != nil {
		return nil, fmt.Errorf("enqueue outbound: %w", err)
	}
	if s.metrics != nil {
		s.metrics.OutboundQueued.Add(ctx, 1)
	}

	// Wake the dispatcher. The sweep picks the row up anyway if this
	// publish is lost.
	if err := s.queue.Publish(ctx, messagequeue.SubjectOutboundQueued, []byte(m.ID)); err != nil {
		slog.Warn("publish outbound wakeup", "message_id", m.ID, "error", err)
	}

	return m, nil
}
