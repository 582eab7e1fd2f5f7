package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/adapter/ws"
	"github.com/syncforge/chatbridge/internal/config"
	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/port/broadcast"
	"github.com/syncforge/chatbridge/internal/port/chatapi"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
	"github.com/syncforge/chatbridge/internal/resilience"
)

// DispatcherService delivers queued outbound messages to the chat
// provider. It claims due pending rows in batches, bounds concurrent
// provider calls with a semaphore, and routes every call through a
// circuit breaker. Transient failures reschedule the row with
// exponential backoff until the attempt budget runs out; terminal
// failures park it immediately.
type DispatcherService struct {
	store   database.Store
	chat    chatapi.Client
	queue   messagequeue.Queue
	mapper  *MapperService
	breaker *resilience.Breaker
	sem     *semaphore.Weighted
	metrics *otel.Metrics
	hub     broadcast.Broadcaster
	log     *slog.Logger

	batchSize   int
	sweepEvery  time.Duration
	lease       time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	callTimeout time.Duration
}

// NewDispatcherService creates a new DispatcherService.
func NewDispatcherService(
	store database.Store,
	chat chatapi.Client,
	queue messagequeue.Queue,
	mapper *MapperService,
	cfg *config.Config,
	metrics *otel.Metrics,
	hub broadcast.Broadcaster,
	log *slog.Logger,
) *DispatcherService {
	return &DispatcherService{
		store:       store,
		chat:        chat,
		queue:       queue,
		mapper:      mapper,
		breaker:     resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		sem:         semaphore.NewWeighted(cfg.Chat.MaxInFlight),
		metrics:     metrics,
		hub:         hub,
		log:         log.With("component", "dispatcher"),
		batchSize:   cfg.Worker.BatchSize,
		sweepEvery:  cfg.Worker.SweepInterval,
		lease:       cfg.Worker.Lease,
		maxAttempts: cfg.Retry.MaxAttempts,
		backoffBase: cfg.Retry.BackoffBase,
		backoffCap:  cfg.Retry.BackoffCap,
		callTimeout: cfg.Chat.RequestTimeout,
	}
}

// Run processes outbound messages until ctx is cancelled. A periodic
// sweep claims due rows; enqueue wakeups via NATS cut the latency
// between enqueue and delivery.
func (s *DispatcherService) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectOutboundQueued, func(context.Context, string, []byte) error {
		select {
		case wake <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		s.log.Warn("subscribe outbound wakeups, falling back to sweep only", "error", err)
	} else {
		defer cancel()
	}

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if err := s.dispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("dispatch sweep", "error", err)
		}
	}
}

// dispatchDue claims one batch of due messages and delivers them.
// Claiming keeps looping while full batches come back so a burst
// drains without waiting for the next sweep.
func (s *DispatcherService) dispatchDue(ctx context.Context) error {
	for {
		batch, err := s.store.ClaimDueOutbound(ctx, s.batchSize, s.lease)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for i := range batch {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			m := batch[i]
			go func() {
				defer s.sem.Release(1)
				s.deliver(ctx, m)
			}()
		}

		if len(batch) < s.batchSize {
			return nil
		}
	}
}

// deliver sends one message and records the outcome. The destination
// space is resolved through the task's project at send time, not read
// from the thread mapping, so unlinking a project stops delivery of
// anything still in the queue.
func (s *DispatcherService) deliver(ctx context.Context, m message.Outbound) {
	spaceID, err := s.destination(ctx, m.ThreadKey)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotLinked):
			s.fail(ctx, m, "unlinked space: "+err.Error())
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
			s.fail(ctx, m, "no destination: "+err.Error())
		default:
			// Infrastructure error. Leave the row claimed; the lease
			// expiry retries it without burning the attempt budget.
			s.log.Error("resolve destination", "message_id", m.ID, "thread_key", m.ThreadKey, "error", err)
		}
		return
	}

	start := time.Now()
	err = s.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		_, postErr := s.chat.PostMessage(callCtx, spaceID, m.ThreadKey, m.Payload)
		return postErr
	})
	if s.metrics != nil {
		s.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		if markErr := s.store.MarkOutboundSent(ctx, m.ID); markErr != nil {
			s.log.Error("mark outbound sent", "message_id", m.ID, "error", markErr)
			return
		}
		if s.metrics != nil {
			s.metrics.OutboundSent.Add(ctx, 1)
		}
		s.log.Info("outbound delivered", "message_id", m.ID, "thread_key", m.ThreadKey, "attempt", m.AttemptCount+1)
		s.broadcast(ctx, m, message.StatusSent, "")

	case errors.Is(err, resilience.ErrCircuitOpen):
		// Leave the row pending. The claim lease expires and the next
		// sweep retries once the breaker lets calls through again.
		s.log.Warn("outbound held, circuit open", "message_id", m.ID)

	case chatapi.IsTransient(err) && m.AttemptCount+1 < s.maxAttempts:
		delay := Backoff(s.backoffBase, s.backoffCap, m.AttemptCount)
		next := time.Now().Add(delay)
		if markErr := s.store.MarkOutboundRetry(ctx, m.ID, err.Error(), next); markErr != nil {
			s.log.Error("mark outbound retry", "message_id", m.ID, "error", markErr)
			return
		}
		s.log.Warn("outbound send failed, will retry",
			"message_id", m.ID, "attempt", m.AttemptCount+1, "next_attempt_in", delay, "error", err)
		s.broadcast(ctx, m, message.StatusPending, err.Error())

	default:
		reason := err.Error()
		if chatapi.IsTransient(err) {
			reason = "retry attempts exhausted: " + reason
		}
		s.fail(ctx, m, reason)
	}
}

// destination maps a thread key back to its task and resolves the
// space through the task's project. A project that has been unlinked
// surfaces as domain.ErrNotLinked.
func (s *DispatcherService) destination(ctx context.Context, threadKey string) (string, error) {
	taskID, ok := mapping.TaskIDForThreadKey(threadKey)
	if !ok {
		return "", fmt.Errorf("%w: malformed thread key %q", domain.ErrValidation, threadKey)
	}
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("task for thread %s: %w", threadKey, err)
	}
	sm, err := s.mapper.ResolveSpace(ctx, t.ProjectID)
	if err != nil {
		return "", err
	}
	return sm.SpaceID, nil
}

func (s *DispatcherService) fail(ctx context.Context, m message.Outbound, reason string) {
	if err := s.store.MarkOutboundFailed(ctx, m.ID, reason); err != nil {
		s.log.Error("mark outbound failed", "message_id", m.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.OutboundFailed.Add(ctx, 1)
	}
	s.log.Error("outbound terminally failed", "message_id", m.ID, "thread_key", m.ThreadKey, "reason", reason)
	s.broadcast(ctx, m, message.StatusFailed, reason)
}

func (s *DispatcherService) broadcast(ctx context.Context, m message.Outbound, status message.Status, lastError string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventOutboundStatus, ws.OutboundStatusEvent{
		MessageID:    m.ID,
		ThreadKey:    m.ThreadKey,
		Status:       string(status),
		AttemptCount: m.AttemptCount + 1,
		LastError:    lastError,
	})
}
