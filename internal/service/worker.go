package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/adapter/ws"
	"github.com/syncforge/chatbridge/internal/config"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/port/broadcast"
	"github.com/syncforge/chatbridge/internal/port/database"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

// WorkerService runs the inbound event worker pool. Workers claim
// eligible ledger entries in batches and run them through the router;
// the claim itself is the mutual exclusion, so adding workers never
// double-applies an event. A sweeper returns entries stuck in
// processing past their lease.
type WorkerService struct {
	store   database.Store
	router  *RouterService
	queue   messagequeue.Queue
	metrics *otel.Metrics
	hub     broadcast.Broadcaster
	log     *slog.Logger

	count       int
	batchSize   int
	sweepEvery  time.Duration
	lease       time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	wake chan struct{}
}

// NewWorkerService creates a new WorkerService.
func NewWorkerService(
	store database.Store,
	router *RouterService,
	queue messagequeue.Queue,
	cfg *config.Config,
	metrics *otel.Metrics,
	hub broadcast.Broadcaster,
	log *slog.Logger,
) *WorkerService {
	return &WorkerService{
		store:       store,
		router:      router,
		queue:       queue,
		metrics:     metrics,
		hub:         hub,
		log:         log.With("component", "worker"),
		count:       cfg.Worker.Count,
		batchSize:   cfg.Worker.BatchSize,
		sweepEvery:  cfg.Worker.SweepInterval,
		lease:       cfg.Worker.Lease,
		maxAttempts: cfg.Retry.MaxAttempts,
		backoffBase: cfg.Retry.BackoffBase,
		backoffCap:  cfg.Retry.BackoffCap,
		wake:        make(chan struct{}, 1),
	}
}

// Run starts the worker pool and the sweeper, blocking until ctx is
// cancelled.
func (s *WorkerService) Run(ctx context.Context) error {
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectEventClaimable, func(context.Context, string, []byte) error {
		s.wakeUp()
		return nil
	})
	if err != nil {
		s.log.Warn("subscribe event wakeups, falling back to sweep only", "error", err)
	} else {
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.count; i++ {
		g.Go(func() error { return s.workLoop(ctx) })
	}
	g.Go(func() error { return s.sweepLoop(ctx) })

	s.log.Info("event workers started", "count", s.count)
	return g.Wait()
}

func (s *WorkerService) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// workLoop claims and processes batches until ctx is cancelled. After
// an empty claim it parks until the sweep tick or a wakeup.
func (s *WorkerService) workLoop(ctx context.Context) error {
	for {
		batch, err := s.store.ClaimNextEvents(ctx, s.batchSize, s.maxAttempts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("claim events", "error", err)
		}

		for i := range batch {
			s.processOne(ctx, batch[i])
		}

		if len(batch) == s.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-time.After(s.sweepEvery):
		}
	}
}

// sweepLoop periodically reclaims entries stuck in processing, then
// wakes a worker to pick them up.
func (s *WorkerService) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := s.store.ReclaimStuckEvents(ctx, s.lease)
		if err != nil {
			s.log.Error("reclaim stuck events", "error", err)
			continue
		}
		if n > 0 {
			s.log.Warn("reclaimed stuck events", "count", n)
			if s.metrics != nil {
				s.metrics.EventsReclaimed.Add(ctx, n)
			}
			s.wakeUp()
		}
	}
}

// processOne routes a claimed event and records the outcome in the
// ledger. Mark failures are logged and left alone: the entry stays in
// processing until the lease expires and the sweep returns it.
func (s *WorkerService) processOne(ctx context.Context, ev event.InboundEvent) {
	err := s.router.Process(ctx, ev)

	var dis *discardError
	switch {
	case err == nil:
		if markErr := s.store.MarkEventProcessed(ctx, ev.ID); markErr != nil {
			s.log.Error("mark event processed", "event_id", ev.ID, "error", markErr)
			return
		}
		if s.metrics != nil {
			s.metrics.EventsProcessed.Add(ctx, 1)
		}
		s.log.Info("event processed", "event_id", ev.ID, "provider_event_id", ev.ProviderEventID, "kind", ev.Kind)
		s.broadcast(ctx, ev, event.StatusProcessed, "")

	case errors.As(err, &dis):
		s.discard(ctx, ev, dis.reason)

	case ev.AttemptCount+1 >= s.maxAttempts:
		s.discard(ctx, ev, "retry attempts exhausted: "+err.Error())

	default:
		delay := Backoff(s.backoffBase, s.backoffCap, ev.AttemptCount)
		next := time.Now().Add(delay)
		if markErr := s.store.MarkEventFailed(ctx, ev.ID, err.Error(), next); markErr != nil {
			s.log.Error("mark event failed", "event_id", ev.ID, "error", markErr)
			return
		}
		if s.metrics != nil {
			s.metrics.EventsFailed.Add(ctx, 1)
		}
		s.log.Warn("event processing failed, will retry",
			"event_id", ev.ID, "attempt", ev.AttemptCount+1, "next_attempt_in", delay, "error", err)
		s.broadcast(ctx, ev, event.StatusFailed, err.Error())
	}
}

func (s *WorkerService) discard(ctx context.Context, ev event.InboundEvent, reason string) {
	if err := s.store.MarkEventDiscarded(ctx, ev.ID, reason); err != nil {
		s.log.Error("mark event discarded", "event_id", ev.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.EventsDiscarded.Add(ctx, 1)
	}
	if reason == event.DiscardOrphan {
		// Expected for threads created outside the synced scope.
		s.log.Debug("orphan event discarded", "event_id", ev.ID, "provider_event_id", ev.ProviderEventID)
	} else {
		s.log.Error("event discarded", "event_id", ev.ID, "provider_event_id", ev.ProviderEventID, "reason", reason)
	}
	s.broadcast(ctx, ev, event.StatusDiscarded, reason)
}

func (s *WorkerService) broadcast(ctx context.Context, ev event.InboundEvent, status event.Status, lastError string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, ws.EventInboundStatus, ws.InboundStatusEvent{
		EventID:         ev.ID,
		ProviderEventID: ev.ProviderEventID,
		Kind:            string(ev.Kind),
		Status:          string(status),
		AttemptCount:    ev.AttemptCount + 1,
		LastError:       lastError,
	})
}
