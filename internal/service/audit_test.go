package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/message"
)

func TestReprocessDiscardedEvent(t *testing.T) {
	store := newMockStore()
	svc := NewAuditService(store, &mockQueue{}, testLogger())
	ctx := context.Background()

	if _, err := store.IngestEvent(ctx, "evt-1", event.KindMessageAdded, json.RawMessage(`{}`), time.Now()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := store.ClaimNextEvents(ctx, 1, 5); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkEventDiscarded(ctx, 1, event.DiscardOrphan); err != nil {
		t.Fatalf("discard: %v", err)
	}

	if err := svc.ReprocessEvent(ctx, 1); err != nil {
		t.Fatalf("reprocess: %v", err)
	}

	got, _ := store.GetEvent(ctx, 1)
	if got.Status != event.StatusNew {
		t.Fatalf("expected new, got %s", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("expected fresh attempt budget, got %d", got.AttemptCount)
	}
}

func TestReprocessRejectsNonTerminal(t *testing.T) {
	store := newMockStore()
	svc := NewAuditService(store, &mockQueue{}, testLogger())
	ctx := context.Background()

	if _, err := store.IngestEvent(ctx, "evt-1", event.KindMessageAdded, json.RawMessage(`{}`), time.Now()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if err := svc.ReprocessEvent(ctx, 1); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for new entry, got %v", err)
	}
	if err := svc.ReprocessEvent(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryOutboundRequeues(t *testing.T) {
	store := newMockStore()
	queue := &mockQueue{}
	svc := NewAuditService(store, queue, testLogger())
	ctx := context.Background()

	m := &message.Outbound{ID: "m1", ThreadKey: "42"}
	if err := store.EnqueueOutbound(ctx, m); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimDueOutbound(ctx, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkOutboundFailed(ctx, "m1", "bad card"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := svc.RetryOutbound(ctx, "m1"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := store.GetOutbound(ctx, "m1")
	if got.Status != message.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("expected fresh attempt budget, got %d", got.AttemptCount)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected dispatcher wakeup, got %v", queue.published)
	}
}

func TestRetryOutboundRejectsSent(t *testing.T) {
	store := newMockStore()
	svc := NewAuditService(store, &mockQueue{}, testLogger())
	ctx := context.Background()

	m := &message.Outbound{ID: "m1", ThreadKey: "42"}
	if err := store.EnqueueOutbound(ctx, m); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimDueOutbound(ctx, 1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkOutboundSent(ctx, "m1"); err != nil {
		t.Fatalf("sent: %v", err)
	}

	if err := svc.RetryOutbound(ctx, "m1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for sent message, got %v", err)
	}
}
