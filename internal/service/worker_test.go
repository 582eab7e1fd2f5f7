package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/syncforge/chatbridge/internal/config"
	"github.com/syncforge/chatbridge/internal/domain/event"
)

func workerFixture(t *testing.T, maxAttempts int) (*mockStore, *WorkerService) {
	t.Helper()
	store, router := linkedFixture(t)

	cfg := config.Defaults()
	cfg.Retry.MaxAttempts = maxAttempts
	cfg.Retry.BackoffBase = time.Millisecond
	w := NewWorkerService(store, router, &mockQueue{}, &cfg, nil, nil, testLogger())
	return store, w
}

func ingestAndClaim(t *testing.T, store *mockStore, w *WorkerService, p event.Payload) event.InboundEvent {
	t.Helper()
	raw, _ := json.Marshal(p)
	if _, err := store.IngestEvent(context.Background(), "evt-1", event.ParseKind(p.EventType), raw, time.Now()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	batch, err := store.ClaimNextEvents(context.Background(), 1, w.maxAttempts)
	if err != nil || len(batch) != 1 {
		t.Fatalf("claim: err=%v n=%d", err, len(batch))
	}
	return batch[0]
}

func TestWorkerMarksProcessed(t *testing.T) {
	store, w := workerFixture(t, 5)

	ev := ingestAndClaim(t, store, w, event.Payload{
		EventType: "MESSAGE_CREATED",
		Space:     event.Space{Name: "spaces/AAA"},
		Thread:    event.Thread{Name: "spaces/AAA/threads/42"},
		Message:   event.Message{Text: "hello"},
	})
	w.processOne(context.Background(), ev)

	got, _ := store.GetEvent(context.Background(), ev.ID)
	if got.Status != event.StatusProcessed {
		t.Fatalf("expected processed, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}
}

func TestWorkerDiscardsOrphans(t *testing.T) {
	store, w := workerFixture(t, 5)

	ev := ingestAndClaim(t, store, w, event.Payload{
		EventType: "MESSAGE_CREATED",
		Space:     event.Space{Name: "spaces/NOBODY"},
		Thread:    event.Thread{Name: "spaces/NOBODY/threads/42"},
		Message:   event.Message{Text: "hello"},
	})
	w.processOne(context.Background(), ev)

	got, _ := store.GetEvent(context.Background(), ev.ID)
	if got.Status != event.StatusDiscarded {
		t.Fatalf("expected discarded, got %s", got.Status)
	}
	if got.LastError != event.DiscardOrphan {
		t.Fatalf("expected orphan reason, got %q", got.LastError)
	}
}

func TestWorkerFailureSchedulesRetry(t *testing.T) {
	store, w := workerFixture(t, 5)
	store.addCommentErr = errors.New("connection refused")

	ev := ingestAndClaim(t, store, w, event.Payload{
		EventType: "MESSAGE_CREATED",
		Space:     event.Space{Name: "spaces/AAA"},
		Thread:    event.Thread{Name: "spaces/AAA/threads/42"},
		Message:   event.Message{Text: "hello"},
	})
	w.processOne(context.Background(), ev)

	got, _ := store.GetEvent(context.Background(), ev.ID)
	if got.Status != event.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}

	// Recovery: clear the fault and run the retry
	store.addCommentErr = nil
	batch, err := store.ClaimNextEvents(context.Background(), 1, w.maxAttempts)
	if err != nil || len(batch) != 1 {
		t.Fatalf("reclaim: err=%v n=%d", err, len(batch))
	}
	w.processOne(context.Background(), batch[0])

	got, _ = store.GetEvent(context.Background(), ev.ID)
	if got.Status != event.StatusProcessed {
		t.Fatalf("expected processed after retry, got %s", got.Status)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.AttemptCount)
	}

	comments, _ := store.ListTaskComments(context.Background(), 42)
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment after retry, got %d", len(comments))
	}
}

func TestWorkerExhaustsRetryBudget(t *testing.T) {
	store, w := workerFixture(t, 2)
	store.addCommentErr = errors.New("connection refused")

	ev := ingestAndClaim(t, store, w, event.Payload{
		EventType: "MESSAGE_CREATED",
		Space:     event.Space{Name: "spaces/AAA"},
		Thread:    event.Thread{Name: "spaces/AAA/threads/42"},
		Message:   event.Message{Text: "hello"},
	})
	w.processOne(context.Background(), ev)

	batch, err := store.ClaimNextEvents(context.Background(), 1, w.maxAttempts)
	if err != nil || len(batch) != 1 {
		t.Fatalf("reclaim: err=%v n=%d", err, len(batch))
	}
	w.processOne(context.Background(), batch[0])

	got, _ := store.GetEvent(context.Background(), ev.ID)
	if got.Status != event.StatusDiscarded {
		t.Fatalf("expected discarded after budget, got %s", got.Status)
	}
	if !strings.Contains(got.LastError, "exhausted") {
		t.Fatalf("expected exhaustion reason, got %q", got.LastError)
	}

	// Exhausted entries are never claimed again
	batch, _ = store.ClaimNextEvents(context.Background(), 1, w.maxAttempts)
	if len(batch) != 0 {
		t.Fatalf("discarded entry was reclaimed: %+v", batch)
	}
}
