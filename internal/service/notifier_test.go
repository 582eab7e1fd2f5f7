package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	cbotel "github.com/syncforge/chatbridge/internal/adapter/otel"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/domain/project"
	"github.com/syncforge/chatbridge/internal/domain/task"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

func notifierFixture(t *testing.T) (*mockStore, *mockQueue, *NotifierService) {
	t.Helper()
	store := newMockStore()
	store.projects[1] = project.Project{ID: 1, CompanyID: 7, Name: "Rollout"}
	store.tasks[42] = task.Task{ID: 42, ProjectID: 1, Name: "Ship it", Stage: "In Progress"}

	queue := &mockQueue{}
	mapper := NewMapperService(store, newMockCache(), time.Minute, nil)
	if _, err := store.LinkSpace(context.Background(), 1, "spaces/AAA", 7); err != nil {
		t.Fatalf("link space: %v", err)
	}
	return store, queue, NewNotifierService(store, mapper, queue, nil)
}

func TestNotifyTaskChangedEnqueues(t *testing.T) {
	store, queue, notifier := notifierFixture(t)

	m, err := notifier.NotifyTaskChanged(context.Background(), 42, task.Changes{
		task.FieldStage: "Done",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected an enqueued message")
	}
	if m.ThreadKey != "42" {
		t.Fatalf("expected thread key 42, got %q", m.ThreadKey)
	}
	if !strings.Contains(m.Payload.Text, "Stage: Done") {
		t.Fatalf("unexpected payload text: %q", m.Payload.Text)
	}

	stored, err := store.GetOutbound(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.Status != message.StatusPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}

	if len(queue.published) != 1 || queue.published[0] != messagequeue.SubjectOutboundQueued {
		t.Fatalf("expected dispatcher wakeup, got %v", queue.published)
	}
}

func TestNotifyTaskChangedNoTrackedFields(t *testing.T) {
	store, queue, notifier := notifierFixture(t)

	m, err := notifier.NotifyTaskChanged(context.Background(), 42, task.Changes{
		"internal_sequence": "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no message for untracked change, got %+v", m)
	}
	if len(store.outbound) != 0 {
		t.Fatal("nothing should be enqueued")
	}
	if len(queue.published) != 0 {
		t.Fatal("no wakeup should be published")
	}
}

func TestNotifyTaskChangedUnlinkedProjectIsNoOp(t *testing.T) {
	store := newMockStore()
	store.projects[1] = project.Project{ID: 1, CompanyID: 7}
	store.tasks[42] = task.Task{ID: 42, ProjectID: 1, Name: "Ship it"}
	queue := &mockQueue{}
	mapper := NewMapperService(store, newMockCache(), time.Minute, nil)
	notifier := NewNotifierService(store, mapper, queue, nil)

	m, err := notifier.NotifyTaskChanged(context.Background(), 42, task.Changes{task.FieldName: "Renamed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil for unlinked project, got %+v", m)
	}
}

func TestNotifyTaskChangedCountsQueued(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer otel.SetMeterProvider(prev)

	metrics, err := cbotel.NewMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	store := newMockStore()
	store.projects[1] = project.Project{ID: 1, CompanyID: 7, Name: "Rollout"}
	store.tasks[42] = task.Task{ID: 42, ProjectID: 1, Name: "Ship it"}
	if _, err := store.LinkSpace(context.Background(), 1, "spaces/AAA", 7); err != nil {
		t.Fatalf("link space: %v", err)
	}
	mapper := NewMapperService(store, newMockCache(), time.Minute, nil)
	notifier := NewNotifierService(store, mapper, &mockQueue{}, metrics)

	if _, err := notifier.NotifyTaskChanged(context.Background(), 42, task.Changes{task.FieldStage: "Done"}); err != nil {
		t.Fatalf("notify: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var queued int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "chatbridge.outbound.queued" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 {
				t.Fatalf("unexpected data shape for %s: %+v", m.Name, m.Data)
			}
			queued = sum.DataPoints[0].Value
		}
	}
	if queued != 1 {
		t.Fatalf("expected outbound.queued=1, got %d", queued)
	}
}

func TestResyncTaskEnqueuesCard(t *testing.T) {
	_, _, notifier := notifierFixture(t)

	m, err := notifier.ResyncTask(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Payload.Card == nil {
		t.Fatal("expected a card payload")
	}
	if m.Payload.Card.Title != "Task: Ship it" {
		t.Fatalf("unexpected card title: %q", m.Payload.Card.Title)
	}
}
