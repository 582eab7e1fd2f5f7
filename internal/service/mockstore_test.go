package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/domain/project"
	"github.com/syncforge/chatbridge/internal/domain/task"
	"github.com/syncforge/chatbridge/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for testing. It mirrors the
// postgres store's conditional-update semantics: insert-or-ignore on
// dedup keys and compare-and-set on status transitions.
type mockStore struct {
	mu sync.Mutex

	projects  map[int64]project.Project
	tasks     map[int64]task.Task
	comments  []task.Comment
	spaces    map[int64]*mapping.SpaceMapping
	threads   map[int64]*mapping.ThreadMapping
	events    map[int64]*event.InboundEvent
	outbound  map[string]*message.Outbound
	members   map[string]map[string]*member.Record
	renamedAt map[string]time.Time

	nextEventID int64

	// Error hooks. Set these to inject failures.
	getTaskErr     error
	upsertErr      error
	addCommentErr  error
	renameErr      error
	postMarkFailed []string // ids passed to MarkOutboundFailed
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:  make(map[int64]project.Project),
		tasks:     make(map[int64]task.Task),
		spaces:    make(map[int64]*mapping.SpaceMapping),
		threads:   make(map[int64]*mapping.ThreadMapping),
		events:    make(map[int64]*event.InboundEvent),
		outbound:  make(map[string]*message.Outbound),
		members:   make(map[string]map[string]*member.Record),
		renamedAt: make(map[string]time.Time),
	}
}

// --- Task domain ---

func (m *mockStore) GetProject(_ context.Context, id int64) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockStore) GetTask(_ context.Context, id int64) (*task.Task, error) {
	if m.getTaskErr != nil {
		return nil, m.getTaskErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (m *mockStore) AddTaskComment(_ context.Context, c task.Comment) (bool, error) {
	if m.addCommentErr != nil {
		return false, m.addCommentErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.comments {
		if existing.ProviderEventID == c.ProviderEventID {
			return false, nil
		}
	}
	c.ID = int64(len(m.comments) + 1)
	m.comments = append(m.comments, c)
	return true, nil
}

func (m *mockStore) ListTaskComments(_ context.Context, taskID int64) ([]task.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Comment
	for _, c := range m.comments {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Space mappings ---

func (m *mockStore) LinkSpace(_ context.Context, projectID int64, spaceID string, companyID int64) (*mapping.SpaceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[projectID]; ok {
		return nil, domain.ErrConflict
	}
	for _, sm := range m.spaces {
		if sm.SpaceID == spaceID {
			return nil, domain.ErrConflict
		}
	}
	sm := &mapping.SpaceMapping{
		ProjectID: projectID,
		SpaceID:   spaceID,
		CompanyID: companyID,
		LinkedAt:  time.Now(),
	}
	m.spaces[projectID] = sm
	return sm, nil
}

func (m *mockStore) UnlinkSpace(_ context.Context, projectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.spaces[projectID]; !ok {
		return domain.ErrNotFound
	}
	delete(m.spaces, projectID)
	return nil
}

func (m *mockStore) GetSpaceMapping(_ context.Context, projectID int64) (*mapping.SpaceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.spaces[projectID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sm
	return &cp, nil
}

func (m *mockStore) GetSpaceMappingBySpace(_ context.Context, spaceID string) (*mapping.SpaceMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sm := range m.spaces {
		if sm.SpaceID == spaceID {
			cp := *sm
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) RenameSpace(_ context.Context, spaceID, displayName string, eventTime time.Time) error {
	if m.renameErr != nil {
		return m.renameErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sm := range m.spaces {
		if sm.SpaceID == spaceID && eventTime.After(m.renamedAt[spaceID]) {
			sm.DisplayName = displayName
			m.renamedAt[spaceID] = eventTime
		}
	}
	return nil
}

// --- Thread mappings ---

func (m *mockStore) GetThreadMapping(_ context.Context, taskID int64) (*mapping.ThreadMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tm, ok := m.threads[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *tm
	return &cp, nil
}

func (m *mockStore) GetThreadMappingByKey(_ context.Context, threadKey string) (*mapping.ThreadMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tm := range m.threads {
		if tm.ThreadKey == threadKey {
			cp := *tm
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) EnsureThreadMapping(_ context.Context, tm mapping.ThreadMapping) (*mapping.ThreadMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.threads[tm.TaskID]; ok {
		cp := *existing
		return &cp, nil
	}
	tm.CreatedAt = time.Now()
	m.threads[tm.TaskID] = &tm
	cp := tm
	return &cp, nil
}

// --- Event ledger ---

func (m *mockStore) IngestEvent(_ context.Context, providerEventID string, kind event.Kind, raw json.RawMessage, receivedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ProviderEventID == providerEventID {
			return false, nil
		}
	}
	m.nextEventID++
	m.events[m.nextEventID] = &event.InboundEvent{
		ID:              m.nextEventID,
		ProviderEventID: providerEventID,
		Kind:            kind,
		RawPayload:      raw,
		Status:          event.StatusNew,
		ReceivedAt:      receivedAt,
	}
	return true, nil
}

func (m *mockStore) ClaimNextEvents(_ context.Context, batch, maxAttempts int) ([]event.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []event.InboundEvent
	for id := int64(1); id <= m.nextEventID && len(out) < batch; id++ {
		ev, ok := m.events[id]
		if !ok {
			continue
		}
		eligible := ev.Status == event.StatusNew ||
			(ev.Status == event.StatusFailed && ev.AttemptCount < maxAttempts)
		if !eligible {
			continue
		}
		ev.Status = event.StatusProcessing
		ev.ClaimedAt = &now
		out = append(out, *ev)
	}
	return out, nil
}

func (m *mockStore) MarkEventProcessed(_ context.Context, id int64) error {
	return m.finishEvent(id, event.StatusProcessed, "")
}

func (m *mockStore) MarkEventFailed(_ context.Context, id int64, lastError string, _ time.Time) error {
	return m.finishEvent(id, event.StatusFailed, lastError)
}

func (m *mockStore) MarkEventDiscarded(_ context.Context, id int64, reason string) error {
	return m.finishEvent(id, event.StatusDiscarded, reason)
}

func (m *mockStore) finishEvent(id int64, status event.Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if ev.Status != event.StatusProcessing {
		return domain.ErrConflict
	}
	now := time.Now()
	ev.Status = status
	ev.AttemptCount++
	ev.LastError = lastError
	ev.ProcessedAt = &now
	return nil
}

func (m *mockStore) ReclaimStuckEvents(_ context.Context, lease time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-lease)
	var n int64
	for _, ev := range m.events {
		if ev.Status == event.StatusProcessing && ev.ClaimedAt != nil && ev.ClaimedAt.Before(cutoff) {
			ev.Status = event.StatusNew
			ev.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *mockStore) GetEvent(_ context.Context, id int64) (*event.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (m *mockStore) ListEvents(_ context.Context, status event.Status, limit int) ([]event.InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.InboundEvent
	for id := int64(1); id <= m.nextEventID && len(out) < limit; id++ {
		ev, ok := m.events[id]
		if !ok {
			continue
		}
		if status == "" || ev.Status == status {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *mockStore) ResetEvent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if ev.Status != event.StatusFailed && ev.Status != event.StatusDiscarded {
		return domain.ErrConflict
	}
	ev.Status = event.StatusNew
	ev.AttemptCount = 0
	ev.LastError = ""
	return nil
}

// --- Outbound messages ---

func (m *mockStore) EnqueueOutbound(_ context.Context, msg *message.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	msg.Status = message.StatusPending
	msg.CreatedAt = now
	msg.UpdatedAt = now
	cp := *msg
	m.outbound[msg.ID] = &cp
	return nil
}

func (m *mockStore) ClaimDueOutbound(_ context.Context, batch int, lease time.Duration) ([]message.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []message.Outbound
	for _, msg := range m.outbound {
		if len(out) >= batch {
			break
		}
		if msg.Status == message.StatusPending && !msg.NextAttemptAt.After(now) {
			msg.NextAttemptAt = now.Add(lease)
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *mockStore) MarkOutboundSent(_ context.Context, id string) error {
	return m.finishOutbound(id, message.StatusSent, "", time.Time{})
}

func (m *mockStore) MarkOutboundRetry(_ context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	return m.finishOutbound(id, message.StatusPending, lastError, nextAttemptAt)
}

func (m *mockStore) MarkOutboundFailed(_ context.Context, id string, lastError string) error {
	m.mu.Lock()
	m.postMarkFailed = append(m.postMarkFailed, id)
	m.mu.Unlock()
	return m.finishOutbound(id, message.StatusFailed, lastError, time.Time{})
}

func (m *mockStore) finishOutbound(id string, status message.Status, lastError string, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbound[id]
	if !ok {
		return domain.ErrNotFound
	}
	if msg.Status != message.StatusPending {
		return domain.ErrConflict
	}
	msg.Status = status
	msg.AttemptCount++
	msg.LastError = lastError
	if !nextAttemptAt.IsZero() {
		msg.NextAttemptAt = nextAttemptAt
	}
	msg.UpdatedAt = time.Now()
	return nil
}

func (m *mockStore) GetOutbound(_ context.Context, id string) (*message.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbound[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *mockStore) ListOutbound(_ context.Context, status message.Status, limit int) ([]message.Outbound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Outbound
	for _, msg := range m.outbound {
		if len(out) >= limit {
			break
		}
		if status == "" || msg.Status == status {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *mockStore) ResetOutbound(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.outbound[id]
	if !ok {
		return domain.ErrNotFound
	}
	if msg.Status != message.StatusFailed {
		return domain.ErrConflict
	}
	msg.Status = message.StatusPending
	msg.AttemptCount = 0
	msg.LastError = ""
	msg.NextAttemptAt = time.Now()
	return nil
}

// --- Members ---

func (m *mockStore) UpsertMember(_ context.Context, rec member.Record) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	space := m.members[rec.SpaceID]
	if space == nil {
		space = make(map[string]*member.Record)
		m.members[rec.SpaceID] = space
	}
	cp := rec
	space[rec.ExternalMemberID] = &cp
	return nil
}

func (m *mockStore) MarkMemberRemoved(_ context.Context, spaceID, externalMemberID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.members[spaceID][externalMemberID]; ok {
		rec.State = member.StateRemoved
		rec.LastSync = at
	}
	return nil
}

func (m *mockStore) ListMembers(_ context.Context, spaceID string) ([]member.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []member.Record
	for _, rec := range m.members[spaceID] {
		out = append(out, *rec)
	}
	return out, nil
}

// --- Shared test doubles ---

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []string
}

func (q *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, subject)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockCache implements cache.Cache with a plain map.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
