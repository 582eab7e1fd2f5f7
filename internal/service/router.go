package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/domain/task"
	"github.com/syncforge/chatbridge/internal/port/database"
)

// discardError marks an event as terminally unprocessable. The worker
// records the reason and never retries.
type discardError struct {
	reason string
}

func (e *discardError) Error() string { return e.reason }

// discardf builds a discardError with a formatted reason.
func discardf(format string, args ...any) error {
	return &discardError{reason: fmt.Sprintf(format, args...)}
}

// orphan is the discard for events referencing chat entities outside
// the synced scope.
func orphan() error {
	return &discardError{reason: event.DiscardOrphan}
}

// RouterService applies one claimed ledger entry to task-domain state.
// Every handler is idempotent: reapplying an event that was already
// applied, in whole or in part, converges on the same state. That lets
// the worker retry after a mid-apply crash without compensation logic.
type RouterService struct {
	store  database.Store
	mapper *MapperService
	log    *slog.Logger
}

// NewRouterService creates a new RouterService.
func NewRouterService(store database.Store, mapper *MapperService, log *slog.Logger) *RouterService {
	return &RouterService{store: store, mapper: mapper, log: log.With("component", "router")}
}

// Process applies one event. A nil return means processed; a
// discardError means terminally unprocessable; any other error is
// retryable.
func (s *RouterService) Process(ctx context.Context, ev event.InboundEvent) error {
	var p event.Payload
	if err := json.Unmarshal(ev.RawPayload, &p); err != nil {
		return discardf("undecodable payload: %v", err)
	}

	when := p.EventTime
	if when.IsZero() {
		when = ev.ReceivedAt
	}

	switch ev.Kind {
	case event.KindMessageAdded:
		return s.applyMessage(ctx, ev, &p, when)
	case event.KindMemberJoined:
		return s.applyMemberJoined(ctx, &p, when)
	case event.KindMemberLeft:
		return s.applyMemberLeft(ctx, &p, when)
	case event.KindSpaceRenamed:
		return s.applyRename(ctx, &p, when)
	case event.KindUnknown:
		// Unrecognized provider event types complete without effect so
		// they never block the queue.
		s.log.Debug("unknown event kind, no-op", "provider_event_id", ev.ProviderEventID)
		return nil
	default:
		return discardf("unhandled kind %q", ev.Kind)
	}
}

// applyMessage mirrors a chat message into the task's activity log.
func (s *RouterService) applyMessage(ctx context.Context, ev event.InboundEvent, p *event.Payload, when time.Time) error {
	threadKey := p.ThreadKey()
	if threadKey == "" {
		return orphan()
	}

	taskID, ok := mapping.TaskIDForThreadKey(threadKey)
	if !ok {
		return orphan()
	}

	t, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return orphan()
	}
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}

	sm, err := s.linkedSpace(ctx, p.Space.Name)
	if err != nil {
		return err
	}
	if sm.ProjectID != t.ProjectID {
		// Thread key collides with a task from a different project.
		return orphan()
	}

	if p.Message.Text == "" {
		return nil
	}

	// Recreate the mapping if only the chat side knew this thread so
	// far. Insert-or-ignore keyed on task id.
	if _, err := s.store.EnsureThreadMapping(ctx, mapping.ThreadMapping{
		TaskID:    taskID,
		ThreadKey: threadKey,
		SpaceID:   sm.SpaceID,
	}); err != nil {
		return fmt.Errorf("ensure thread mapping: %w", err)
	}

	author := p.User.DisplayName
	if author == "" {
		author = p.User.Email
	}

	inserted, err := s.store.AddTaskComment(ctx, task.Comment{
		TaskID:          taskID,
		ProviderEventID: ev.ProviderEventID,
		Author:          author,
		Body:            p.Message.Text,
		PostedAt:        when,
	})
	if err != nil {
		return fmt.Errorf("mirror comment: %w", err)
	}
	if !inserted {
		s.log.Debug("comment already mirrored", "provider_event_id", ev.ProviderEventID, "task_id", taskID)
	}
	return nil
}

func (s *RouterService) applyMemberJoined(ctx context.Context, p *event.Payload, when time.Time) error {
	sm, err := s.linkedSpace(ctx, p.Space.Name)
	if err != nil {
		return err
	}
	if p.Member.Name == "" {
		return discardf("member event without member id")
	}

	return s.store.UpsertMember(ctx, member.Record{
		SpaceID:          sm.SpaceID,
		ExternalMemberID: p.Member.Name,
		Email:            p.Member.Email,
		DisplayName:      p.Member.DisplayName,
		Role:             p.Member.Role,
		State:            member.StateActive,
		LastSync:         when,
	})
}

func (s *RouterService) applyMemberLeft(ctx context.Context, p *event.Payload, when time.Time) error {
	sm, err := s.linkedSpace(ctx, p.Space.Name)
	if err != nil {
		return err
	}
	if p.Member.Name == "" {
		return discardf("member event without member id")
	}

	// A member we never cached, or an already applied removal, updates
	// zero rows and that is fine.
	return s.store.MarkMemberRemoved(ctx, sm.SpaceID, p.Member.Name, when)
}

// applyRename records a space display-name change. The store applies it
// last-write-wins by event time, so out-of-order rename events settle
// on the newest name regardless of arrival order.
func (s *RouterService) applyRename(ctx context.Context, p *event.Payload, when time.Time) error {
	sm, err := s.linkedSpace(ctx, p.Space.Name)
	if err != nil {
		return err
	}
	if p.Space.DisplayName == "" {
		return nil
	}

	return s.store.RenameSpace(ctx, sm.SpaceID, p.Space.DisplayName, when)
}

// linkedSpace resolves the event's space to a linked mapping, turning
// unlinked spaces into orphan discards.
func (s *RouterService) linkedSpace(ctx context.Context, spaceName string) (*mapping.SpaceMapping, error) {
	if spaceName == "" {
		return nil, orphan()
	}
	sm, err := s.mapper.ResolveSpaceByID(ctx, spaceName)
	if errors.Is(err, domain.ErrNotLinked) {
		return nil, orphan()
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}
