// Package database defines the database store port (interface).
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syncforge/chatbridge/internal/domain/event"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/domain/message"
	"github.com/syncforge/chatbridge/internal/domain/project"
	"github.com/syncforge/chatbridge/internal/domain/task"
)

// Store is the port interface for database operations. All mutations on
// shared state (mappings, ledger, outbox) are narrow operations backed
// by unique constraints and atomic conditional updates, so concurrent
// workers cannot apply the same event or allocate conflicting mappings.
type Store interface {
	// Task domain
	GetProject(ctx context.Context, id int64) (*project.Project, error)
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	// AddTaskComment inserts a mirrored chat comment keyed by
	// provider_event_id; a duplicate key is a no-op returning false.
	AddTaskComment(ctx context.Context, c task.Comment) (bool, error)
	ListTaskComments(ctx context.Context, taskID int64) ([]task.Comment, error)

	// Space mappings
	LinkSpace(ctx context.Context, projectID int64, spaceID string, companyID int64) (*mapping.SpaceMapping, error)
	UnlinkSpace(ctx context.Context, projectID int64) error
	GetSpaceMapping(ctx context.Context, projectID int64) (*mapping.SpaceMapping, error)
	GetSpaceMappingBySpace(ctx context.Context, spaceID string) (*mapping.SpaceMapping, error)
	// RenameSpace applies a display-name change last-write-wins by
	// event timestamp, not arrival order.
	RenameSpace(ctx context.Context, spaceID, displayName string, eventTime time.Time) error

	// Thread mappings
	GetThreadMapping(ctx context.Context, taskID int64) (*mapping.ThreadMapping, error)
	GetThreadMappingByKey(ctx context.Context, threadKey string) (*mapping.ThreadMapping, error)
	// EnsureThreadMapping persists the mapping if absent and returns
	// the stored row either way (insert-or-ignore on task_id).
	EnsureThreadMapping(ctx context.Context, m mapping.ThreadMapping) (*mapping.ThreadMapping, error)

	// Event ingestion ledger
	IngestEvent(ctx context.Context, providerEventID string, kind event.Kind, raw json.RawMessage, receivedAt time.Time) (bool, error)
	// ClaimNextEvents atomically moves up to batch eligible entries
	// (new, or failed below maxAttempts whose next attempt time has
	// elapsed) to processing and returns them.
	ClaimNextEvents(ctx context.Context, batch, maxAttempts int) ([]event.InboundEvent, error)
	MarkEventProcessed(ctx context.Context, id int64) error
	// MarkEventFailed increments attempt_count and schedules the next
	// attempt; the caller supplies the backoff-derived eligibility time.
	MarkEventFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	MarkEventDiscarded(ctx context.Context, id int64, reason string) error
	// ReclaimStuckEvents returns entries stuck in processing past the
	// lease to their retryable state. Reports rows reclaimed.
	ReclaimStuckEvents(ctx context.Context, lease time.Duration) (int64, error)
	GetEvent(ctx context.Context, id int64) (*event.InboundEvent, error)
	ListEvents(ctx context.Context, status event.Status, limit int) ([]event.InboundEvent, error)
	// ResetEvent returns a failed or discarded entry to new with a
	// fresh attempt budget (the manual reprocess operation).
	ResetEvent(ctx context.Context, id int64) error

	// Outbound messages
	EnqueueOutbound(ctx context.Context, m *message.Outbound) error
	// ClaimDueOutbound returns pending messages whose next attempt time
	// has elapsed, pushing next_attempt_at forward by lease so a
	// concurrent sweep cannot pick the same rows.
	ClaimDueOutbound(ctx context.Context, batch int, lease time.Duration) ([]message.Outbound, error)
	MarkOutboundSent(ctx context.Context, id string) error
	MarkOutboundRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error
	MarkOutboundFailed(ctx context.Context, id string, lastError string) error
	GetOutbound(ctx context.Context, id string) (*message.Outbound, error)
	ListOutbound(ctx context.Context, status message.Status, limit int) ([]message.Outbound, error)
	// ResetOutbound re-queues a terminally failed message.
	ResetOutbound(ctx context.Context, id string) error

	// Member cache
	UpsertMember(ctx context.Context, rec member.Record) error
	MarkMemberRemoved(ctx context.Context, spaceID, externalMemberID string, at time.Time) error
	ListMembers(ctx context.Context, spaceID string) ([]member.Record, error)
}
