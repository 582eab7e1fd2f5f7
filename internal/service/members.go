package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/port/chatapi"
	"github.com/syncforge/chatbridge/internal/port/database"
)

// MemberService reconciles the local member cache against the chat
// provider. Incremental updates flow through the inbound router; this
// service does the full sweep for a space, catching membership changes
// whose events were never delivered.
type MemberService struct {
	store database.Store
	chat  chatapi.Client
	log   *slog.Logger
}

// NewMemberService creates a new MemberService.
func NewMemberService(store database.Store, chat chatapi.Client, log *slog.Logger) *MemberService {
	return &MemberService{store: store, chat: chat, log: log.With("component", "members")}
}

// SyncSpace replaces the cached membership of a space with the
// provider's current roster. Cached members missing from the roster
// are marked removed, not deleted.
func (s *MemberService) SyncSpace(ctx context.Context, spaceID string) ([]member.Record, error) {
	roster, err := s.chat.ListMembers(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", spaceID, err)
	}

	now := time.Now()
	seen := make(map[string]bool, len(roster))
	for i := range roster {
		rec := roster[i]
		rec.SpaceID = spaceID
		rec.State = member.StateActive
		rec.LastSync = now
		if err := s.store.UpsertMember(ctx, rec); err != nil {
			return nil, fmt.Errorf("upsert member %s: %w", rec.ExternalMemberID, err)
		}
		seen[rec.ExternalMemberID] = true
	}

	cached, err := s.store.ListMembers(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	for _, rec := range cached {
		if rec.State == member.StateActive && !seen[rec.ExternalMemberID] {
			if err := s.store.MarkMemberRemoved(ctx, spaceID, rec.ExternalMemberID, now); err != nil {
				return nil, err
			}
		}
	}

	s.log.Info("space membership synced", "space_id", spaceID, "active", len(roster))
	return s.store.ListMembers(ctx, spaceID)
}

// List returns the cached membership of a space.
func (s *MemberService) List(ctx context.Context, spaceID string) ([]member.Record, error) {
	return s.store.ListMembers(ctx, spaceID)
}
