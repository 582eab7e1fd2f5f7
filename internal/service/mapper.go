package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncforge/chatbridge/internal/adapter/ws"
	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/port/broadcast"
	"github.com/syncforge/chatbridge/internal/port/cache"
	"github.com/syncforge/chatbridge/internal/port/database"
)

// MapperService owns the identity mappings between task-domain and
// chat-domain entities. Lookups are read-through cached; thread
// mappings are created on first use from the deterministic key
// derivation, so both sync directions resolve the same thread without
// coordinating.
type MapperService struct {
	store    database.Store
	cache    cache.Cache
	cacheTTL time.Duration
	hub      broadcast.Broadcaster
}

// NewMapperService creates a new MapperService.
func NewMapperService(store database.Store, c cache.Cache, ttl time.Duration, hub broadcast.Broadcaster) *MapperService {
	return &MapperService{store: store, cache: c, cacheTTL: ttl, hub: hub}
}

// Link associates a project with a chat space. Returns
// domain.ErrConflict when either side is already linked within the
// company.
func (s *MapperService) Link(ctx context.Context, projectID int64, spaceID string, companyID int64) (*mapping.SpaceMapping, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("%w: space_id is required", domain.ErrValidation)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("link space: %w", err)
	}

	m, err := s.store.LinkSpace(ctx, projectID, spaceID, companyID)
	if err != nil {
		return nil, err
	}

	s.invalidateSpace(ctx, projectID, spaceID)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventSpaceLinked, ws.SpaceLinkedEvent{
			ProjectID: projectID,
			SpaceID:   spaceID,
			Linked:    true,
		})
	}
	return m, nil
}

// Unlink removes a project's space mapping. Thread mappings and the
// event ledger are left untouched so history stays auditable.
func (s *MapperService) Unlink(ctx context.Context, projectID int64) error {
	m, err := s.store.GetSpaceMapping(ctx, projectID)
	if err != nil {
		return err
	}

	if err := s.store.UnlinkSpace(ctx, projectID); err != nil {
		return err
	}

	s.invalidateSpace(ctx, projectID, m.SpaceID)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventSpaceLinked, ws.SpaceLinkedEvent{
			ProjectID: projectID,
			SpaceID:   m.SpaceID,
			Linked:    false,
		})
	}
	return nil
}

// ResolveSpace returns the space mapping for a project, or
// domain.ErrNotLinked when the project has no linked space.
func (s *MapperService) ResolveSpace(ctx context.Context, projectID int64) (*mapping.SpaceMapping, error) {
	key := spaceCacheKey(projectID)
	if m, ok := s.cachedSpace(ctx, key); ok {
		return m, nil
	}

	m, err := s.store.GetSpaceMapping(ctx, projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("project %d: %w", projectID, domain.ErrNotLinked)
		}
		return nil, err
	}

	s.cacheSpace(ctx, key, m)
	return m, nil
}

// ResolveSpaceByID returns the space mapping for a chat space id, or
// domain.ErrNotLinked when no project is linked to it.
func (s *MapperService) ResolveSpaceByID(ctx context.Context, spaceID string) (*mapping.SpaceMapping, error) {
	key := "space:by-id:" + spaceID
	if m, ok := s.cachedSpace(ctx, key); ok {
		return m, nil
	}

	m, err := s.store.GetSpaceMappingBySpace(ctx, spaceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("space %s: %w", spaceID, domain.ErrNotLinked)
		}
		return nil, err
	}

	s.cacheSpace(ctx, key, m)
	return m, nil
}

// ResolveThread returns the thread mapping for a task, creating it on
// first use. The task's project must be linked to a space.
func (s *MapperService) ResolveThread(ctx context.Context, taskID int64) (*mapping.ThreadMapping, error) {
	key := threadCacheKey(taskID)
	if data, ok, _ := s.cache.Get(ctx, key); ok {
		var m mapping.ThreadMapping
		if err := json.Unmarshal(data, &m); err == nil {
			return &m, nil
		}
	}

	m, err := s.store.GetThreadMapping(ctx, taskID)
	if err == nil {
		s.cacheThread(ctx, key, m)
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}
	sm, err := s.ResolveSpace(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}

	m, err = s.store.EnsureThreadMapping(ctx, mapping.ThreadMapping{
		TaskID:    taskID,
		ThreadKey: mapping.ThreadKeyForTask(taskID),
		SpaceID:   sm.SpaceID,
	})
	if err != nil {
		return nil, err
	}

	s.cacheThread(ctx, key, m)
	return m, nil
}

// ResolveThreadByKey returns the thread mapping for a chat thread key.
// Missing mappings surface as domain.ErrNotFound; the caller decides
// whether that makes the event an orphan.
func (s *MapperService) ResolveThreadByKey(ctx context.Context, threadKey string) (*mapping.ThreadMapping, error) {
	key := "thread:by-key:" + threadKey
	if data, ok, _ := s.cache.Get(ctx, key); ok {
		var m mapping.ThreadMapping
		if err := json.Unmarshal(data, &m); err == nil {
			return &m, nil
		}
	}

	m, err := s.store.GetThreadMappingByKey(ctx, threadKey)
	if err != nil {
		return nil, err
	}

	s.cacheThread(ctx, key, m)
	return m, nil
}

func (s *MapperService) cachedSpace(ctx context.Context, key string) (*mapping.SpaceMapping, bool) {
	data, ok, _ := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var m mapping.SpaceMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return &m, true
}

func (s *MapperService) cacheSpace(ctx context.Context, key string, m *mapping.SpaceMapping) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		slog.Debug("cache space mapping", "key", key, "error", err)
	}
}

func (s *MapperService) cacheThread(ctx context.Context, key string, m *mapping.ThreadMapping) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		slog.Debug("cache thread mapping", "key", key, "error", err)
	}
}

func (s *MapperService) invalidateSpace(ctx context.Context, projectID int64, spaceID string) {
	_ = s.cache.Delete(ctx, spaceCacheKey(projectID))
	_ = s.cache.Delete(ctx, "space:by-id:"+spaceID)
}

func spaceCacheKey(projectID int64) string {
	return fmt.Sprintf("space:by-project:%d", projectID)
}

func threadCacheKey(taskID int64) string {
	return fmt.Sprintf("thread:by-task:%d", taskID)
}
