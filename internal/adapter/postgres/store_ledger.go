package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/event"
)

const eventColumns = `id, provider_event_id, kind, raw_payload, status, attempt_count,
	last_error, received_at, claimed_at, processed_at`

func scanEvent(row scannable) (event.InboundEvent, error) {
	var e event.InboundEvent
	err := row.Scan(&e.ID, &e.ProviderEventID, &e.Kind, &e.RawPayload, &e.Status,
		&e.AttemptCount, &e.LastError, &e.ReceivedAt, &e.ClaimedAt, &e.ProcessedAt)
	return e, err
}

// IngestEvent records an inbound event keyed by its provider-assigned
// id. A duplicate key is absorbed silently and reported as not
// inserted: this is how at-least-once delivery collapses to
// effectively-once storage.
func (s *Store) IngestEvent(ctx context.Context, providerEventID string, kind event.Kind, raw json.RawMessage, receivedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO inbound_events (provider_event_id, kind, raw_payload, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID, kind, raw, receivedAt)
	if err != nil {
		return false, fmt.Errorf("ingest event %s: %w", providerEventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimNextEvents atomically transitions a bounded batch of eligible
// entries to processing and returns them. FOR UPDATE SKIP LOCKED keeps
// concurrent workers from claiming the same rows.
func (s *Store) ClaimNextEvents(ctx context.Context, batch, maxAttempts int) ([]event.InboundEvent, error) {
	rows, err := s.pool.Query(ctx,
		`WITH picked AS (
			SELECT id FROM inbound_events
			WHERE next_attempt_at <= now()
			  AND (status = 'new' OR (status = 'failed' AND attempt_count < $2))
			ORDER BY received_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE inbound_events e
		 SET status = 'processing', claimed_at = now()
		 FROM picked WHERE e.id = picked.id
		 RETURNING e.id, e.provider_event_id, e.kind, e.raw_payload, e.status, e.attempt_count,
			e.last_error, e.received_at, e.claimed_at, e.processed_at`,
		batch, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var events []event.InboundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_events
		 SET status = 'processed', attempt_count = attempt_count + 1,
		     processed_at = now(), claimed_at = NULL
		 WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("mark event %d processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark event %d processed: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) MarkEventFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_events
		 SET status = 'failed', attempt_count = attempt_count + 1,
		     last_error = $2, next_attempt_at = $3, claimed_at = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("mark event %d failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark event %d failed: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) MarkEventDiscarded(ctx context.Context, id int64, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_events
		 SET status = 'discarded', attempt_count = attempt_count + 1,
		     last_error = $2, processed_at = now(), claimed_at = NULL
		 WHERE id = $1 AND status = 'processing'`,
		id, reason)
	if err != nil {
		return fmt.Errorf("mark event %d discarded: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark event %d discarded: %w", id, domain.ErrConflict)
	}
	return nil
}

// ReclaimStuckEvents returns entries whose worker died mid-processing
// to their retryable state once the claim lease has elapsed.
func (s *Store) ReclaimStuckEvents(ctx context.Context, lease time.Duration) (int64, error) {
	cutoff := time.Now().Add(-lease)
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_events
		 SET status = CASE WHEN attempt_count = 0 THEN 'new' ELSE 'failed' END,
		     claimed_at = NULL, next_attempt_at = now()
		 WHERE status = 'processing' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetEvent(ctx context.Context, id int64) (*event.InboundEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM inbound_events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get event %d", id)
	}
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context, status event.Status, limit int) ([]event.InboundEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM inbound_events`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.InboundEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ResetEvent is the manual reprocess operation: a failed or discarded
// entry goes back to new with a fresh attempt budget. The audit fields
// of prior attempts stay in last_error until the next transition.
func (s *Store) ResetEvent(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE inbound_events
		 SET status = 'new', attempt_count = 0, next_attempt_at = now(),
		     claimed_at = NULL, processed_at = NULL
		 WHERE id = $1 AND status IN ('failed', 'discarded')`, id)
	if err != nil {
		return fmt.Errorf("reset event %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetEvent(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("reset event %d: not in a resettable state: %w", id, domain.ErrConflict)
	}
	return nil
}
