package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/message"
)

const outboundColumns = `id, thread_key, payload, attempt_count, status,
	last_error, next_attempt_at, created_at, updated_at`

func scanOutbound(row scannable) (message.Outbound, error) {
	var m message.Outbound
	var payload []byte
	err := row.Scan(&m.ID, &m.ThreadKey, &payload, &m.AttemptCount, &m.Status,
		&m.LastError, &m.NextAttemptAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return m, fmt.Errorf("unmarshal payload: %w", err)
	}
	return m, nil
}

func (s *Store) EnqueueOutbound(ctx context.Context, m *message.Outbound) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO outbound_messages (id, thread_key, payload)
		 VALUES ($1, $2, $3)
		 RETURNING `+outboundColumns,
		m.ID, m.ThreadKey, payload)

	stored, err := scanOutbound(row)
	if err != nil {
		return fmt.Errorf("enqueue outbound: %w", err)
	}
	*m = stored
	return nil
}

// ClaimDueOutbound returns pending messages whose next attempt time has
// elapsed. The claim pushes next_attempt_at forward by lease inside the
// same statement, so a concurrent sweep cannot pick the same rows.
func (s *Store) ClaimDueOutbound(ctx context.Context, batch int, lease time.Duration) ([]message.Outbound, error) {
	leaseUntil := time.Now().Add(lease)
	rows, err := s.pool.Query(ctx,
		`WITH picked AS (
			SELECT id FROM outbound_messages
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 UPDATE outbound_messages m
		 SET next_attempt_at = $2, updated_at = now()
		 FROM picked WHERE m.id = picked.id
		 RETURNING m.id, m.thread_key, m.payload, m.attempt_count, m.status,
			m.last_error, m.next_attempt_at, m.created_at, m.updated_at`,
		batch, leaseUntil)
	if err != nil {
		return nil, fmt.Errorf("claim outbound: %w", err)
	}
	defer rows.Close()

	var msgs []message.Outbound
	for rows.Next() {
		m, err := scanOutbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed outbound: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) MarkOutboundSent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbound_messages
		 SET status = 'sent', attempt_count = attempt_count + 1,
		     last_error = '', updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("mark outbound %s sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark outbound %s sent: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) MarkOutboundRetry(ctx context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbound_messages
		 SET attempt_count = attempt_count + 1, last_error = $2,
		     next_attempt_at = $3, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("mark outbound %s retry: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark outbound %s retry: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) MarkOutboundFailed(ctx context.Context, id string, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbound_messages
		 SET status = 'failed', attempt_count = attempt_count + 1,
		     last_error = $2, updated_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		id, lastError)
	if err != nil {
		return fmt.Errorf("mark outbound %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark outbound %s failed: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) GetOutbound(ctx context.Context, id string) (*message.Outbound, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+outboundColumns+` FROM outbound_messages WHERE id = $1`, id)

	m, err := scanOutbound(row)
	if err != nil {
		return nil, notFoundWrap(err, "get outbound %s", id)
	}
	return &m, nil
}

func (s *Store) ListOutbound(ctx context.Context, status message.Status, limit int) ([]message.Outbound, error) {
	query := `SELECT ` + outboundColumns + ` FROM outbound_messages`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbound: %w", err)
	}
	defer rows.Close()

	var msgs []message.Outbound
	for rows.Next() {
		m, err := scanOutbound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbound: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ResetOutbound re-queues a terminally failed message with a fresh
// attempt budget (the manual retry operation).
func (s *Store) ResetOutbound(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbound_messages
		 SET status = 'pending', attempt_count = 0, next_attempt_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("reset outbound %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetOutbound(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("reset outbound %s: not in failed state: %w", id, domain.ErrConflict)
	}
	return nil
}
