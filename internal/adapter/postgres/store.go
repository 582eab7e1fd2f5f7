package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncforge/chatbridge/internal/domain"
	"github.com/syncforge/chatbridge/internal/domain/mapping"
	"github.com/syncforge/chatbridge/internal/domain/project"
	"github.com/syncforge/chatbridge/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects & tasks ---

func (s *Store) GetProject(ctx context.Context, id int64) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, name, created_at, updated_at
		 FROM projects WHERE id = $1`, id)

	var p project.Project
	if err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "get project %d", id)
	}
	return &p, nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, name, assignee, stage, priority, deadline, description, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)

	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Assignee, &t.Stage, &t.Priority,
		&t.Deadline, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get task %d", id)
	}
	return &t, nil
}

func (s *Store) AddTaskComment(ctx context.Context, c task.Comment) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO task_comments (task_id, provider_event_id, author, body, posted_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		c.TaskID, c.ProviderEventID, c.Author, c.Body, c.PostedAt)
	if err != nil {
		return false, fmt.Errorf("add task comment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListTaskComments(ctx context.Context, taskID int64) ([]task.Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, provider_event_id, author, body, posted_at
		 FROM task_comments WHERE task_id = $1 ORDER BY posted_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task comments: %w", err)
	}
	defer rows.Close()

	var comments []task.Comment
	for rows.Next() {
		var c task.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.ProviderEventID, &c.Author, &c.Body, &c.PostedAt); err != nil {
			return nil, fmt.Errorf("scan task comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- Space mappings ---

func scanSpaceMapping(row scannable) (mapping.SpaceMapping, error) {
	var m mapping.SpaceMapping
	var renamedAt *time.Time
	err := row.Scan(&m.ProjectID, &m.SpaceID, &m.CompanyID, &m.DisplayName, &renamedAt, &m.LinkedAt)
	return m, err
}

func (s *Store) LinkSpace(ctx context.Context, projectID int64, spaceID string, companyID int64) (*mapping.SpaceMapping, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO space_mappings (project_id, space_id, company_id)
		 VALUES ($1, $2, $3)
		 RETURNING project_id, space_id, company_id, display_name, renamed_at, linked_at`,
		projectID, spaceID, companyID)

	m, err := scanSpaceMapping(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("link project %d to space %s: %w", projectID, spaceID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("link space: %w", err)
	}
	return &m, nil
}

func (s *Store) UnlinkSpace(ctx context.Context, projectID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM space_mappings WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("unlink project %d: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unlink project %d: %w", projectID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetSpaceMapping(ctx context.Context, projectID int64) (*mapping.SpaceMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT project_id, space_id, company_id, display_name, renamed_at, linked_at
		 FROM space_mappings WHERE project_id = $1`, projectID)

	m, err := scanSpaceMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "space mapping for project %d", projectID)
	}
	return &m, nil
}

func (s *Store) GetSpaceMappingBySpace(ctx context.Context, spaceID string) (*mapping.SpaceMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT project_id, space_id, company_id, display_name, renamed_at, linked_at
		 FROM space_mappings WHERE space_id = $1`, spaceID)

	m, err := scanSpaceMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "space mapping for space %s", spaceID)
	}
	return &m, nil
}

// RenameSpace applies a display-name change only when the event is newer
// than the last applied rename (last-write-wins by event timestamp, so
// out-of-order delivery cannot resurrect a stale name).
func (s *Store) RenameSpace(ctx context.Context, spaceID, displayName string, eventTime time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE space_mappings SET display_name = $2, renamed_at = $3
		 WHERE space_id = $1 AND (renamed_at IS NULL OR renamed_at < $3)`,
		spaceID, displayName, eventTime)
	if err != nil {
		return fmt.Errorf("rename space %s: %w", spaceID, err)
	}
	return nil
}

// --- Thread mappings ---

func scanThreadMapping(row scannable) (mapping.ThreadMapping, error) {
	var m mapping.ThreadMapping
	err := row.Scan(&m.TaskID, &m.ThreadKey, &m.SpaceID, &m.CreatedAt)
	return m, err
}

func (s *Store) GetThreadMapping(ctx context.Context, taskID int64) (*mapping.ThreadMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, thread_key, space_id, created_at
		 FROM thread_mappings WHERE task_id = $1`, taskID)

	m, err := scanThreadMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "thread mapping for task %d", taskID)
	}
	return &m, nil
}

func (s *Store) GetThreadMappingByKey(ctx context.Context, threadKey string) (*mapping.ThreadMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, thread_key, space_id, created_at
		 FROM thread_mappings WHERE thread_key = $1`, threadKey)

	m, err := scanThreadMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "thread mapping for key %s", threadKey)
	}
	return &m, nil
}

// EnsureThreadMapping inserts the mapping unless the task already has
// one, then returns the stored row. Concurrent callers race on the
// task_id unique constraint; the loser reads the winner's row, so both
// observe the same thread key.
func (s *Store) EnsureThreadMapping(ctx context.Context, m mapping.ThreadMapping) (*mapping.ThreadMapping, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO thread_mappings (task_id, thread_key, space_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (task_id) DO NOTHING`,
		m.TaskID, m.ThreadKey, m.SpaceID)
	if err != nil {
		return nil, fmt.Errorf("ensure thread mapping for task %d: %w", m.TaskID, err)
	}
	return s.GetThreadMapping(ctx, m.TaskID)
}
