package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/syncforge/chatbridge/internal/domain/member"
)

func (s *Store) UpsertMember(ctx context.Context, rec member.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO space_members (space_id, external_member_id, email, display_name, role, state, last_sync)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (space_id, external_member_id) DO UPDATE
		 SET email = EXCLUDED.email, display_name = EXCLUDED.display_name,
		     role = EXCLUDED.role, state = EXCLUDED.state, last_sync = EXCLUDED.last_sync`,
		rec.SpaceID, rec.ExternalMemberID, rec.Email, rec.DisplayName, rec.Role, rec.State, rec.LastSync)
	if err != nil {
		return fmt.Errorf("upsert member %s in %s: %w", rec.ExternalMemberID, rec.SpaceID, err)
	}
	return nil
}

// MarkMemberRemoved flags a cached member as gone without deleting the
// row; membership history stays visible to operators.
func (s *Store) MarkMemberRemoved(ctx context.Context, spaceID, externalMemberID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE space_members SET state = 'removed', last_sync = $3
		 WHERE space_id = $1 AND external_member_id = $2`,
		spaceID, externalMemberID, at)
	if err != nil {
		return fmt.Errorf("mark member %s removed: %w", externalMemberID, err)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, spaceID string) ([]member.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, space_id, external_member_id, email, display_name, role, state, last_sync
		 FROM space_members WHERE space_id = $1 ORDER BY display_name, external_member_id`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []member.Record
	for rows.Next() {
		var m member.Record
		err := rows.Scan(&m.ID, &m.SpaceID, &m.ExternalMemberID, &m.Email,
			&m.DisplayName, &m.Role, &m.State, &m.LastSync)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
