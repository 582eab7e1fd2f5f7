// Package member defines the cached chat space member record.
package member

import "time"

// State tracks a member's presence in a space.
type State string

const (
	StateActive  State = "active"
	StateRemoved State = "removed"
)

// Record is a cached copy of a space member. The authoritative copy
// lives in the chat provider; LastSync records when this row was last
// reconciled against it.
type Record struct {
	ID               int64     `json:"id"`
	SpaceID          string    `json:"space_id"`
	ExternalMemberID string    `json:"external_member_id"`
	Email            string    `json:"email,omitempty"`
	DisplayName      string    `json:"display_name,omitempty"`
	Role             string    `json:"role"`
	State            State     `json:"state"`
	LastSync         time.Time `json:"last_sync"`
}
