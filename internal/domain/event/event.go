// Package event defines the inbound event ledger entry and its
// processing state machine.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind classifies an inbound chat event. The set is closed: anything
// the parser does not recognize becomes KindUnknown, which is handled
// as a deliberate no-op so new provider event types never block the
// queue.
type Kind string

const (
	KindMessageAdded Kind = "message_added"
	KindMemberJoined Kind = "member_joined"
	KindMemberLeft   Kind = "member_left"
	KindSpaceRenamed Kind = "space_renamed"
	KindUnknown      Kind = "unknown"
)

// ParseKind maps a provider event type string onto the closed Kind set.
func ParseKind(providerType string) Kind {
	switch providerType {
	case "MESSAGE_CREATED", "MESSAGE_UPDATED":
		return KindMessageAdded
	case "MEMBER_ADDED":
		return KindMemberJoined
	case "MEMBER_REMOVED":
		return KindMemberLeft
	case "SPACE_UPDATED":
		return KindSpaceRenamed
	default:
		return KindUnknown
	}
}

// Status is the ledger processing state of an inbound event.
//
//	new -> processing -> processed | failed
//	failed -> processing (retry, bounded) -> ... -> discarded
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusDiscarded  Status = "discarded"
)

// DiscardOrphan is the recorded reason when an event references a
// thread or space with no local mapping. Expected for threads created
// outside the synced scope; not a fault.
const DiscardOrphan = "OrphanEvent"

// InboundEvent is one durably recorded chat event. Rows are never
// deleted; terminal entries remain queryable as an audit trail.
type InboundEvent struct {
	ID              int64           `json:"id"`
	ProviderEventID string          `json:"provider_event_id"`
	Kind            Kind            `json:"kind"`
	RawPayload      json.RawMessage `json:"raw_payload"`
	Status          Status          `json:"status"`
	AttemptCount    int             `json:"attempt_count"`
	LastError       string          `json:"last_error,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
}

// Payload is the decoded shape of RawPayload, the minimal event body
// the engine consumes from the provider.
type Payload struct {
	EventType string    `json:"eventType"`
	EventTime time.Time `json:"eventTime"`
	Space     Space     `json:"space"`
	Thread    Thread    `json:"thread"`
	Message   Message   `json:"message"`
	Member    Member    `json:"member"`
	User      User      `json:"user"`
}

// Space identifies the chat space an event belongs to.
type Space struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// Thread identifies the chat thread an event belongs to.
type Thread struct {
	Name string `json:"name"`
}

// Message carries the text body of a message event.
type Message struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text,omitempty"`
}

// Member carries membership event details.
type Member struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// User identifies the acting user of an event.
type User struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ThreadKey extracts the bare thread key from the payload's thread
// resource name ("spaces/X/threads/<key>" or a bare key).
func (p *Payload) ThreadKey() string {
	name := p.Thread.Name
	if name == "" {
		return ""
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
