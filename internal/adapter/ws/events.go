package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventInboundStatus  = "event.status"
	EventOutboundStatus = "outbound.status"
	EventSpaceLinked    = "space.linked"
)

// InboundStatusEvent is broadcast when a ledger entry changes state.
type InboundStatusEvent struct {
	EventID         int64  `json:"event_id"`
	ProviderEventID string `json:"provider_event_id"`
	Kind            string `json:"kind"`
	Status          string `json:"status"`
	AttemptCount    int    `json:"attempt_count"`
	LastError       string `json:"last_error,omitempty"`
}

// OutboundStatusEvent is broadcast when an outbound message changes state.
type OutboundStatusEvent struct {
	MessageID    string `json:"message_id"`
	ThreadKey    string `json:"thread_key"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error,omitempty"`
}

// SpaceLinkedEvent is broadcast when a project is linked to or unlinked
// from a space.
type SpaceLinkedEvent struct {
	ProjectID int64  `json:"project_id"`
	SpaceID   string `json:"space_id"`
	Linked    bool   `json:"linked"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
