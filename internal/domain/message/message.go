// Package message defines outbound chat message payloads and the
// formatter that turns task field changes into them.
package message

import "time"

// Status represents the delivery state of an outbound message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Payload is the body posted into a chat thread: plain text, or a
// structured card for full-state pushes.
type Payload struct {
	Text string `json:"text,omitempty"`
	Card *Card  `json:"card,omitempty"`
}

// Card is a minimal structured card: a header plus labeled rows.
type Card struct {
	Title   string     `json:"title"`
	Widgets []KeyValue `json:"widgets"`
}

// KeyValue is one labeled row of a card.
type KeyValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Outbound is an in-flight message owned by the dispatcher. Rows exist
// only while pending or awaiting retry; sent and terminally failed rows
// are kept for operator visibility.
type Outbound struct {
	ID            string    `json:"id"`
	ThreadKey     string    `json:"thread_key"`
	Payload       Payload   `json:"payload"`
	AttemptCount  int       `json:"attempt_count"`
	Status        Status    `json:"status"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
