// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by chatbridge.
const (
	// SubjectEventReceived carries raw provider events from the pull
	// transport into the ingestion ledger. Delivery is at-least-once;
	// the ledger's dedup key absorbs duplicates.
	SubjectEventReceived = "chat.events.received"

	// SubjectOutboundQueued signals that an outbound message was
	// enqueued, waking the dispatcher without waiting for the sweep.
	SubjectOutboundQueued = "chat.outbound.queued"

	// SubjectEventClaimable signals newly ingested ledger entries so
	// idle workers can claim without polling.
	SubjectEventClaimable = "chat.events.claimable"
)
