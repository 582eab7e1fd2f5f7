// Package chatapi defines the chat provider client port (interface).
// The engine treats the provider as a black box classified only by
// success, transient failure, or terminal failure.
package chatapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/syncforge/chatbridge/internal/domain/member"
	"github.com/syncforge/chatbridge/internal/domain/message"
)

// Client is the port interface for outbound chat provider calls.
type Client interface {
	// PostMessage posts payload into the thread identified by threadKey
	// within spaceID and returns the provider-assigned message id.
	PostMessage(ctx context.Context, spaceID, threadKey string, payload message.Payload) (string, error)

	// ListMembers returns the current membership of a space.
	ListMembers(ctx context.Context, spaceID string) ([]member.Record, error)
}

// Error is a classified chat API failure. Retryable failures (network,
// timeout, 5xx) are eligible for backed-off retry; the rest (4xx,
// validation) are terminal and never retried automatically.
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("chat api %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chat api: %s", e.Message)
}

// IsTransient reports whether err is a retryable chat API failure.
// Unclassified errors are treated as transient: the retry bound caps
// the damage of misclassifying, while dropping a deliverable message
// cannot be undone.
func IsTransient(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return true
}
