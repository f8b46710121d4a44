// Package notify defines the delivery capability used by the dispatch
// engine and the shared delivery error taxonomy.
package notify

import (
	"context"
	"fmt"

	"github.com/hookline/hookline/internal/domain"
)

// Message is a rendered notification ready for delivery. To is the
// destination target (webhook URL or chat id, depending on sender type).
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier performs the actual delivery of a message to a destination.
// Implementations are supplied per destination type; the engine treats
// Send as an opaque capability and never constructs transport payloads.
type Notifier interface {
	Type() domain.DestinationType
	Send(ctx context.Context, msg Message) error
}

// TransientError is a delivery failure worth retrying: network errors,
// timeouts, 5xx and 429 responses.
type TransientError struct {
	Code    int
	Message string
}

func (e *TransientError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("transient delivery error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("transient delivery error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *TransientError) IsRetryable() bool { return true }

// PermanentError is a delivery failure that retrying cannot fix: 4xx
// responses (except 429) and payload rejections.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("permanent delivery error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("permanent delivery error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }
