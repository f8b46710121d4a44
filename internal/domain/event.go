// Package domain contains core types shared across the application.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a single notice about an interesting HTTP exchange, produced by
// the embedding application (e.g. a traffic interceptor). The dispatch
// engine reads it and never mutates it.
type Event struct {
	ID         string            `json:"id"`
	Method     string            `json:"method"`
	TargetURI  string            `json:"target_uri"`
	StatusCode int               `json:"status_code"`
	Body       string            `json:"body,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewEvent creates an Event with a fresh ID and creation timestamp.
func NewEvent(method, targetURI string, statusCode int) Event {
	return Event{
		ID:         uuid.NewString(),
		Method:     method,
		TargetURI:  targetURI,
		StatusCode: statusCode,
		CreatedAt:  time.Now(),
	}
}

// Signature identifies the logical event for dedup purposes: two events
// with the same method and URI are the same notice regardless of timing.
func (e Event) Signature() string {
	return fmt.Sprintf("%s %s", e.Method, e.TargetURI)
}
