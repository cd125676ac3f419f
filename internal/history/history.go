package history

import (
	"context"
	"io"
	"time"
)

// EventType defines the kind of registry lifecycle event.
type EventType string

const (
	EventStarted EventType = "started" // spawn accepted by the OS
	EventStopped EventType = "stopped" // explicit stop issued
	EventExited  EventType = "exited"  // termination observed from the process
)

// Event is one registry lifecycle transition exported for audit.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Port       uint16    `json:"port"`
	ExitCode   int       `json:"exit_code"` // meaningful for exited events
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Close shuts a sink down when it holds resources.
func Close(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
