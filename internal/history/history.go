package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of restart event.
type EventType string

const (
	EventRestartSucceeded EventType = "restart_succeeded"
	EventRestartFailed    EventType = "restart_failed"
	// EventGivenUp is emitted once, when a process exhausts its restart budget.
	EventGivenUp EventType = "given_up"
)

// Event is a restart-related occurrence exported to external systems.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ProcessID   string    `json:"process_id"`
	ProcessType string    `json:"process_type"`
	State       string    `json:"state"`
	OldPID      int       `json:"old_pid"`
	NewPID      int       `json:"new_pid"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent fills in the id and timestamp.
func NewEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: now.UTC()}
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultRecentLimit bounds Recent when the caller passes no limit.
const DefaultRecentLimit = 50

// Reader is implemented by sinks that can be queried back.
type Reader interface {
	Recent(ctx context.Context, processID string, limit int) ([]Event, error)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reader returns the first sink that can be queried, or nil.
func (m Multi) Reader() Reader {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r
		}
	}
	return nil
}

// Close closes every sink that supports it.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Nullable returns nil for an empty string so SQL stores NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
