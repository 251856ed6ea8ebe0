// internal/notify/event.go
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names a notification emitted by the lending core.
type Kind string

const (
	ReservationAvailable Kind = "reservation_available"
	ReservationExpired   Kind = "reservation_expired"
	DueDateApproaching   Kind = "due_date_approaching"
)

// Event is a single notification. Due carries the hold expiry for
// reservation_available and the loan due time for due_date_approaching.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	User       string    `json:"user"`
	Item       string    `json:"item"`
	Due        time.Time `json:"due,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps an event with a fresh id.
func NewEvent(kind Kind, user, item string, due, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		User:       user,
		Item:       item,
		Due:        due,
		OccurredAt: now,
	}
}

// Notifier is the outbound port of the lending core. Notify must not block
// the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Sink performs the actual delivery of an event.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Deliver(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
