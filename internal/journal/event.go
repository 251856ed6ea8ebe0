// internal/journal/event.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Event is one entry of an aggregate's append-only stream. Aggregates are
// keyed by string so item keys can be used directly.
type Event struct {
	ID            int64               `json:"id" db:"id"`
	AggregateID   string              `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string              `json:"aggregate_type" db:"aggregate_type"`
	EventType     string              `json:"event_type" db:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data" db:"event_data"`
	Metadata      map[string]string   `json:"metadata,omitempty" db:"-"`
	Version       int                 `json:"version" db:"version"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// NewEvent encodes payload as the event data.
func NewEvent(eventType string, payload any, metadata map[string]string) (Event, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: data, Metadata: metadata}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if err := codec.Unmarshal(e.EventData, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Store is an append-only event log with optimistic concurrency per
// aggregate. Append returns the stored events with their ids and versions.
type Store interface {
	Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) ([]Event, error)
	Load(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error)
	CurrentVersion(ctx context.Context, aggregateID string) (int, error)
	Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error)
}
