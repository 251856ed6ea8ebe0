// internal/journal/memory.go
package journal

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MemoryStore keeps the whole log in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	events   []Event
	versions map[string]int
	tracer   trace.Tracer
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string]int),
		tracer:   otel.Tracer("lending/journal"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []Event) ([]Event, error) {
	_, span := s.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return nil, ErrInvalidVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.versions[aggregateID]; current != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", current),
			attribute.Bool("conflict.detected", true),
		)
		return nil, ErrConcurrencyConflict
	}

	stored := make([]Event, 0, len(events))
	for i, event := range events {
		event.ID = int64(len(s.events) + 1)
		event.AggregateID = aggregateID
		event.AggregateType = aggregateType
		event.Version = expectedVersion + i + 1
		if event.CreatedAt.IsZero() {
			event.CreatedAt = s.now()
		}
		s.events = append(s.events, event)
		stored = append(stored, event)
	}
	s.versions[aggregateID] = expectedVersion + len(events)

	span.SetAttributes(attribute.Bool("append.success", true))
	return stored, nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]Event, error) {
	_, span := s.tracer.Start(ctx, "journal.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID)),
	)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, event := range s.events {
		if event.AggregateID != aggregateID || event.Version < fromVersion {
			continue
		}
		if toVersion > 0 && event.Version > toVersion {
			continue
		}
		out = append(out, event)
	}
	span.SetAttributes(attribute.Int("events.loaded", len(out)))
	return out, nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, aggregateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[aggregateID], nil
}

// Stream returns up to batchSize events with an id greater than fromID.
func (s *MemoryStore) Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	_, span := s.tracer.Start(ctx, "journal.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// ids are 1-based positions in s.events
	if fromID < 0 {
		fromID = 0
	}
	if fromID >= int64(len(s.events)) {
		return nil, nil
	}
	end := int64(len(s.events))
	if batchSize > 0 && fromID+int64(batchSize) < end {
		end = fromID + int64(batchSize)
	}
	out := make([]Event, end-fromID)
	copy(out, s.events[fromID:end])
	span.SetAttributes(attribute.Int("events.streamed", len(out)))
	return out, nil
}
