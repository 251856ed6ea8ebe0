// internal/journal/replicator.go
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const DefaultBatchSize = 500

// Replicator copies events from a source store to a target store, following
// the source's id cursor. Events the target already holds are skipped, so a
// restarted replicator can begin again from zero.
type Replicator struct {
	source Store
	target Store
	batch  int
	logger *slog.Logger

	mu     sync.Mutex
	cursor int64
}

func NewReplicator(source, target Store, batchSize int, logger *slog.Logger) *Replicator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Replicator{source: source, target: target, batch: batchSize, logger: logger}
}

// Cursor returns the id of the last source event handled.
func (r *Replicator) Cursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Sync drains the source from the cursor and returns how many events were
// written to the target.
func (r *Replicator) Sync(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := 0
	for {
		events, err := r.source.Stream(ctx, r.cursor, r.batch)
		if err != nil {
			return copied, fmt.Errorf("stream source: %w", err)
		}
		if len(events) == 0 {
			return copied, nil
		}

		for _, event := range events {
			written, err := r.copy(ctx, event)
			if err != nil {
				return copied, err
			}
			if written {
				copied++
			}
			r.cursor = event.ID
		}

		if len(events) < r.batch {
			return copied, nil
		}
	}
}

func (r *Replicator) copy(ctx context.Context, event Event) (bool, error) {
	current, err := r.target.CurrentVersion(ctx, event.AggregateID)
	if err != nil {
		return false, fmt.Errorf("target version of %s: %w", event.AggregateID, err)
	}
	if current >= event.Version {
		return false, nil
	}

	_, err = r.target.Append(ctx, event.AggregateID, event.AggregateType, event.Version-1, []Event{event})
	if errors.Is(err, ErrConcurrencyConflict) {
		// the target is behind by more than one event on this aggregate
		r.logger.Warn("journal replica out of order",
			"aggregate_id", event.AggregateID, "version", event.Version, "target_version", current)
		return false, fmt.Errorf("replicate %s v%d: %w", event.AggregateID, event.Version, err)
	}
	if err != nil {
		return false, fmt.Errorf("replicate %s v%d: %w", event.AggregateID, event.Version, err)
	}
	return true, nil
}
