// internal/notify/dispatcher_test.go
package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/lending/internal/logger"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDispatcherDeliversToEverySink(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	d := NewDispatcher([]Sink{first, second}, WithLogger(logger.Discard()))
	d.Start()

	d.Notify(context.Background(), NewEvent(ReservationAvailable, "alice", "ISBN1", t0.AddDate(0, 0, 3), t0))
	d.Notify(context.Background(), NewEvent(ReservationExpired, "bob", "ISBN1", time.Time{}, t0))

	require.NoError(t, d.Close(context.Background()))

	for _, r := range []*Recorder{first, second} {
		events := r.Events()
		require.Len(t, events, 2)
		assert.Equal(t, ReservationAvailable, events[0].Kind)
		assert.Equal(t, "bob", events[1].User)
	}
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenBufferIsFull(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher([]Sink{rec}, WithBuffer(1), WithLogger(logger.Discard()))

	// Not started: the first event fills the buffer, the rest are dropped.
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), NewEvent(DueDateApproaching, "carol", "ISBN2", t0, t0))
	}
	assert.Equal(t, int64(2), d.Dropped())

	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, rec.Events(), 1)

	d.Notify(context.Background(), NewEvent(DueDateApproaching, "carol", "ISBN2", t0, t0))
	assert.Equal(t, int64(3), d.Dropped())
}

func TestDispatcherNotifyNeverBlocksOnSlowSink(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int32
	slow := SinkFunc(func(ctx context.Context, _ Event) error {
		<-release
		delivered.Add(1)
		return nil
	})
	d := NewDispatcher([]Sink{slow}, WithBuffer(2), WithLogger(logger.Discard()))
	d.Start()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Notify(context.Background(), NewEvent(ReservationAvailable, "u", "i", t0, t0))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}
	assert.Greater(t, d.Dropped(), int64(0))

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int64(50), int64(delivered.Load())+d.Dropped())
}

func TestDispatcherSurvivesSinkErrors(t *testing.T) {
	rec := &Recorder{}
	failing := SinkFunc(func(context.Context, Event) error { return errors.New("smtp down") })
	d := NewDispatcher([]Sink{failing, rec}, WithLogger(logger.Discard()))
	d.Start()

	d.Notify(context.Background(), NewEvent(ReservationExpired, "dave", "ISBN3", time.Time{}, t0))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, rec.OfKind(ReservationExpired), 1)
}
