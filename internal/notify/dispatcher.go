// internal/notify/dispatcher.go
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jules-labs/lending/internal/logger"
)

const (
	DefaultBuffer          = 256
	DefaultDeliveryTimeout = 10 * time.Second
)

// Dispatcher is a fire-and-forget Notifier. Events are queued on a bounded
// buffer and delivered to every sink by a single worker; when the buffer is
// full the event is dropped.
type Dispatcher struct {
	sinks   []Sink
	events  chan Event
	timeout time.Duration
	logger  *slog.Logger

	dropped   metric.Int64Counter
	failed    metric.Int64Counter
	dropCount atomic.Int64

	mu      sync.RWMutex
	closed  bool
	started sync.Once
	done    chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.events = make(chan Event, n)
		}
	}
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithMeter(m metric.Meter) DispatcherOption {
	return func(d *Dispatcher) { d.instrument(m) }
}

func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		events:  make(chan Event, DefaultBuffer),
		timeout: DefaultDeliveryTimeout,
		logger:  logger.WithService("notify"),
		done:    make(chan struct{}),
	}
	d.instrument(otel.Meter("lending/notify"))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) instrument(m metric.Meter) {
	d.dropped, _ = m.Int64Counter("notify_dropped_total",
		metric.WithDescription("Notifications dropped because the buffer was full"))
	d.failed, _ = m.Int64Counter("notify_failed_total",
		metric.WithDescription("Notifications a sink failed to deliver"))
}

// Start launches the delivery worker. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		go d.run()
	})
}

// Notify enqueues the event without blocking.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, event, "dispatcher closed")
		return
	}

	select {
	case d.events <- event:
	default:
		d.drop(ctx, event, "buffer full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, event Event, reason string) {
	d.dropCount.Add(1)
	if d.dropped != nil {
		d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(event.Kind))))
	}
	d.logger.WarnContext(ctx, "notification dropped",
		"reason", reason, "kind", event.Kind, "user", event.User, "item", event.Item)
}

// Dropped returns how many events were discarded so far.
func (d *Dispatcher) Dropped() int64 {
	return d.dropCount.Load()
}

// Close stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	d.Start()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Deliver(ctx, event)
		cancel()
		if err != nil {
			if d.failed != nil {
				d.failed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(event.Kind))))
			}
			d.logger.Error("notification delivery failed",
				"kind", event.Kind, "user", event.User, "item", event.Item, "error", err)
		}
	}
}
