// internal/circulation/observe.go
package circulation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/lending/internal/outcome"
)

type metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	operations, _ := m.Int64Counter("lending_operations_total",
		metric.WithDescription("Lending operations by result"))
	duration, _ := m.Float64Histogram("lending_operation_duration_seconds",
		metric.WithDescription("Lending operation duration"),
		metric.WithUnit("s"))
	return &metrics{operations: operations, duration: duration}
}

// observe starts a span for op and returns a function that ends it and
// records the operation metrics. Denials are not span errors.
func (s *service) observe(ctx context.Context, op, user, item string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "circulation."+op,
		trace.WithAttributes(
			attribute.String("user", user),
			attribute.String("item", item),
		),
	)

	return ctx, func(err error) {
		result := "ok"
		switch code := outcome.CodeOf(err); {
		case err == nil:
		case code != "":
			result = string(code)
			span.SetAttributes(attribute.String("outcome.code", result))
		default:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		attrs := metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("result", result),
		)
		if s.metrics.operations != nil {
			s.metrics.operations.Add(ctx, 1, attrs)
		}
		if s.metrics.duration != nil {
			s.metrics.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		span.End()
	}
}
