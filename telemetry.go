package substrate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	meter  = otel.GetMeterProvider().Meter("substrate")
	tracer = otel.GetTracerProvider().Tracer("substrate")
)

// instruments bundles the four per-operator measurements the teacher's
// vertex.go records for every vertex: incoming/outgoing counts, error
// count, and processing duration.
type instruments struct {
	incoming metric.Int64Counter
	outgoing metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Int64Histogram
}

func newInstruments() *instruments {
	in, _ := meter.Int64Counter("substrate.incoming")
	out, _ := meter.Int64Counter("substrate.outgoing")
	errs, _ := meter.Int64Counter("substrate.errors")
	dur, _ := meter.Int64Histogram("substrate.duration")
	return &instruments{incoming: in, outgoing: out, errors: errs, duration: dur}
}

var (
	sharedInstrumentsOnce sync.Once
	sharedInstruments     *instruments
)

// getInstruments returns the process-wide instruments set, built once
// behind the package-level meter the same way vertex.go's own
// inCounter/outCounter/errorsCounter/batchDuration are package-level
// values shared by every vertex rather than one set per vertex instance.
func getInstruments() *instruments {
	sharedInstrumentsOnce.Do(func() { sharedInstruments = newInstruments() })
	return sharedInstruments
}

// instrumentBatch wraps a batch handler with the vertex's incoming/
// outgoing/duration recording, the direct generalization of vertex.go's
// (*vertex).metrics.
func instrumentBatch(ctx context.Context, coord Coord, operatorType string, ins *instruments, n int, fn func()) {
	attrs := metric.WithAttributes(
		attribute.String("vertex_id", coord.String()),
		attribute.String("vertex_type", operatorType),
	)

	ins.incoming.Add(ctx, int64(n), attrs)
	start := time.Now()
	fn()
	ins.duration.Record(ctx, time.Since(start).Milliseconds(), attrs)
	ins.outgoing.Add(ctx, int64(n), attrs)
}

// startElementSpan begins a per-element span the way vertex.go's
// (*vertex).span does, rooted at the span context the element already
// carries (propagated from the source).
func startElementSpan[T any](e StreamElement[T], operatorID string, tracingOn bool) (StreamElement[T], trace.Span) {
	if !tracingOn {
		return e, nil
	}

	ctx := e.spanCtx
	if ctx == nil {
		ctx = context.Background()
	}

	spanCtx, span := tracer.Start(ctx, operatorID)
	e.spanCtx = spanCtx
	e.span = span
	return e, span
}

func endElementSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.AddEvent("error")
	}
	span.End()
}
