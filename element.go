package substrate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Kind tags the variant carried by a StreamElement.
type Kind int

const (
	// KindItem is a regular payload record with no event-time attached.
	KindItem Kind = iota
	// KindTimestamped is a payload record carrying an event-time timestamp,
	// monotonic per source and comparable across sources.
	KindTimestamped
	// KindWatermark is a promise that no further element with timestamp
	// <= its Timestamp will be emitted downstream on this channel.
	KindWatermark
	// KindFlushBatch requests outbound batches be flushed. It carries no
	// payload and never terminates a stream.
	KindFlushBatch
	// KindFlushAndRestart is an end-of-epoch marker for iterative
	// dataflows: every stateful operator emits its held state, resets,
	// and forwards the marker.
	KindFlushAndRestart
	// KindTerminate is the final marker. Once received an operator emits
	// any held state, forwards Terminate exactly once to each downstream
	// group, and stops producing.
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "Item"
	case KindTimestamped:
		return "Timestamped"
	case KindWatermark:
		return "Watermark"
	case KindFlushBatch:
		return "FlushBatch"
	case KindFlushAndRestart:
		return "FlushAndRestart"
	case KindTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

// StreamElement is the tagged envelope every operator consumes and
// produces. It is deliberately a tagged struct and not an interface
// hierarchy: adding a control marker means adding a Kind and updating the
// exhaustive switch in every operator, which is the intended forcing
// function for correctness.
type StreamElement[T any] struct {
	Kind      Kind
	Item      T
	Timestamp time.Time

	spanCtx context.Context
	span    trace.Span
}

// Item builds a KindItem element.
func Item[T any](v T) StreamElement[T] {
	return StreamElement[T]{Kind: KindItem, Item: v}
}

// Timestamped builds a KindTimestamped element.
func Timestamped[T any](v T, ts time.Time) StreamElement[T] {
	return StreamElement[T]{Kind: KindTimestamped, Item: v, Timestamp: ts}
}

// Watermark builds a KindWatermark element.
func Watermark[T any](ts time.Time) StreamElement[T] {
	return StreamElement[T]{Kind: KindWatermark, Timestamp: ts}
}

// FlushBatch builds a KindFlushBatch element.
func FlushBatch[T any]() StreamElement[T] {
	return StreamElement[T]{Kind: KindFlushBatch}
}

// FlushAndRestart builds a KindFlushAndRestart element.
func FlushAndRestart[T any]() StreamElement[T] {
	return StreamElement[T]{Kind: KindFlushAndRestart}
}

// Terminate builds a KindTerminate element.
func Terminate[T any]() StreamElement[T] {
	return StreamElement[T]{Kind: KindTerminate}
}

// HasTimestamp reports whether the element carries an event-time value,
// true for both Timestamped and Watermark.
func (e StreamElement[T]) HasTimestamp() bool {
	return e.Kind == KindTimestamped || e.Kind == KindWatermark
}

// IsControl reports whether the element is a control marker rather than a
// payload-bearing variant.
func (e StreamElement[T]) IsControl() bool {
	switch e.Kind {
	case KindWatermark, KindFlushBatch, KindFlushAndRestart, KindTerminate:
		return true
	default:
		return false
	}
}

// withSpan re-attaches a trace.Span/context.Context pair so tracing can
// follow an element across a map that produces a differently-typed
// element (e.g. a map or a keyer's projection).
func withSpan[T, U any](from StreamElement[T], to StreamElement[U]) StreamElement[U] {
	to.spanCtx = from.spanCtx
	to.span = from.span
	return to
}

// mapElement converts the payload of an element while preserving Kind,
// Timestamp and the tracing context - used by stateless operators that
// transform T into U without changing the control structure.
func mapElement[T, U any](e StreamElement[T], v U) StreamElement[U] {
	return withSpan(e, StreamElement[U]{Kind: e.Kind, Item: v, Timestamp: e.Timestamp})
}
