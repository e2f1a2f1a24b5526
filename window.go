package substrate

import (
	"context"
	"time"
)

// Number constrains the value types WindowSum can accumulate.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// tumblingWindow sits between the keyer and the local Fold (spec.md
// §4.6): it cuts a Timestamped input stream into finite per-window
// sub-streams by injecting FlushAndRestart whenever a Timestamped
// element's event time crosses into the next window, then forwards the
// element unchanged. Because StreamElement already carries its own
// Timestamp, the window operator needs no separate (Key, In) wrapper
// type the way the spec's abstract Operator<(Key, In)> does - it is
// simply an Operator[T] -> Operator[T] stage.
type tumblingWindow[T any] struct {
	upstream Operator[T]
	size     time.Duration

	started   bool
	windowEnd time.Time
	pending   *StreamElement[T]
}

// NewTumblingWindow builds the tumbling event-time window operator of the
// given size, unexported internals aside.
func NewTumblingWindow[T any](upstream Operator[T], size time.Duration) Operator[T] {
	return &tumblingWindow[T]{upstream: upstream, size: size}
}

func (w *tumblingWindow[T]) Setup(ctx context.Context, md Metadata) error {
	return w.upstream.Setup(ctx, md)
}

func (w *tumblingWindow[T]) Next() StreamElement[T] {
	if w.pending != nil {
		e := *w.pending
		w.pending = nil
		return e
	}

	e := w.upstream.Next()
	if e.Kind != KindTimestamped {
		return e
	}

	windowEnd := floorWindow(e.Timestamp, w.size).Add(w.size)
	if !w.started {
		w.started = true
		w.windowEnd = windowEnd
		return e
	}
	if !e.Timestamp.Before(w.windowEnd) {
		w.windowEnd = windowEnd
		w.pending = &e
		return StreamElement[T]{Kind: KindFlushAndRestart}
	}
	return e
}

func floorWindow(ts time.Time, size time.Duration) time.Time {
	return ts.Truncate(size)
}

func (w *tumblingWindow[T]) Structure() OperatorStructure { return w.upstream.Structure() }

func (w *tumblingWindow[T]) Clone() Operator[T] {
	return &tumblingWindow[T]{upstream: w.upstream.Clone(), size: w.size}
}

// WindowSum reuses the Fold kernel scoped to a tumbling event-time
// window: group_by(keyer) -> window(tumbling size) -> local sum fold ->
// GroupBy shuffle on key -> global sum fold, the generalization of
// original_source's window/aggr/sum.rs to a plain func(acc, T) acc
// combinator the way the rest of the kernels already take.
func WindowSum[T any, K comparable, N Number](b *StreamBuilder[T], keyer func(T) K, extract func(T) N, size time.Duration) *StreamBuilder[KV[K, N]] {
	windowed := &StreamBuilder[T]{env: b.env, blockID: b.blockID, replicas: b.replicas, chain: NewTumblingWindow(b.chain, size), hasReceiver: b.hasReceiver}
	return GroupByFold[T, K, N](windowed, keyer,
		func() N { return 0 },
		func(acc N, v T) N { return acc + extract(v) },
		func(a, b N) N { return a + b },
	)
}
