package substrate

import (
	"context"
	"time"
)

// foldOp is the local/global Fold kernel shared by both stages: it
// accumulates via combine, not emitting until it observes Terminate or
// FlushAndRestart, at which point it emits the accumulator (carrying the
// max observed timestamp, if any input was timestamped) followed by the
// max observed watermark, if any, then the control marker itself - and,
// for FlushAndRestart, resets to init() and keeps going. A FlushAndRestart
// with no Item/Timestamped input since the last reset forwards only the
// marker; Terminate always emits the accumulator.
type foldOp[In, Acc any] struct {
	name     string
	upstream Operator[In]
	init     func() Acc
	combine  func(Acc, In) Acc

	acc          Acc
	initialized  bool
	sawTimestamp bool
	maxTimestamp time.Time
	sawWatermark bool
	maxWatermark time.Time
	dirty        bool

	pending []StreamElement[Acc]
}

// newFoldOp builds one stage (local or global - they differ only in which
// combine function is supplied) of the Fold kernel.
func newFoldOp[In, Acc any](name string, upstream Operator[In], init func() Acc, combine func(Acc, In) Acc) Operator[Acc] {
	return &foldOp[In, Acc]{name: name, upstream: upstream, init: init, combine: combine}
}

func (f *foldOp[In, Acc]) Setup(ctx context.Context, md Metadata) error {
	return f.upstream.Setup(ctx, md)
}

func (f *foldOp[In, Acc]) Next() StreamElement[Acc] {
	if len(f.pending) > 0 {
		e := f.pending[0]
		f.pending = f.pending[1:]
		return e
	}
	if !f.initialized {
		f.acc = f.init()
		f.initialized = true
	}

	for {
		in := f.upstream.Next()
		switch in.Kind {
		case KindItem:
			f.acc = f.combine(f.acc, in.Item)
			f.dirty = true
		case KindTimestamped:
			f.acc = f.combine(f.acc, in.Item)
			f.dirty = true
			f.sawTimestamp = true
			if in.Timestamp.After(f.maxTimestamp) {
				f.maxTimestamp = in.Timestamp
			}
		case KindWatermark:
			f.sawWatermark = true
			if in.Timestamp.After(f.maxWatermark) {
				f.maxWatermark = in.Timestamp
			}
		case KindFlushAndRestart:
			var out []StreamElement[Acc]
			if f.dirty {
				out = f.emit()
			}
			out = append(out, StreamElement[Acc]{Kind: KindFlushAndRestart})
			f.reset()
			return f.dequeue(out)
		case KindTerminate:
			out := f.emit()
			out = append(out, StreamElement[Acc]{Kind: KindTerminate})
			return f.dequeue(out)
		case KindFlushBatch:
			// Fold holds no per-record batch of its own to flush; the
			// marker only matters to Batchers downstream of an End.
		}
	}
}

func (f *foldOp[In, Acc]) emit() []StreamElement[Acc] {
	var out []StreamElement[Acc]
	if f.sawTimestamp {
		out = append(out, Timestamped(f.acc, f.maxTimestamp))
	} else {
		out = append(out, Item(f.acc))
	}
	if f.sawWatermark {
		out = append(out, Watermark[Acc](f.maxWatermark))
	}
	return out
}

func (f *foldOp[In, Acc]) reset() {
	f.acc = f.init()
	f.sawTimestamp = false
	f.sawWatermark = false
	f.dirty = false
}

// dequeue returns out's first element, queuing the rest to be drained by
// subsequent Next() calls before any further upstream pull.
func (f *foldOp[In, Acc]) dequeue(out []StreamElement[Acc]) StreamElement[Acc] {
	first := out[0]
	f.pending = append(f.pending, out[1:]...)
	return first
}

func (f *foldOp[In, Acc]) Structure() OperatorStructure {
	return f.upstream.Structure()
}

func (f *foldOp[In, Acc]) Clone() Operator[Acc] {
	return &foldOp[In, Acc]{name: f.name, upstream: f.upstream.Clone(), init: f.init, combine: f.combine}
}

// Fold builds the two-stage local+global Fold kernel (spec.md §4.6): the
// local stage runs at b's current parallelism, shuffles with OnlyOne into
// a new max_parallelism=1 block, and the global stage folds the local
// accumulators down to one with the (associative, for the property to
// hold regardless of local parallelism) global function.
func Fold[T, Acc any](b *StreamBuilder[T], init func() Acc, local func(Acc, T) Acc, global func(Acc, Acc) Acc) *StreamBuilder[Acc] {
	local_ := &StreamBuilder[Acc]{env: b.env, blockID: b.blockID, replicas: b.replicas, chain: newFoldOp("fold-local", b.chain, init, local), hasReceiver: b.hasReceiver}
	globalBlock := shuffleChain(local_, OnlyOneStrategy[Acc](), 1, nil)
	globalBlock.chain = newFoldOp[Acc, Acc]("fold-global", globalBlock.chain, init, global)
	return globalBlock
}

// optionAcc is Fold's accumulator for Reduce: None until the first
// element is observed, Some(x) thereafter, combined by the user's binary
// function. Stripped before downstream delivery.
type optionAcc[T any] struct {
	has bool
	val T
}

// Reduce is Fold over optionAcc[T], initialized to None, promoted to
// Some(x) on first element, combined via combine thereafter, with the
// Option stripped before it reaches the caller.
func Reduce[T any](b *StreamBuilder[T], combine func(T, T) T) *StreamBuilder[T] {
	init := func() optionAcc[T] { return optionAcc[T]{} }
	local := func(acc optionAcc[T], v T) optionAcc[T] {
		if !acc.has {
			return optionAcc[T]{has: true, val: v}
		}
		return optionAcc[T]{has: true, val: combine(acc.val, v)}
	}
	global := func(a, b optionAcc[T]) optionAcc[T] {
		if !a.has {
			return b
		}
		if !b.has {
			return a
		}
		return optionAcc[T]{has: true, val: combine(a.val, b.val)}
	}

	folded := Fold[T, optionAcc[T]](b, init, local, global)
	folded.chain = stripOption[T](folded.chain)
	return folded
}

// stripOption adapts Operator[optionAcc[T]] to Operator[T], dropping any
// None it observes (possible only for an empty input stream, since every
// other emission already promoted to Some).
type stripOptionOp[T any] struct {
	upstream Operator[optionAcc[T]]
}

func stripOption[T any](upstream Operator[optionAcc[T]]) Operator[T] {
	return &stripOptionOp[T]{upstream: upstream}
}

func (s *stripOptionOp[T]) Setup(ctx context.Context, md Metadata) error {
	return s.upstream.Setup(ctx, md)
}

func (s *stripOptionOp[T]) Next() StreamElement[T] {
	for {
		e := s.upstream.Next()
		switch e.Kind {
		case KindItem, KindTimestamped:
			if !e.Item.has {
				continue
			}
			return mapElement(e, e.Item.val)
		default:
			return withSpan(e, StreamElement[T]{Kind: e.Kind, Timestamp: e.Timestamp})
		}
	}
}

func (s *stripOptionOp[T]) Structure() OperatorStructure { return s.upstream.Structure() }

func (s *stripOptionOp[T]) Clone() Operator[T] {
	return &stripOptionOp[T]{upstream: s.upstream.Clone()}
}
