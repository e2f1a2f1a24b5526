package substrate

import "context"

// MapOp builds the stateless map stage: one input element produces
// exactly one output element, fused with upstream so no queue sits
// between the two stages in one replica.
func MapOp[In, Out any](name string, upstream Operator[In], fn func(In) Out) Operator[Out] {
	return newFused[In, Out](name, upstream, func(next func() StreamElement[In]) StreamElement[Out] {
		in := next()
		if in.Kind == KindItem || in.Kind == KindTimestamped {
			return mapElement(in, fn(in.Item))
		}
		return withSpan(in, StreamElement[Out]{Kind: in.Kind, Timestamp: in.Timestamp})
	})
}

// FilterOp builds the stateless filter stage: it keeps pulling upstream
// until it finds a payload element that satisfies pred, or a control
// element, which always passes through.
func FilterOp[T any](name string, upstream Operator[T], pred func(T) bool) Operator[T] {
	return newFused[T, T](name, upstream, func(next func() StreamElement[T]) StreamElement[T] {
		for {
			e := next()
			if e.Kind == KindItem || e.Kind == KindTimestamped {
				if !pred(e.Item) {
					continue
				}
			}
			return e
		}
	})
}

// flatMapOp is the stateful 1:N stage backing FlatMapOp: unlike MapOp/
// FilterOp it cannot be expressed as a single pull-through-upstream
// closure, since one upstream element may yield zero or many downstream
// elements that must be drained before pulling again.
type flatMapOp[In, Out any] struct {
	name     string
	upstream Operator[In]
	fn       func(In) []Out
	pending  []StreamElement[Out]

	tracing bool
	ins     *instruments
	coord   Coord
}

// FlatMapOp builds the stateless-but-buffered flat_map stage.
func FlatMapOp[In, Out any](name string, upstream Operator[In], fn func(In) []Out) Operator[Out] {
	return &flatMapOp[In, Out]{name: name, upstream: upstream, fn: fn}
}

func (f *flatMapOp[In, Out]) Setup(ctx context.Context, md Metadata) error {
	f.coord = md.Coord
	if md.Config != nil && md.Config.Tracing {
		f.tracing = true
		f.ins = getInstruments()
	}
	return f.upstream.Setup(ctx, md)
}

func (f *flatMapOp[In, Out]) Next() StreamElement[Out] {
	if !f.tracing {
		return f.next()
	}

	var out StreamElement[Out]
	instrumentBatch(context.Background(), f.coord, f.name, f.ins, 1, func() {
		out = f.next()
	})
	spanned, span := startElementSpan(out, f.name, true)
	endElementSpan(span, nil)
	return spanned
}

func (f *flatMapOp[In, Out]) next() StreamElement[Out] {
	for len(f.pending) == 0 {
		in := f.upstream.Next()
		if in.Kind != KindItem && in.Kind != KindTimestamped {
			return withSpan(in, StreamElement[Out]{Kind: in.Kind, Timestamp: in.Timestamp})
		}
		for _, o := range f.fn(in.Item) {
			f.pending = append(f.pending, mapElement(in, o))
		}
	}
	e := f.pending[0]
	f.pending = f.pending[1:]
	return e
}

func (f *flatMapOp[In, Out]) Structure() OperatorStructure {
	return f.upstream.Structure()
}

func (f *flatMapOp[In, Out]) Clone() Operator[Out] {
	return &flatMapOp[In, Out]{name: f.name, upstream: f.upstream.Clone(), fn: f.fn}
}
