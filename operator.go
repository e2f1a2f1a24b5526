package substrate

import "context"

// Metadata is handed to every Operator's Setup exactly once, carrying the
// replica's identity, its parallelism context, and a handle onto the
// network layer it may use to resolve its downstream senders.
type Metadata struct {
	Coord       Coord
	Parallelism int
	Network     *Network
	Config      *EnvironmentConfig
	Logger      Logger
}

// OperatorStructure is the declarative, introspectable description of one
// operator and its downstream connections, rendered by external tooling
// (the build -> describe -> rebuild round trip of the testable properties).
type OperatorStructure struct {
	Name        string
	Connections []Connection
}

// Connection describes one edge out of an operator toward a downstream
// block, labeled with the NextStrategy that routes onto it.
type Connection struct {
	BlockID  BlockID
	Strategy string
}

// Operator is the pull-based unit of work fused into a Block's chain.
// Clone is used at pipeline-build time to materialize parallel replicas
// from one builder description; once Setup has been called an Operator is
// pinned to its replica, and Clone on an Operator holding unsafe-to-share
// resources (e.g. a sink with a shared output handle) must panic - the
// designed fail-fast policy for that situation.
type Operator[T any] interface {
	// Setup is invoked exactly once per replica lifetime. It must be
	// idempotent in the sense that calling it twice on two different
	// clones produces two independent, correctly wired operators; it is
	// never valid to call it twice on the same instance.
	Setup(ctx context.Context, metadata Metadata) error

	// Next produces the next element. It may block only on its upstream
	// or on I/O, and must never be called concurrently with itself.
	Next() StreamElement[T]

	// Structure returns this operator's declarative description.
	Structure() OperatorStructure

	// Clone returns an unwired, pre-setup copy suitable for materializing
	// another replica.
	Clone() Operator[T]
}

// chainChild is implemented by operators that pull from exactly one
// upstream operator of the same element type - the common case for
// stateless fused stages (map/filter/flat_map).
type chainChild[T any] interface {
	setUpstream(Operator[T])
}

// fused composes an upstream Operator[In] with a stage function into a new
// Operator[Out]. It is the single building block every stateless
// transformation (map/filter/flat_map) is expressed with: fusion means no
// queue sits between the two stages in one replica, so backpressure is
// implicit in the pull.
type fused[In, Out any] struct {
	name     string
	upstream Operator[In]
	pull     func(next func() StreamElement[In]) StreamElement[Out]
	newCopy  func() *fused[In, Out]

	tracing bool
	ins     *instruments
	coord   Coord
}

func (f *fused[In, Out]) Setup(ctx context.Context, metadata Metadata) error {
	f.coord = metadata.Coord
	if metadata.Config != nil && metadata.Config.Tracing {
		f.tracing = true
		f.ins = getInstruments()
	}
	return f.upstream.Setup(ctx, metadata)
}

// Next pulls the next element through pull, instrumented the way
// vertex.go wraps every vertex's handler with (*vertex).metrics/
// (*vertex).span when tracing is on: incoming/outgoing/duration recorded
// around the pull, then a span started from whatever span context the
// produced element already carries and ended immediately after.
func (f *fused[In, Out]) Next() StreamElement[Out] {
	if !f.tracing {
		return f.pull(f.upstream.Next)
	}

	var out StreamElement[Out]
	instrumentBatch(context.Background(), f.coord, f.name, f.ins, 1, func() {
		out = f.pull(f.upstream.Next)
	})

	spanned, span := startElementSpan(out, f.name, true)
	endElementSpan(span, nil)
	return spanned
}

func (f *fused[In, Out]) Structure() OperatorStructure {
	return f.upstream.Structure()
}

func (f *fused[In, Out]) Clone() Operator[Out] {
	clone := f.newCopy()
	clone.upstream = f.upstream.Clone()
	return clone
}

// newFused builds a fused stage. pull receives the upstream's Next as a
// thunk so stateful stages (flat_map's internal buffer, for instance) can
// call it more than once per downstream pull.
func newFused[In, Out any](name string, upstream Operator[In], pull func(next func() StreamElement[In]) StreamElement[Out]) Operator[Out] {
	var newCopy func() *fused[In, Out]
	newCopy = func() *fused[In, Out] {
		return &fused[In, Out]{name: name, pull: pull, newCopy: newCopy}
	}
	return &fused[In, Out]{name: name, upstream: upstream, pull: pull, newCopy: newCopy}
}
