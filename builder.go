package substrate

import "sync"

// StreamBuilder is the fluent pipeline-build handle for one in-progress
// block: Stream/Map/Filter/FlatMap extend it in place (or hand back a
// retyped handle on the same block, since Go methods cannot add type
// parameters the receiver doesn't have - builder.go's VertexBuilder/
// RouterBuilder chain is the untyped analogue of this same shape).
// GroupBy/Fold/Reduce/Window close the current block with a shuffle and
// return a handle on the new one.
type StreamBuilder[T any] struct {
	env         *Environment
	blockID     BlockID
	replicas    int
	chain       Operator[T]
	hasReceiver bool // true once chain's head is a Start, i.e. this block was opened by a shuffle
}

// Stream opens a new source block reading from src.
func Stream[T any](env *Environment, src Source[T]) *StreamBuilder[T] {
	id := env.allocBlockID()
	return &StreamBuilder[T]{env: env, blockID: id, replicas: env.replicasFor(0), chain: src}
}

// Map extends b with a stateless one-to-one transformation, staying
// within the same block.
func Map[In, Out any](b *StreamBuilder[In], name string, fn func(In) Out) *StreamBuilder[Out] {
	return &StreamBuilder[Out]{env: b.env, blockID: b.blockID, replicas: b.replicas, chain: MapOp(name, b.chain, fn), hasReceiver: b.hasReceiver}
}

// Filter extends b, keeping only the elements satisfying pred.
func Filter[T any](b *StreamBuilder[T], name string, pred func(T) bool) *StreamBuilder[T] {
	b.chain = FilterOp(name, b.chain, pred)
	return b
}

// FlatMap extends b with a one-to-many transformation, staying within the
// same block.
func FlatMap[In, Out any](b *StreamBuilder[In], name string, fn func(In) []Out) *StreamBuilder[Out] {
	return &StreamBuilder[Out]{env: b.env, blockID: b.blockID, replicas: b.replicas, chain: FlatMapOp(name, b.chain, fn), hasReceiver: b.hasReceiver}
}

// shuffleChain closes the current block by appending an End operator
// running strategy toward a freshly allocated downstream block, wires
// that downstream block's Start to expect Terminate from every one of
// this block's replicas, and returns a handle on the new block. When
// feedbackTarget is non-nil, the End is marked so it never enqueues
// Terminate on that block id - the one-way feedback exception of
// spec.md §4.5. This is the single primitive GroupBy/Fold/Reduce/Window
// and the public Shuffle/ShuffleFeedback builders all go through.
func shuffleChain[T any](b *StreamBuilder[T], strategy NextStrategy[T], downstreamMaxParallelism int, feedbackTarget *BlockID) *StreamBuilder[T] {
	env := b.env
	newID := env.allocBlockID()
	newReplicas := env.replicasFor(downstreamMaxParallelism)

	end := newEnd[T](strategy, []BlockID{newID})
	end.upstream = b.chain
	if feedbackTarget != nil {
		end.MarkFeedback(*feedbackTarget)
	}

	env.blocks = append(env.blocks, &Block[T]{
		id_:         b.blockID,
		replicas:    b.replicas,
		template:    end,
		targetIDs:   []BlockID{newID},
		hasReceiver: b.hasReceiver,
	})

	return &StreamBuilder[T]{env: env, blockID: newID, replicas: newReplicas, chain: newStart[T](b.replicas), hasReceiver: true}
}

// Shuffle is the builder-level entry point to shuffleChain: it closes the
// current block and opens a new one downstream of it, routed by
// strategy. Most callers reach for GroupBy/Fold/Reduce/Window instead;
// Shuffle is exposed directly for custom partitioning.
func Shuffle[T any](b *StreamBuilder[T], strategy NextStrategy[T], downstreamMaxParallelism int) *StreamBuilder[T] {
	return shuffleChain(b, strategy, downstreamMaxParallelism, nil)
}

// ShuffleFeedback is Shuffle for the tail of an iterative (feedback) loop:
// feedbackTarget names the block this shuffle must never enqueue
// Terminate on, because that block has already left the termination
// chain ahead of it. The loop itself remains a data cycle on top of an
// acyclic control graph - callers must not attempt to make termination
// symmetric across it.
func ShuffleFeedback[T any](b *StreamBuilder[T], strategy NextStrategy[T], downstreamMaxParallelism int, feedbackTarget BlockID) *StreamBuilder[T] {
	return shuffleChain(b, strategy, downstreamMaxParallelism, &feedbackTarget)
}

// To closes b's block with a sink built from b's chain, attached at b's
// own replica count (no additional shuffle - the common case of a sink
// immediately following a global aggregation, whose block is already at
// max_parallelism=1).
func To[T any](b *StreamBuilder[T], sinkFactory func(upstream Operator[T]) Sink[T]) {
	sink := sinkFactory(b.chain)
	b.env.blocks = append(b.env.blocks, &Block[T]{
		id_:         b.blockID,
		replicas:    b.replicas,
		template:    sink,
		hasReceiver: b.hasReceiver,
	})
}

// CollectGlobal shuffles b to a single max_parallelism=1 replica and
// attaches a collectSink there, returning the mutex-guarded slice every
// item observed by any upstream replica ends up in - the builder
// shorthand for "Sinks must be instantiated with max_parallelism=1 when
// they collect into a single global container" (spec.md §6).
func CollectGlobal[T any](b *StreamBuilder[T]) *[]T {
	out := &[]T{}
	var mu sync.Mutex
	single := shuffleChain(b, OnlyOneStrategy[T](), 1, nil)
	To(single, func(upstream Operator[T]) Sink[T] { return NewCollectSink("collect", upstream, &mu, out) })
	return out
}

// CollectGlobalMap is CollectGlobal for KV-shaped streams (GroupByFold/
// GroupByCount/GroupByReduce/WindowSum results): it shuffles b to a single
// max_parallelism=1 replica and attaches a mapCollectSink, returning the
// mutex-guarded map every (key, value) record converges into.
func CollectGlobalMap[K comparable, V any](b *StreamBuilder[KV[K, V]]) *map[K]V {
	out := &map[K]V{}
	var mu sync.Mutex
	single := shuffleChain(b, OnlyOneStrategy[KV[K, V]](), 1, nil)
	To(single, func(upstream Operator[KV[K, V]]) Sink[KV[K, V]] {
		return NewMapCollectSink("collect", upstream, &mu, out)
	})
	return out
}
