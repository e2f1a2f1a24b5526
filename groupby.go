package substrate

import (
	"context"
	"time"
)

// groupFoldOp is Fold partitioned by key: the local stage's state is a
// mapping from key to per-key accumulator (insertion order irrelevant);
// on Terminate/FlushAndRestart it emits one KV[K,Acc] record per entry
// rather than a single accumulator. The global stage reuses the same
// type, keyed by the KV already produced locally.
type groupFoldOp[In any, K comparable, Acc any] struct {
	upstream Operator[In]
	keyOf    func(In) K
	init     func() Acc
	combine  func(Acc, In) Acc

	state map[K]Acc

	sawWatermark bool
	maxWatermark time.Time

	pending []StreamElement[KV[K, Acc]]
}

func newGroupFoldOp[In any, K comparable, Acc any](upstream Operator[In], keyOf func(In) K, init func() Acc, combine func(Acc, In) Acc) Operator[KV[K, Acc]] {
	return &groupFoldOp[In, K, Acc]{upstream: upstream, keyOf: keyOf, init: init, combine: combine, state: map[K]Acc{}}
}

func (g *groupFoldOp[In, K, Acc]) Setup(ctx context.Context, md Metadata) error {
	return g.upstream.Setup(ctx, md)
}

func (g *groupFoldOp[In, K, Acc]) Next() StreamElement[KV[K, Acc]] {
	if len(g.pending) > 0 {
		e := g.pending[0]
		g.pending = g.pending[1:]
		return e
	}

	for {
		in := g.upstream.Next()
		switch in.Kind {
		case KindItem, KindTimestamped:
			k := g.keyOf(in.Item)
			acc, ok := g.state[k]
			if !ok {
				acc = g.init()
			}
			g.state[k] = g.combine(acc, in.Item)
		case KindWatermark:
			g.sawWatermark = true
			if in.Timestamp.After(g.maxWatermark) {
				g.maxWatermark = in.Timestamp
			}
		case KindFlushAndRestart:
			out := g.drain()
			out = append(out, StreamElement[KV[K, Acc]]{Kind: KindFlushAndRestart})
			g.state = map[K]Acc{}
			g.sawWatermark = false
			return g.dequeue(out)
		case KindTerminate:
			out := g.drain()
			out = append(out, StreamElement[KV[K, Acc]]{Kind: KindTerminate})
			return g.dequeue(out)
		case KindFlushBatch:
			// no per-record batching of its own to flush here.
		}
	}
}

func (g *groupFoldOp[In, K, Acc]) drain() []StreamElement[KV[K, Acc]] {
	out := make([]StreamElement[KV[K, Acc]], 0, len(g.state)+1)
	for k, acc := range g.state {
		out = append(out, Item(KV[K, Acc]{Key: k, Value: acc}))
	}
	if g.sawWatermark {
		out = append(out, Watermark[KV[K, Acc]](g.maxWatermark))
	}
	return out
}

func (g *groupFoldOp[In, K, Acc]) dequeue(out []StreamElement[KV[K, Acc]]) StreamElement[KV[K, Acc]] {
	if len(out) == 0 {
		return StreamElement[KV[K, Acc]]{Kind: KindTerminate}
	}
	first := out[0]
	g.pending = append(g.pending, out[1:]...)
	return first
}

func (g *groupFoldOp[In, K, Acc]) Structure() OperatorStructure { return g.upstream.Structure() }

func (g *groupFoldOp[In, K, Acc]) Clone() Operator[KV[K, Acc]] {
	return &groupFoldOp[In, K, Acc]{upstream: g.upstream.Clone(), keyOf: g.keyOf, init: g.init, combine: g.combine, state: map[K]Acc{}}
}

// GroupByFold is the keyed analogue of Fold: the local stage partitions
// by keyer, the shuffle uses GroupBy on the key so every partial
// accumulator for the same key converges on one global-stage replica,
// which completes the reduction with global.
func GroupByFold[T any, K comparable, Acc any](b *StreamBuilder[T], keyer func(T) K, init func() Acc, local func(Acc, T) Acc, global func(Acc, Acc) Acc) *StreamBuilder[KV[K, Acc]] {
	localOp := newGroupFoldOp[T, K, Acc](b.chain, keyer, init, local)
	localBuilder := &StreamBuilder[KV[K, Acc]]{env: b.env, blockID: b.blockID, replicas: b.replicas, chain: localOp, hasReceiver: b.hasReceiver}

	strategy := GroupByStrategy[KV[K, Acc]](func(kv KV[K, Acc]) uint64 { return hashKey(kv.Key) })
	globalBuilder := shuffleChain(localBuilder, strategy, 1, nil)

	globalCombine := func(acc Acc, kv KV[K, Acc]) Acc { return global(acc, kv.Value) }
	globalBuilder.chain = newGroupFoldOp[KV[K, Acc], K, Acc](globalBuilder.chain, func(kv KV[K, Acc]) K { return kv.Key }, init, globalCombine)
	return globalBuilder
}

// GroupByReduce is GroupByFold with optionAcc[T] stripped before
// delivery, the keyed counterpart of Reduce.
func GroupByReduce[T any, K comparable](b *StreamBuilder[T], keyer func(T) K, combine func(T, T) T) *StreamBuilder[KV[K, T]] {
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

	folded := GroupByFold[T, K, optionAcc[T]](b, keyer, init, local, global)
	folded.chain = stripGroupOption[K, T](folded.chain)
	return folded
}

type stripGroupOptionOp[K comparable, T any] struct {
	upstream Operator[KV[K, optionAcc[T]]]
}

func stripGroupOption[K comparable, T any](upstream Operator[KV[K, optionAcc[T]]]) Operator[KV[K, T]] {
	return &stripGroupOptionOp[K, T]{upstream: upstream}
}

func (s *stripGroupOptionOp[K, T]) Setup(ctx context.Context, md Metadata) error {
	return s.upstream.Setup(ctx, md)
}

func (s *stripGroupOptionOp[K, T]) Next() StreamElement[KV[K, T]] {
	for {
		e := s.upstream.Next()
		switch e.Kind {
		case KindItem, KindTimestamped:
			if !e.Item.Value.has {
				continue
			}
			return mapElement(e, KV[K, T]{Key: e.Item.Key, Value: e.Item.Value.val})
		default:
			return withSpan(e, StreamElement[KV[K, T]]{Kind: e.Kind, Timestamp: e.Timestamp})
		}
	}
}

func (s *stripGroupOptionOp[K, T]) Structure() OperatorStructure { return s.upstream.Structure() }

func (s *stripGroupOptionOp[K, T]) Clone() Operator[KV[K, T]] {
	return &stripGroupOptionOp[K, T]{upstream: s.upstream.Clone()}
}

// GroupByCount is the special case fold(0, +1, +): it counts occurrences
// of each key.
func GroupByCount[T any, K comparable](b *StreamBuilder[T], keyer func(T) K) *StreamBuilder[KV[K, int]] {
	return GroupByFold[T, K, int](b, keyer,
		func() int { return 0 },
		func(acc int, _ T) int { return acc + 1 },
		func(a, b int) int { return a + b },
	)
}
