package substrate

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel/trace"
)

// sender is one outbound edge of an End operator: a destination endpoint
// wrapped in a Batcher.
type sender[T any] struct {
	endpoint ReceiverEndpoint
	batcher  *Batcher[T]
}

// senderGroup is spec.md's BlockSenders group: every sender that targets
// the same downstream block, sharing one routing index. Under
// StrategyAll each sender is its own singleton group.
type senderGroup[T any] struct {
	blockID  BlockID
	senders  []*sender[T]
	feedback bool
}

// End is the terminal operator of every non-sink block. It shuffles
// payload elements to exactly one replica per downstream block, broadcasts
// control elements (skipping the feedback destination for Terminate), and
// owns the Batchers it enqueues into exclusively.
type End[T any] struct {
	strategy   NextStrategy[T]
	targets    []BlockID
	feedbackTo map[BlockID]bool

	upstream Operator[T]
	coord    Coord
	network  *Network
	groups   []*senderGroup[T]

	tracing bool
	ins     *instruments
}

// newEnd builds an End routing through strategy to the given downstream
// block ids. MarkFeedback must be called, if at all, before Setup.
func newEnd[T any](strategy NextStrategy[T], targets []BlockID) *End[T] {
	return &End[T]{strategy: strategy, targets: targets, feedbackTo: map[BlockID]bool{}}
}

// MarkFeedback records that blockID is the feedback destination of an
// iterative loop: this End must never enqueue Terminate there, because
// that destination has already left the termination chain ahead of it.
func (e *End[T]) MarkFeedback(blockID BlockID) {
	e.feedbackTo[blockID] = true
}

// Setup resolves this End's senders from the network, sorts them
// deterministically, and groups them one-group-per-downstream-block (or
// one-group-per-sender under StrategyAll), asserting OnlyOne's singleton
// invariant.
func (e *End[T]) Setup(ctx context.Context, md Metadata) error {
	if err := e.upstream.Setup(ctx, md); err != nil {
		return err
	}
	e.coord = md.Coord
	if md.Config != nil && md.Config.Tracing {
		e.tracing = true
		e.ins = getInstruments()
	}

	endpoints := md.Network.Senders(md.Coord)
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Less(endpoints[j]) })

	byBlock := map[BlockID]*senderGroup[T]{}
	var order []BlockID

	for _, re := range endpoints {
		ep, ok := endpointFor[T](md.Network, re)
		if !ok {
			return fmt.Errorf("substrate: no endpoint wired for %s", re)
		}

		coord := md.Coord
		batcher := NewBatcher[T](ep, md.Config.BatchMode, func(err error) {
			panic(&Error{Kind: KindChannelError, Coord: coord, Err: err})
		})
		snd := &sender[T]{endpoint: re, batcher: batcher}

		if e.strategy.Kind == StrategyAll {
			e.groups = append(e.groups, &senderGroup[T]{
				blockID:  re.Coord.BlockID,
				senders:  []*sender[T]{snd},
				feedback: e.feedbackTo[re.Coord.BlockID],
			})
			continue
		}

		g, ok := byBlock[re.Coord.BlockID]
		if !ok {
			g = &senderGroup[T]{blockID: re.Coord.BlockID, feedback: e.feedbackTo[re.Coord.BlockID]}
			byBlock[re.Coord.BlockID] = g
			order = append(order, re.Coord.BlockID)
		}
		g.senders = append(g.senders, snd)
	}

	if e.strategy.Kind != StrategyAll {
		for _, id := range order {
			e.groups = append(e.groups, byBlock[id])
		}
	}

	if e.strategy.Kind == StrategyOnlyOne {
		for _, g := range e.groups {
			if len(g.senders) != 1 {
				return fmt.Errorf("substrate: OnlyOne strategy requires exactly one sender per group, block %d has %d", g.blockID, len(g.senders))
			}
		}
	}

	e.network = md.Network
	return nil
}

// Next pulls one element from upstream, routes it, and returns it
// unchanged so the replica driver can observe Terminate.
func (e *End[T]) Next() StreamElement[T] {
	var elem StreamElement[T]
	if !e.tracing {
		elem = e.upstream.Next()
	} else {
		instrumentBatch(context.Background(), e.coord, "End", e.ins, 1, func() {
			elem = e.upstream.Next()
		})
		var span trace.Span
		elem, span = startElementSpan(elem, "End", true)
		endElementSpan(span, nil)
	}

	switch elem.Kind {
	case KindItem, KindTimestamped:
		idx := e.index(elem)
		for _, g := range e.groups {
			if len(g.senders) == 0 {
				continue
			}
			g.senders[idx%len(g.senders)].batcher.Enqueue(elem)
		}
	case KindWatermark, KindFlushAndRestart:
		e.broadcast(elem, nil)
		e.flushAll()
	case KindFlushBatch:
		e.flushAll()
	case KindTerminate:
		e.broadcast(elem, func(g *senderGroup[T]) bool { return g.feedback })
		for _, g := range e.groups {
			for _, s := range g.senders {
				s.batcher.End()
			}
		}
		e.groups = nil
	}

	return elem
}

// broadcast enqueues elem into every sender of every group, unless skip
// reports the group should be excluded - used to implement the feedback
// exception for Terminate.
func (e *End[T]) broadcast(elem StreamElement[T], skip func(*senderGroup[T]) bool) {
	for _, g := range e.groups {
		if skip != nil && skip(g) {
			continue
		}
		for _, s := range g.senders {
			s.batcher.Enqueue(elem)
		}
	}
}

func (e *End[T]) flushAll() {
	for _, g := range e.groups {
		for _, s := range g.senders {
			s.batcher.Flush()
		}
	}
}

// index computes the routing index for a payload element: the keyer's
// 64-bit fingerprint masked to its low 31 bits under StrategyGroupBy, a
// random non-negative int under StrategyRandom. OnlyOne/All groups are
// always singleton so any index resolves to the same sender.
func (e *End[T]) index(elem StreamElement[T]) int {
	switch e.strategy.Kind {
	case StrategyGroupBy:
		return int(e.strategy.Keyer(elem.Item) & 0x7fffffff)
	case StrategyRandom:
		return rand.Int()
	default:
		return 0
	}
}

// Structure returns this End's downstream connections, one per target
// block, labeled with the running NextStrategy.
func (e *End[T]) Structure() OperatorStructure {
	conns := make([]Connection, len(e.targets))
	for i, t := range e.targets {
		conns[i] = Connection{BlockID: t, Strategy: e.strategy.Kind.String()}
	}
	return OperatorStructure{Name: "End", Connections: conns}
}

// Clone returns an unwired End sharing the same strategy/targets/feedback
// configuration. It panics if called after Setup, per the fail-fast
// policy for operators holding unsafe-to-duplicate resources - here, the
// live Batcher set.
func (e *End[T]) Clone() Operator[T] {
	if e.network != nil {
		panic("substrate: End cloned after Setup")
	}
	feedback := make(map[BlockID]bool, len(e.feedbackTo))
	for k, v := range e.feedbackTo {
		feedback[k] = v
	}
	return &End[T]{strategy: e.strategy, targets: e.targets, feedbackTo: feedback, upstream: e.upstream.Clone()}
}
