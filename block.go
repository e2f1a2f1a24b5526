package substrate

import (
	"context"
	"fmt"
)

// schedulable is the type-erased view of a Block[T] the Scheduler drives.
// Every method signature is free of T, the "uniform Operator<Object>
// interface with boxed dispatch" design note (spec.md §9) applied one
// level up, at block granularity instead of per-operator, since the
// payload type is fixed for the lifetime of one block's replicas.
type schedulable interface {
	id() BlockID
	replicaCount() int
	targets() []BlockID
	wireReceivers(ctx context.Context, net *Network, bufferSize int)
	registerSenders(net *Network, targetReplicaCounts map[BlockID]int)
	run(ctx context.Context, replicaIdx int, net *Network, cfg *EnvironmentConfig) error
}

// Block is a replicated, fused operator chain with one upstream group
// (wired in via hasReceiver/Start, or none for a source block) and the
// downstream block ids its terminal End targets (none for a sink block).
type Block[T any] struct {
	id_         BlockID
	replicas    int
	template    Operator[T]
	targetIDs   []BlockID
	hasReceiver bool
}

func (b *Block[T]) id() BlockID        { return b.id_ }
func (b *Block[T]) replicaCount() int  { return b.replicas }
func (b *Block[T]) targets() []BlockID { return b.targetIDs }

// wireReceivers creates one local endpoint per replica of this block, so
// every upstream End can resolve this block's replicas as destinations.
// Source blocks have no receiver and skip this entirely.
func (b *Block[T]) wireReceivers(ctx context.Context, net *Network, bufferSize int) {
	if !b.hasReceiver {
		return
	}
	for r := 0; r < b.replicas; r++ {
		re := ReceiverEndpoint{Coord: Coord{BlockID: b.id_, Replica: r}, ChanID: 0}
		wireLocal[T](net, ctx, re, bufferSize)
	}
}

// registerSenders records, for every replica of this block, the set of
// downstream endpoints its End operator may resolve at Setup - every
// replica of every target block, since NextStrategy is a property of the
// whole block and not any individual replica.
func (b *Block[T]) registerSenders(net *Network, targetReplicaCounts map[BlockID]int) {
	for s := 0; s < b.replicas; s++ {
		src := Coord{BlockID: b.id_, Replica: s}
		for _, tgt := range b.targetIDs {
			n := targetReplicaCounts[tgt]
			for r := 0; r < n; r++ {
				net.registerSender(src, ReceiverEndpoint{Coord: Coord{BlockID: tgt, Replica: r}, ChanID: 0})
			}
		}
	}
}

// run materializes and drives one replica: Clone the block's template,
// Setup it at its Coord, then pull until Terminate. A ChannelError raised
// by a Batcher (see End.Setup's onError) and any other operator panic are
// both recovered here and mapped onto the small, stable Error taxonomy
// (spec.md §7); Setup failures are wrapped as SetupError directly.
func (b *Block[T]) run(ctx context.Context, replicaIdx int, net *Network, cfg *EnvironmentConfig) (err error) {
	coord := Coord{BlockID: b.id_, Replica: replicaIdx}

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				err = e
				return
			}
			err = &Error{Kind: KindOperatorPanic, Coord: coord, Err: fmt.Errorf("%v", r)}
		}
	}()

	op := b.template.Clone()
	if setupErr := op.Setup(ctx, Metadata{
		Coord:       coord,
		Parallelism: b.replicas,
		Network:     net,
		Config:      cfg,
		Logger:      cfg.logger(),
	}); setupErr != nil {
		return &Error{Kind: KindSetupError, Coord: coord, Err: setupErr}
	}

	cfg.logger().Infof("replica %s started", coord)
	for {
		e := op.Next()
		if e.Kind == KindTerminate {
			cfg.logger().Infof("replica %s terminated", coord)
			return nil
		}
	}
}
