package substrate

import (
	"context"
	"fmt"
	"sync"
)

// localEndpoint is the in-process Endpoint[T]: a buffered Go channel pump
// goroutine, the direct generalization of the teacher's edge[T]/
// inChannel/outChannel pattern (out.channel forwarded into in.channel
// until ctx.Done()).
type localEndpoint[T any] struct {
	ctx    context.Context
	ch     chan []StreamElement[T]
	closed chan struct{}
	once   sync.Once
}

func newLocalEndpoint[T any](ctx context.Context, bufferSize int) *localEndpoint[T] {
	return &localEndpoint[T]{
		ctx:    ctx,
		ch:     make(chan []StreamElement[T], bufferSize),
		closed: make(chan struct{}),
	}
}

func (e *localEndpoint[T]) Send(batch []StreamElement[T]) error {
	select {
	case <-e.ctx.Done():
		return e.ctx.Err()
	case <-e.closed:
		return fmt.Errorf("send on closed endpoint")
	case e.ch <- batch:
		return nil
	}
}

func (e *localEndpoint[T]) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

// receiver is the Start-side handle onto a local endpoint: per-sender FIFO
// delivery, with no ordering guarantee across multiple senders feeding
// the same receiver (callers needing cross-partition ordering must use
// Watermarks).
type receiver[T any] struct {
	channel chan []StreamElement[T]
}

func (r *receiver[T]) Recv(ctx context.Context) ([]StreamElement[T], bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case batch, ok := <-r.channel:
		return batch, ok
	}
}

// Network is the endpoint registry: built once, before any replica
// thread starts, and read-only thereafter - the only piece of genuinely
// shared state besides a sink's output slot.
type Network struct {
	mu           sync.Mutex
	endpoints    map[ReceiverEndpoint]any
	receivers    map[ReceiverEndpoint]any
	sendersBySrc map[Coord][]ReceiverEndpoint
}

// NewNetwork returns an empty endpoint registry.
func NewNetwork() *Network {
	return &Network{
		endpoints:    map[ReceiverEndpoint]any{},
		receivers:    map[ReceiverEndpoint]any{},
		sendersBySrc: map[Coord][]ReceiverEndpoint{},
	}
}

// registerSender records that the replica at src has a sender targeting
// re. Called by the Scheduler while wiring the block graph, before any
// replica thread starts.
func (n *Network) registerSender(src Coord, re ReceiverEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendersBySrc[src] = append(n.sendersBySrc[src], re)
}

// wireLocal registers a local endpoint/receiver pair for one
// ReceiverEndpoint. Called by Block.wireReceivers once per receiving
// replica, before replica threads start; every upstream sender targeting
// that replica shares the one endpoint.
func wireLocal[T any](n *Network, ctx context.Context, re ReceiverEndpoint, bufferSize int) (*localEndpoint[T], *receiver[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ep := newLocalEndpoint[T](ctx, bufferSize)
	rc := &receiver[T]{channel: ep.ch}
	n.endpoints[re] = ep
	n.receivers[re] = rc
	return ep, rc
}

// wireRemote registers a remote (websocket) endpoint for one
// ReceiverEndpoint, see remote.go.
func wireRemote[T any](n *Network, re ReceiverEndpoint, ep Endpoint[T]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[re] = ep
}

// Senders returns every sender destination registered for the given
// source Coord, used by an End operator at Setup. The set is filled in
// by the Scheduler's registerSenders pass at wire-up time, before any
// replica thread starts.
func (n *Network) Senders(coord Coord) []ReceiverEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]ReceiverEndpoint, len(n.sendersBySrc[coord]))
	copy(out, n.sendersBySrc[coord])
	return out
}

func endpointFor[T any](n *Network, re ReceiverEndpoint) (Endpoint[T], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[re]
	if !ok {
		return nil, false
	}
	typed, ok := ep.(Endpoint[T])
	return typed, ok
}

func receiverFor[T any](n *Network, re ReceiverEndpoint) (*receiver[T], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rc, ok := n.receivers[re]
	if !ok {
		return nil, false
	}
	typed, ok := rc.(*receiver[T])
	return typed, ok
}
