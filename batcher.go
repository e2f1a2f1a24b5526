package substrate

import (
	"sync"
	"time"
)

// Endpoint is the send side of a network channel the Batcher drives. Both
// the local (in-process) and remote (websocket) endpoints implement it;
// the Batcher itself is endpoint-agnostic.
type Endpoint[T any] interface {
	// Send delivers one batch. It blocks if the underlying channel
	// applies backpressure.
	Send(batch []StreamElement[T]) error
	// Close tears down the endpoint after a final Send.
	Close() error
}

// Batcher is the per-destination send-side buffer: it coalesces
// successive payload elements up to BatchMode's size/timeout boundary and
// flushes on a size boundary or a timer, and whenever its owner calls
// Flush or End (End does so for every flush-bearing control element),
// never dropping a buffered payload.
type Batcher[T any] struct {
	mu       sync.Mutex
	endpoint Endpoint[T]
	mode     BatchMode
	buf      []StreamElement[T]
	timer    *time.Timer
	onError  func(error)
}

// NewBatcher wraps an Endpoint in a Batcher following the given BatchMode.
func NewBatcher[T any](endpoint Endpoint[T], mode BatchMode, onError func(error)) *Batcher[T] {
	b := &Batcher[T]{endpoint: endpoint, mode: mode, onError: onError}
	if mode.Kind == BatchAdaptive && mode.Timeout > 0 {
		b.timer = time.AfterFunc(mode.Timeout, b.onTimeout)
	}
	return b
}

func (b *Batcher[T]) onTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
	if b.mode.Kind == BatchAdaptive && b.mode.Timeout > 0 {
		b.timer.Reset(b.mode.Timeout)
	}
}

// Enqueue buffers one element, flushing immediately if the size boundary
// for the running BatchMode is reached (every element under BatchSingle).
// Control elements are buffered like payload; the owning End flushes them
// by calling Flush or End.
func (b *Batcher[T]) Enqueue(e StreamElement[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, e)

	switch b.mode.Kind {
	case BatchSingle:
		b.flushLocked()
	case BatchFixed, BatchAdaptive:
		if len(b.buf) >= b.mode.Size {
			b.flushLocked()
		}
	}
}

// Flush sends any buffered elements now, regardless of size/timer state.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher[T]) flushLocked() {
	if len(b.buf) == 0 {
		return
	}
	batch := b.buf
	b.buf = nil
	if err := b.endpoint.Send(batch); err != nil && b.onError != nil {
		b.onError(err)
	}
}

// End flushes any remaining buffer, then closes the channel. Per the
// feedback/termination protocol, End is called exactly once per Batcher,
// at Terminate.
func (b *Batcher[T]) End() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.flushLocked()
	b.mu.Unlock()

	if err := b.endpoint.Close(); err != nil && b.onError != nil {
		b.onError(err)
	}
}
