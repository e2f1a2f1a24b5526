package substrate

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Codec is the "exchange-serializable" capability §1 treats as opaque: it
// encodes and decodes a batch of elements for the wire. The network layer
// never inspects the bytes it produces.
type Codec[T any] interface {
	Encode(batch []StreamElement[T]) ([]byte, error)
	Decode(data []byte) ([]StreamElement[T], error)
}

// gobCodec is the default Codec, built on encoding/gob the same way the
// teacher's own deep-copy and ForkDuplicate paths already serialize
// payloads (types.go's ForkDuplicate, util.go's deepcopy).
type gobCodec[T any] struct{}

// NewGobCodec returns the default gob-based Codec for T.
func NewGobCodec[T any]() Codec[T] {
	return gobCodec[T]{}
}

func (gobCodec[T]) Encode(batch []StreamElement[T]) ([]byte, error) {
	wire := make([]wireElement[T], len(batch))
	for i, e := range batch {
		wire[i] = wireElement[T]{Kind: e.Kind, Item: e.Item, Timestamp: e.Timestamp}
	}

	buf := &bytes.Buffer{}
	if err := gob.NewEncoder(buf).Encode(wire); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec[T]) Decode(data []byte) ([]StreamElement[T], error) {
	var wire []wireElement[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, err
	}

	out := make([]StreamElement[T], len(wire))
	for i, w := range wire {
		out[i] = StreamElement[T]{Kind: w.Kind, Item: w.Item, Timestamp: w.Timestamp}
	}
	return out, nil
}

// wireElement is the gob-friendly projection of StreamElement[T]: the span
// context never crosses the network, only the data and control payload do.
type wireElement[T any] struct {
	Kind      Kind
	Item      T
	Timestamp time.Time
}
