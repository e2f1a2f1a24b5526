package substrate

import (
	"fmt"
	"hash/fnv"
)

// KV is the (key, accumulator) pair a GroupBy local stage emits per entry
// of its per-key state and a global stage consumes keyed by Key.
type KV[K comparable, V any] struct {
	Key   K
	Value V
}

// hashKey derives a 64-bit fingerprint for an arbitrary comparable key via
// its default formatting, the same fallback the teacher's own config
// loading reaches for when a type has no purpose-built Hash method
// (mapstructure/yaml round-trip through string keys throughout loader.go).
// Callers with a cheaper or collision-resistant hash for their key type
// should build their own NextStrategy with GroupByStrategy instead of
// going through the keyed helpers in groupby.go/window.go.
func hashKey[K comparable](k K) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%v", k)
	return h.Sum64()
}
