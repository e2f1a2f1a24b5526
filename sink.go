package substrate

import (
	"context"
	"sync"
)

// Sink is the terminal interface of a block with no downstream: it
// receives every StreamElement variant and returns each one, Terminate
// included, to the replica driver. The built-in collect sinks write each
// payload element into their mutex-guarded output slot as it arrives,
// not once on Terminate. Sinks collecting into one
// global container must be attached at max_parallelism=1 - see
// CollectGlobal.
type Sink[T any] interface {
	Operator[T]
}

// collectSink accumulates every payload element into *out behind mu,
// the generalization of the teacher's single shared output slot pattern
// (pipe.go's HealthInfo mutex, machine.go's recorder fan-in).
type collectSink[T any] struct {
	name     string
	upstream Operator[T]
	mu       *sync.Mutex
	out      *[]T
	setup    bool
}

// NewCollectSink returns a Sink[T] that appends every item it observes to
// *out, guarded by mu. Multiple replicas may share the same mu/out to
// collect into one global slice; ordering across replicas is undefined.
func NewCollectSink[T any](name string, upstream Operator[T], mu *sync.Mutex, out *[]T) Sink[T] {
	return &collectSink[T]{name: name, upstream: upstream, mu: mu, out: out}
}

func (s *collectSink[T]) Setup(ctx context.Context, md Metadata) error {
	s.setup = true
	return s.upstream.Setup(ctx, md)
}

func (s *collectSink[T]) Next() StreamElement[T] {
	e := s.upstream.Next()
	if e.Kind == KindItem || e.Kind == KindTimestamped {
		s.mu.Lock()
		*s.out = append(*s.out, e.Item)
		s.mu.Unlock()
	}
	return e
}

func (s *collectSink[T]) Structure() OperatorStructure {
	return OperatorStructure{Name: "Sink(" + s.name + ")"}
}

func (s *collectSink[T]) Clone() Operator[T] {
	if s.setup {
		panic("substrate: collectSink cloned after Setup")
	}
	return &collectSink[T]{name: s.name, upstream: s.upstream.Clone(), mu: s.mu, out: s.out}
}

// mapCollectSink accumulates KV[K,V] records into *out behind mu - the
// shape group_by_count/group_by_fold results naturally arrive in.
type mapCollectSink[K comparable, V any] struct {
	name     string
	upstream Operator[KV[K, V]]
	mu       *sync.Mutex
	out      *map[K]V
	setup    bool
}

// NewMapCollectSink returns a Sink[KV[K,V]] that writes every (key,
// value) record it observes into *out, guarded by mu.
func NewMapCollectSink[K comparable, V any](name string, upstream Operator[KV[K, V]], mu *sync.Mutex, out *map[K]V) Sink[KV[K, V]] {
	return &mapCollectSink[K, V]{name: name, upstream: upstream, mu: mu, out: out}
}

func (s *mapCollectSink[K, V]) Setup(ctx context.Context, md Metadata) error {
	s.setup = true
	return s.upstream.Setup(ctx, md)
}

func (s *mapCollectSink[K, V]) Next() StreamElement[KV[K, V]] {
	e := s.upstream.Next()
	if e.Kind == KindItem || e.Kind == KindTimestamped {
		s.mu.Lock()
		if *s.out == nil {
			*s.out = map[K]V{}
		}
		(*s.out)[e.Item.Key] = e.Item.Value
		s.mu.Unlock()
	}
	return e
}

func (s *mapCollectSink[K, V]) Structure() OperatorStructure {
	return OperatorStructure{Name: "Sink(" + s.name + ")"}
}

func (s *mapCollectSink[K, V]) Clone() Operator[KV[K, V]] {
	if s.setup {
		panic("substrate: mapCollectSink cloned after Setup")
	}
	return &mapCollectSink[K, V]{name: s.name, upstream: s.upstream.Clone(), mu: s.mu, out: s.out}
}

// writerSink adapts a plain func(T) error into a Sink[T]: the shape every
// domain sink in adapters/ shares (Kafka/SQS/Redis/Pub-Sub/BigQuery/
// BigTable/Cassandra all reduce to "write one record, log failures").
// Per-record write failures are logged, not fatal - only a Setup failure or
// a panic escalates to the Error taxonomy, mirroring the teacher's Terminus
// functions which aggregate and return write errors without tearing down
// the whole pipe.
type writerSink[T any] struct {
	name     string
	upstream Operator[T]
	write    func(T) error
	logger   Logger
}

// NewWriterSink returns a Sink[T] that calls write for every payload
// element it observes.
func NewWriterSink[T any](name string, upstream Operator[T], write func(T) error) Sink[T] {
	return &writerSink[T]{name: name, upstream: upstream, write: write}
}

func (s *writerSink[T]) Setup(ctx context.Context, md Metadata) error {
	s.logger = md.Logger
	return s.upstream.Setup(ctx, md)
}

func (s *writerSink[T]) Next() StreamElement[T] {
	e := s.upstream.Next()
	if e.Kind == KindItem || e.Kind == KindTimestamped {
		if err := s.write(e.Item); err != nil && s.logger != nil {
			s.logger.Errorf("%s: write failed: %v", s.name, err)
		}
	}
	return e
}

func (s *writerSink[T]) Structure() OperatorStructure {
	return OperatorStructure{Name: "Sink(" + s.name + ")"}
}

func (s *writerSink[T]) Clone() Operator[T] {
	return &writerSink[T]{name: s.name, upstream: s.upstream.Clone(), write: s.write}
}
