package substrate

import "context"

// Source is the external source interface (spec.md §6): an Operator[T]
// with no upstream of its own. Its first act after Setup is implicit in
// Metadata.Parallelism, which already carries the replica count the
// scheduler resolved for this block - the generalization of "announce
// replica count to the scheduler" for a core that resolves parallelism
// at pipeline-build time rather than after the source has started.
//
// It emits Item/Timestamped freely, Watermark at its discretion, and
// exactly one Terminate when exhausted.
type Source[T any] interface {
	Operator[T]
}

// iteratorSource adapts a per-replica func()(T,bool) iterator factory
// into a Source[T]. newIter is called once per replica, at Setup, so
// each replica gets its own independent iterator instance (the direct
// generalization of a partition-aware file/channel source).
type iteratorSource[T any] struct {
	name    string
	newIter func(md Metadata) func() (T, bool)
	iter    func() (T, bool)
	done    bool
}

// NewIteratorSource returns a Source[T] that pulls from the iterator
// newIter produces for each replica, emitting one Item per (v, true) and
// Terminate on the first (_, false).
func NewIteratorSource[T any](name string, newIter func(md Metadata) func() (T, bool)) Source[T] {
	return &iteratorSource[T]{name: name, newIter: newIter}
}

func (s *iteratorSource[T]) Setup(ctx context.Context, md Metadata) error {
	s.iter = s.newIter(md)
	return nil
}

func (s *iteratorSource[T]) Next() StreamElement[T] {
	if s.done {
		return Terminate[T]()
	}
	v, ok := s.iter()
	if !ok {
		s.done = true
		return Terminate[T]()
	}
	return Item(v)
}

func (s *iteratorSource[T]) Structure() OperatorStructure {
	return OperatorStructure{Name: "Source(" + s.name + ")"}
}

func (s *iteratorSource[T]) Clone() Operator[T] {
	return &iteratorSource[T]{name: s.name, newIter: s.newIter}
}
