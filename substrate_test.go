package substrate

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// sliceSource returns a Source that emits each element of vs, once, across
// a single replica, then Terminates - the fixture every scenario below
// builds its pipeline on top of.
func sliceSource[T any](name string, vs []T) Source[T] {
	return NewIteratorSource[T](name, func(md Metadata) func() (T, bool) {
		i := 0
		return func() (T, bool) {
			if i >= len(vs) {
				var zero T
				return zero, false
			}
			v := vs[i]
			i++
			return v, true
		}
	})
}

func runWithTimeout(t *testing.T, env *Environment, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := env.Execute(ctx); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

// Scenario 1 (spec.md §8): word count. A single source record holding a
// line of text, tokenized by flat_map and counted by key - the result must
// not depend on how many replicas the tokenizer runs at.
func TestWordCount(t *testing.T) {
	env := NewEnvironment(Local(1))

	lines := []string{"the quick brown fox the lazy dog the"}
	src := sliceSource("lines", lines)

	b := Stream(env, src)
	words := FlatMap(b, "tokenize", func(line string) []string {
		return strings.Fields(strings.ToLower(line))
	})
	counts := GroupByCount(words, func(w string) string { return w })
	out := CollectGlobalMap(counts)

	runWithTimeout(t, env, 5*time.Second)

	want := map[string]int{"the": 3, "quick": 1, "brown": 1, "fox": 1, "lazy": 1, "dog": 1}
	if len(*out) != len(want) {
		t.Fatalf("got %d distinct words, want %d: %v", len(*out), len(want), *out)
	}
	for w, n := range want {
		if (*out)[w] != n {
			t.Errorf("count[%q] = %d, want %d", w, (*out)[w], n)
		}
	}
}

// Scenario 2 (spec.md §8): local fold concatenating digits 0..9 must
// produce one string holding every digit exactly once regardless of local
// parallelism, since the global stage always runs at max_parallelism=1.
// Concatenation is not commutative and the Random shuffle spreads the
// digits across replicas, so the assertion compares the sorted digits.
func TestFoldConcatDigitsParallelismInvariant(t *testing.T) {
	for _, localParallelism := range []int{1, 3} {
		env := NewEnvironment(Local(1))

		digits := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
		src := sliceSource("digits", digits)

		b := Stream(env, src)
		// fan the single source out to localParallelism replicas before
		// folding, so the local stage genuinely runs at that parallelism
		// and the property under test - result independent of it - is
		// actually exercised rather than assumed.
		partitioned := Shuffle(b, RandomStrategy[string](), localParallelism)
		folded := Fold(partitioned, func() string { return "" },
			func(acc string, v string) string { return acc + v },
			func(a, b string) string { return a + b },
		)
		out := CollectGlobal(folded)

		runWithTimeout(t, env, 5*time.Second)

		if len(*out) != 1 {
			t.Fatalf("localParallelism=%d: got %d results, want 1: %v", localParallelism, len(*out), *out)
		}
		sorted := sortDigitString((*out)[0])
		if sorted != "0123456789" {
			t.Errorf("localParallelism=%d: sorted digits = %q, want %q (raw %q)", localParallelism, sorted, "0123456789", (*out)[0])
		}
	}
}

// sortDigitString sorts the bytes of s - with one local replica the
// global fold sees the digits in source order, but with several the
// Random shuffle and the arrival order of the partial strings decide it.
func sortDigitString(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		for j := i + 1; j < len(b); j++ {
			if b[j] < b[i] {
				b[i], b[j] = b[j], b[i]
			}
		}
	}
	return string(b)
}

// Scenario 3 (spec.md §8): keyed reduce on [(a,1),(b,2),(a,3),(b,4),(a,5)]
// must yield {a: 9, b: 6}.
func TestGroupByReduceSum(t *testing.T) {
	env := NewEnvironment(Local(1))

	type pair struct {
		key string
		val int
	}
	pairs := []pair{{"a", 1}, {"b", 2}, {"a", 3}, {"b", 4}, {"a", 5}}
	src := sliceSource("pairs", pairs)

	b := Stream(env, src)
	kvs := Map(b, "to-kv", func(p pair) KV[string, int] { return KV[string, int]{Key: p.key, Value: p.val} })
	reduced := GroupByReduce(kvs, func(kv KV[string, int]) string { return kv.Key },
		func(a, b KV[string, int]) KV[string, int] { return KV[string, int]{Key: a.Key, Value: a.Value + b.Value} },
	)
	out := CollectGlobalMap(reduced)

	runWithTimeout(t, env, 5*time.Second)

	want := map[string]int{"a": 9, "b": 6}
	for k, v := range want {
		kv, ok := (*out)[k]
		if !ok {
			t.Fatalf("missing key %q in %v", k, *out)
		}
		if kv.Value != v {
			t.Errorf("sum[%q] = %d, want %d", k, kv.Value, v)
		}
	}
}

// Scenario 4 (spec.md §8): broadcast control. Source parallelism 4 shuffled
// All into a downstream block of parallelism 2 - every downstream replica's
// Start must observe exactly 4 Terminates (one per upstream replica)
// before forwarding its own, never fewer and never more. This is a
// white-box test of Start directly (expectedSenders is exactly the
// upstream replica count under every NextStrategy, since End always
// broadcasts control elements regardless of strategy), since the fan-in
// count is not observable once Start has collapsed it to a single
// forwarded Terminate.
func TestBroadcastTerminateCount(t *testing.T) {
	const upstreamReplicas = 4

	s := newStart[int](upstreamReplicas)
	ch := make(chan []StreamElement[int], upstreamReplicas)
	s.ctx = context.Background()
	s.recv = &receiver[int]{channel: ch}
	s.setupCalled = true

	for i := 0; i < upstreamReplicas; i++ {
		ch <- []StreamElement[int]{Terminate[int]()}
	}
	close(ch)

	// a single Next() call drains every queued batch internally (the
	// swallow-and-continue loop never returns control between them), so
	// the replica driver - which stops at its first observed Terminate -
	// only ever sees this one call.
	e := s.Next()
	if e.Kind != KindTerminate {
		t.Fatalf("Start.Next() = %v, want Terminate", e.Kind)
	}
	if s.received != upstreamReplicas {
		t.Fatalf("Start.received = %d, want %d", s.received, upstreamReplicas)
	}
}

// fakeEndpoint records every batch Send receives, standing in for a real
// Endpoint so End's routing can be observed directly without wiring a
// Network.
type fakeEndpoint[T any] struct {
	mu     sync.Mutex
	sent   [][]StreamElement[T]
	closed bool
}

func (f *fakeEndpoint[T]) Send(batch []StreamElement[T]) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, batch)
	return nil
}

func (f *fakeEndpoint[T]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEndpoint[T]) allKinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []Kind
	for _, batch := range f.sent {
		for _, e := range batch {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Scenario 5 (spec.md §8): feedback loop. An End whose sender group is
// marked as the feedback destination must never enqueue Terminate there,
// while every other (non-feedback) group still receives it exactly once -
// a white-box test of End directly, the same way TestBroadcastTerminateCount
// exercises Start directly, since a real cyclic graph cannot be expressed
// through the acyclic StreamBuilder without a merge operator.
func TestFeedbackLoopSkipsTerminate(t *testing.T) {
	feedbackEP := &fakeEndpoint[int]{}
	sinkEP := &fakeEndpoint[int]{}

	feedbackRE := ReceiverEndpoint{Coord: Coord{BlockID: 1, Replica: 0}, ChanID: 0}
	sinkRE := ReceiverEndpoint{Coord: Coord{BlockID: 2, Replica: 0}, ChanID: 0}

	e := newEnd[int](AllStrategy[int](), []BlockID{1, 2})
	e.MarkFeedback(1)
	e.upstream = sliceSource("seed", []int{1, 2, 3})
	e.groups = []*senderGroup[int]{
		{blockID: 1, feedback: true, senders: []*sender[int]{{endpoint: feedbackRE, batcher: NewBatcher[int](feedbackEP, SingleBatch(), nil)}}},
		{blockID: 2, feedback: false, senders: []*sender[int]{{endpoint: sinkRE, batcher: NewBatcher[int](sinkEP, SingleBatch(), nil)}}},
	}
	e.network = NewNetwork()

	if err := e.upstream.Setup(context.Background(), Metadata{}); err != nil {
		t.Fatalf("upstream setup: %v", err)
	}
	for {
		if elem := e.Next(); elem.Kind == KindTerminate {
			break
		}
	}

	feedbackKinds := feedbackEP.allKinds()
	for _, k := range feedbackKinds {
		if k == KindTerminate {
			t.Fatalf("feedback group received Terminate, kinds = %v", feedbackKinds)
		}
	}

	sinkKinds := sinkEP.allKinds()
	terminates := 0
	for _, k := range sinkKinds {
		if k == KindTerminate {
			terminates++
		}
	}
	if terminates != 1 {
		t.Fatalf("non-feedback group saw %d Terminates, want exactly 1 (kinds = %v)", terminates, sinkKinds)
	}
}

// Scenario 6 (spec.md §8): tumbling window sum, size 10, over timestamped
// (ts, val) pairs (0,10) (1,20) (2,30) (10,40) (11,50) must emit 60 then 90.
func TestWindowSum(t *testing.T) {
	env := NewEnvironment(Local(1))

	type sample struct {
		ts  int64
		val int
	}
	samples := []sample{{0, 10}, {1, 20}, {2, 30}, {10, 40}, {11, 50}}

	src := NewIteratorSource[sample]("samples", func(md Metadata) func() (sample, bool) {
		i := 0
		return func() (sample, bool) {
			if i >= len(samples) {
				return sample{}, false
			}
			s := samples[i]
			i++
			return s, true
		}
	})

	b := Stream(env, src)
	timestamped := timestampOp(b.chain, func(s sample) time.Time { return time.Unix(s.ts, 0) })
	b.chain = timestamped

	summed := WindowSum(b, func(s sample) string { return "all" },
		func(s sample) int { return s.val },
		10*time.Second,
	)
	out := CollectGlobalMap(summed)

	runWithTimeout(t, env, 5*time.Second)

	kv, ok := (*out)["all"]
	if !ok {
		t.Fatalf("missing key %q in %v", "all", *out)
	}
	// the global stage sums every window's local partial in turn; the last
	// value written under one key in a map-collect sink is whichever window
	// landed last, so assert against the final window's sum (90) and rely
	// on TestWindowSumSequence below for the full emission sequence.
	if kv.Value != 90 {
		t.Errorf("window sum = %d, want 90", kv.Value)
	}
}

// TestWindowSumSequence verifies the full ordered emission sequence (60
// then 90) by collecting into a slice instead of a map.
func TestWindowSumSequence(t *testing.T) {
	env := NewEnvironment(Local(1))

	type sample struct {
		ts  int64
		val int
	}
	samples := []sample{{0, 10}, {1, 20}, {2, 30}, {10, 40}, {11, 50}}

	src := NewIteratorSource[sample]("samples", func(md Metadata) func() (sample, bool) {
		i := 0
		return func() (sample, bool) {
			if i >= len(samples) {
				return sample{}, false
			}
			s := samples[i]
			i++
			return s, true
		}
	})

	b := Stream(env, src)
	b.chain = timestampOp(b.chain, func(s sample) time.Time { return time.Unix(s.ts, 0) })

	summed := WindowSum(b, func(s sample) string { return "all" },
		func(s sample) int { return s.val },
		10*time.Second,
	)
	sums := Map(summed, "value-only", func(kv KV[string, int]) int { return kv.Value })
	out := CollectGlobal(sums)

	runWithTimeout(t, env, 5*time.Second)

	if len(*out) != 2 {
		t.Fatalf("got %d window emissions, want 2: %v", len(*out), *out)
	}
	if (*out)[0] != 60 || (*out)[1] != 90 {
		t.Errorf("window sums = %v, want [60 90]", *out)
	}
}

// TestExecuteRejectsDanglingTarget exercises Environment.validate: a
// Shuffle closes the upstream block with a target pointing at the new
// downstream block id, but that downstream block is only actually
// registered once something closes it in turn (a further shuffle or a
// sink via To/CollectGlobal). Discarding the returned handle without
// closing it leaves a dangling target, and Execute must reject the graph
// synchronously with a *BuildError rather than let replica goroutines
// start against an unregistered block.
func TestExecuteRejectsDanglingTarget(t *testing.T) {
	env := NewEnvironment(Local(1))

	src := sliceSource("nums", []int{1, 2, 3})
	b := Stream(env, src)
	Shuffle(b, RandomStrategy[int](), 1) // returned handle intentionally never closed

	err := env.Execute(context.Background())
	if err == nil {
		t.Fatal("Execute: want BuildError for dangling shuffle target, got nil")
	}
	if _, ok := err.(*BuildError); !ok {
		t.Fatalf("Execute: want *BuildError, got %T: %v", err, err)
	}
}

// timestampOp stamps every Item element with ts(v), turning a plain Source
// into a Timestamped one - the fixture stand-in for a source that natively
// carries event time.
type timestampOpT[T any] struct {
	upstream Operator[T]
	ts       func(T) time.Time
}

func timestampOp[T any](upstream Operator[T], ts func(T) time.Time) Operator[T] {
	return &timestampOpT[T]{upstream: upstream, ts: ts}
}

func (o *timestampOpT[T]) Setup(ctx context.Context, md Metadata) error { return o.upstream.Setup(ctx, md) }

func (o *timestampOpT[T]) Next() StreamElement[T] {
	e := o.upstream.Next()
	if e.Kind == KindItem {
		return Timestamped(e.Item, o.ts(e.Item))
	}
	return e
}

func (o *timestampOpT[T]) Structure() OperatorStructure { return o.upstream.Structure() }

func (o *timestampOpT[T]) Clone() Operator[T] {
	return &timestampOpT[T]{upstream: o.upstream.Clone(), ts: o.ts}
}
