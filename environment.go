package substrate

import (
	"context"
	"fmt"
	"sync"
)

// Environment is the pipeline-build entry point: it allocates BlockIds,
// owns the Network endpoint registry, and accumulates the block graph
// until Execute freezes and runs it. This is the generalization of the
// teacher's Builder/Pipe pair (builder.go, pipe.go) to the full spec'd
// operator set.
type Environment struct {
	cfg     *EnvironmentConfig
	network *Network
	blocks  []schedulable
	nextID  BlockID
}

// NewEnvironment returns an Environment governed by cfg. A nil cfg
// defaults to Local(1).
func NewEnvironment(cfg *EnvironmentConfig) *Environment {
	if cfg == nil {
		cfg = Local(1)
	}
	return &Environment{cfg: cfg, network: NewNetwork()}
}

func (env *Environment) allocBlockID() BlockID {
	id := env.nextID
	env.nextID++
	return id
}

// replicasFor resolves a block's replica count: an explicit
// max_parallelism override wins, otherwise it falls back to the
// environment's configured Parallelism (at least 1).
func (env *Environment) replicasFor(maxParallelism int) int {
	if maxParallelism > 0 {
		return maxParallelism
	}
	if env.cfg.Parallelism > 0 {
		return env.cfg.Parallelism
	}
	return 1
}

// validate rejects an invalid block graph before any replica starts -
// spec.md §7's "BuildError is returned synchronously from pipeline-build
// calls", applied at the point the graph is actually frozen (Execute,
// per spec.md §6) rather than at each individual builder call, since the
// builder accumulates blocks incrementally and a shuffle target whose
// downstream block was never closed is only detectable once the whole
// graph is in hand. Feedback marks are not checked.
func (env *Environment) validate() error {
	ids := make(map[BlockID]bool, len(env.blocks))
	for _, b := range env.blocks {
		ids[b.id()] = true
	}
	for _, b := range env.blocks {
		for _, t := range b.targets() {
			if !ids[t] {
				return &BuildError{Reason: fmt.Sprintf("block %d targets unregistered block %d", b.id(), t)}
			}
		}
	}
	return nil
}

// Execute topologically wires every block registered by the builder
// (every block was already produced in dependency order - sources first,
// by construction, since a StreamBuilder can only extend a graph it
// already holds a handle to), starts one goroutine per replica, and
// blocks until every replica has observed Terminate or one has failed
// fatally. On fatal failure it cancels the shared context, which every
// local endpoint and Start operator watches: a blocked Send fails (see
// network.go, batcher.go) and a blocked Recv returns, after which the
// Start synthesizes a Terminate for the rest of its chain. Source
// operators are not handed a Terminate: a source replica stops when its
// End's next Send fails, and a source blocked inside its own iterator is
// not interrupted.
func (env *Environment) Execute(ctx context.Context) error {
	if err := env.validate(); err != nil {
		return err
	}

	bufferSize := 256
	if env.cfg.BatchMode.Size > 0 {
		bufferSize = env.cfg.BatchMode.Size * 4
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	targetReplicaCounts := map[BlockID]int{}
	for _, b := range env.blocks {
		targetReplicaCounts[b.id()] = b.replicaCount()
	}
	for _, b := range env.blocks {
		b.wireReceivers(runCtx, env.network, bufferSize)
	}
	for _, b := range env.blocks {
		b.registerSenders(env.network, targetReplicaCounts)
	}

	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for _, b := range env.blocks {
		for r := 0; r < b.replicaCount(); r++ {
			wg.Add(1)
			go func(b schedulable, r int) {
				defer wg.Done()
				if err := b.run(runCtx, r, env.network, env.cfg); err != nil {
					once.Do(func() {
						firstErr = err
						env.cfg.logger().Errorf("replica failed, tearing down execution: %v", err)
						cancel()
					})
				}
			}(b, r)
		}
	}

	wg.Wait()
	return firstErr
}
