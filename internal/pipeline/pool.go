package pipeline

import (
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sca/pkg/types"
)

// WorkerPool runs tasks with fixed concurrency and a bounded feed queue
// (capacity 2×C), so a slow stage backpressures its producer instead of
// buffering unboundedly.
type WorkerPool struct {
	concurrency int
	queueCap    int
}

// NewWorkerPool creates a pool with the given concurrency; the feed queue
// capacity defaults to twice the concurrency.
func NewWorkerPool(concurrency int) (*WorkerPool, *types.ErrorEnvelope) {
	if concurrency < 1 {
		return nil, types.Expected(types.CodeInvalidValue, "worker pool concurrency must be >= 1")
	}
	return &WorkerPool{concurrency: concurrency, queueCap: 2 * concurrency}, nil
}

// Concurrency returns the worker count.
func (p *WorkerPool) Concurrency() int { return p.concurrency }

// MapOrdered applies fn to every input and returns the outputs in input-index
// order regardless of completion order. Side-effects inside fn happen in
// completion order; callers needing input-order side-effects serialize on the
// consumer side. The first failure cancels remaining work and is returned;
// cancellation surfaces as core:cancelled.
func MapOrdered[I, O any](rc *types.RequestContext, pool *WorkerPool, inputs []I, fn func(rc *types.RequestContext, index int, input I) (O, *types.ErrorEnvelope)) ([]O, *types.ErrorEnvelope) {
	if env := rc.EnsureNotCancelled("pool.map"); env != nil {
		return nil, env
	}

	results := make([]O, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(rc.Context())
	grc := types.WithCorrelationID(gctx, rc.CorrelationID())

	feed := make(chan int, pool.queueCap)
	g.Go(func() error {
		defer close(feed)
		for i := range inputs {
			select {
			case feed <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < pool.concurrency; w++ {
		g.Go(func() error {
			for index := range feed {
				if env := grc.EnsureNotCancelled("pool.worker"); env != nil {
					return env
				}
				out, env := fn(grc, index, inputs[index])
				if env != nil {
					return env
				}
				results[index] = out
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		env := types.AsEnvelope(err)
		// When the group was torn down by the caller's cancellation, report
		// cancellation rather than the racing worker error.
		if cancelEnv := rc.EnsureNotCancelled("pool.map"); cancelEnv != nil && !env.IsCancelled() {
			return nil, cancelEnv
		}
		return nil, env
	}

	if env := rc.EnsureNotCancelled("pool.map"); env != nil {
		return nil, env
	}
	return results, nil
}
