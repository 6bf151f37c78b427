package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Run groups one batch of jobs dispatched to a shared Pool and tracks
// the aggregated outcome flag from the design: "An outcome boolean
// shared across jobs in a run is initialized true at run start and set
// false by any job that fails; stages inspect it after join."
type Run struct {
	pool    *Pool
	wg      sync.WaitGroup
	outcome atomic.Bool

	mu     sync.Mutex
	errors []error
}

// NewRun begins a run against pool, with its outcome initialized true.
func NewRun(pool *Pool) *Run {
	r := &Run{pool: pool}
	r.outcome.Store(true)
	return r
}

// Submit dispatches fn under tag. The submitter may call Join to await
// the whole batch, or never call it for fire-and-forget dispatch —
// either way the run's outcome flag reflects every job submitted
// through it.
func (r *Run) Submit(tag string, fn func(ctx context.Context) error) error {
	r.wg.Add(1)
	return r.pool.Submit(Job{
		Tag: tag,
		Fn: func(ctx context.Context) error {
			defer r.wg.Done()
			err := fn(ctx)
			if err != nil {
				r.outcome.Store(false)
				r.mu.Lock()
				r.errors = append(r.errors, err)
				r.mu.Unlock()
			}
			return err
		},
	})
}

// Join blocks until every job submitted to this run has completed and
// returns the aggregated outcome: true only if every job succeeded.
func (r *Run) Join() bool {
	r.wg.Wait()
	return r.outcome.Load()
}

// Errors returns every error recorded by a failed job in this run, in
// the order workers observed them (not necessarily submission order).
func (r *Run) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error{}, r.errors...)
}
