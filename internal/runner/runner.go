package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result captures execution summary.
type Result struct {
	Total    int64
	Errors   int64
	Duration time.Duration
}

// Runner coordinates concurrent execution with rate limiting.
type Runner struct {
	opt     Options
	arrival arrivalController
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, arrival: newArrivalController(opt)}
}

// Run blocks until the total is reached, the duration elapses or ctx is
// cancelled, then waits for in-flight attempts.
//
// The duration cap only stops new attempts from starting. Attempts run on
// ctx itself, so one that is in flight when the cap expires completes and is
// bounded by the client's own timeout. Cancelling ctx aborts them.
func (r *Runner) Run(ctx context.Context) Result {
	start := time.Now()

	issueCtx, stop := r.issueContext(ctx)
	defer stop()
	permits := r.schedule(issueCtx)

	var total, errs atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.opt.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range permits {
				// A permit handed over as the cap expired is dropped.
				if issueCtx.Err() != nil {
					continue
				}
				total.Add(1)
				if r.opt.Requester == nil {
					continue
				}
				if err := r.opt.Requester.Do(ctx); err != nil {
					errs.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Total:    total.Load(),
		Errors:   errs.Load(),
		Duration: time.Since(start),
	}
}

// issueContext gates the scheduler: it ends with ctx or when the duration
// cap expires.
func (r *Runner) issueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opt.Duration > 0 {
		return context.WithTimeout(ctx, r.opt.Duration)
	}
	return context.WithCancel(ctx)
}

// schedule hands out one permit per attempt from a single goroutine so the
// arrival model paces all workers together. The channel is unbuffered, so a
// permit is only issued to a worker that is ready to start. It is closed once
// the total is reached or ctx ends.
func (r *Runner) schedule(ctx context.Context) <-chan struct{} {
	permits := make(chan struct{})
	go func() {
		defer close(permits)
		var issued int64
		limit := int64(r.opt.TotalRequests)
		for limit <= 0 || issued < limit {
			if ctx.Err() != nil {
				return
			}
			if r.arrival != nil {
				if err := r.arrival.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case permits <- struct{}{}:
				issued++
			case <-ctx.Done():
				return
			}
		}
	}()
	return permits
}
