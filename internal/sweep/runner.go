// Package sweep executes many independent simulations concurrently. Runs
// share no state, so the model is plain worker goroutines draining a job
// channel; each run itself stays single-threaded and deterministic.
package sweep

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/tradesim/internal/backend"
	"github.com/quantforge/tradesim/internal/telemetry"
	"github.com/quantforge/tradesim/pkg/types"
)

// Result pairs one sweep input with its outcome. Index refers to the
// position in the submitted slice, so results keep a stable order regardless
// of completion order.
type Result struct {
	Index  int
	Output *types.SimulationOutput
	Err    error
}

// Config tunes the runner.
type Config struct {
	// Workers is the number of concurrent simulations. Zero or below means
	// one per CPU.
	Workers int
}

// Runner fans a batch of simulation inputs out over a worker pool.
type Runner struct {
	logger    *zap.Logger
	registry  *backend.Registry
	telemetry *telemetry.Metrics
	workers   int
}

// NewRunner creates a sweep runner. telemetry may be nil to disable
// instrumentation.
func NewRunner(logger *zap.Logger, registry *backend.Registry, tm *telemetry.Metrics, cfg Config) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		logger:    logger,
		registry:  registry,
		telemetry: tm,
		workers:   workers,
	}
}

// Run executes all inputs on the named backend and returns one Result per
// input, in input order. The backend is resolved once up front: an
// unavailable backend fails the sweep before any work starts rather than
// substituting a different one. Cancelling the context stops dispatch;
// already-running simulations complete (a run is bounded by its series and
// finishes atomically), and inputs that never dispatched come back with the
// context's error in their Result.
func (r *Runner) Run(ctx context.Context, backendName string, inputs []*types.SimulationInput) ([]Result, error) {
	b, err := r.registry.Get(backendName)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting sweep",
		zap.String("backend", backendName),
		zap.Int("inputs", len(inputs)),
		zap.Int("workers", r.workers),
	)
	started := time.Now()

	jobs := make(chan int)
	results := make([]Result, len(inputs))
	for i := range results {
		results[i].Index = i
	}
	var wg sync.WaitGroup

	for w := 0; w < r.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = r.runOne(b, idx, inputs[idx])
			}
		}()
	}

dispatch:
	for idx := range inputs {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Slots that never dispatched carry the cancellation error so
		// callers can tell them apart from runs that produced nothing.
		for i := range results {
			if results[i].Output == nil && results[i].Err == nil {
				results[i].Err = err
			}
		}
		return results, err
	}

	failed := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		}
	}
	r.logger.Info("sweep complete",
		zap.Int("inputs", len(inputs)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(started)),
	)
	return results, nil
}

func (r *Runner) runOne(b backend.Backend, idx int, in *types.SimulationInput) Result {
	if r.telemetry != nil {
		r.telemetry.RunsStarted.Inc()
	}
	started := time.Now()

	out, err := b.Run(in)
	res := Result{Index: idx, Output: out, Err: err}

	if r.telemetry == nil {
		return res
	}
	if err != nil {
		r.telemetry.RunsFailed.Inc()
		return res
	}
	r.telemetry.RunsCompleted.Inc()
	r.telemetry.RunDuration.Observe(time.Since(started).Seconds())
	r.telemetry.TradesPerRun.Observe(float64(len(out.Trades)))
	if out.ComputationFallbacks > 0 {
		r.telemetry.Fallbacks.Add(float64(out.ComputationFallbacks))
	}
	return res
}
