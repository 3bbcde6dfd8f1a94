package backend

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/tradesim/internal/engine"
	"github.com/quantforge/tradesim/internal/metrics"
	"github.com/quantforge/tradesim/internal/validate"
	"github.com/quantforge/tradesim/pkg/types"
)

// runner is the shared skeleton of every backend: validate, precompute the
// indicator series, run the one trade-sequencing algorithm, derive metrics.
// Backends inject only the precompute step, so they cannot drift apart
// algorithmically.
type runner struct {
	name   string
	logger *zap.Logger
	eng    *engine.Engine
	pre    engine.Precomputer
}

func newRunner(name string, logger *zap.Logger, pre engine.Precomputer) *runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runner{
		name:   name,
		logger: logger.With(zap.String("backend", name)),
		eng:    engine.New(logger),
		pre:    pre,
	}
}

func (r *runner) Name() string { return r.name }

func (r *runner) Run(in *types.SimulationInput) (*types.SimulationOutput, error) {
	if err := validate.Check(in); err != nil {
		out := &types.SimulationOutput{Backend: r.name}
		var verrs *types.ValidationErrors
		if errors.As(err, &verrs) {
			out.Errors = verrs.Messages()
		}
		return out, err
	}
	started := time.Now()

	series, err := r.pre.Precompute(in)
	if err != nil {
		return nil, fmt.Errorf("precompute: %w", err)
	}

	out := r.eng.Simulate(in, series)
	out.Backend = r.name
	out.Metrics = metrics.Compute(out.Trades, out.Equity, in)
	if in.MonteCarlo.Enabled {
		mc := metrics.NewMonteCarlo(r.logger, in.MonteCarlo)
		out.MonteCarlo = mc.Run(out.Trades, in.InitialCapital)
	}
	out.Duration = time.Since(started)

	r.logger.Debug("simulation complete",
		zap.Int("bars", len(in.Bars)),
		zap.Int("trades", len(out.Trades)),
		zap.Duration("duration", out.Duration),
	)
	return out, nil
}

// scalarPrecomputer computes the series one bar at a time, the way the
// sequential reference loop would. Ground truth for correctness.
type scalarPrecomputer struct{}

func (scalarPrecomputer) Precompute(in *types.SimulationInput) (*engine.Series, error) {
	s := &engine.Series{}
	if !in.NeedsATR() {
		return s, nil
	}
	period := in.EffectiveATRPeriod()
	tr := make([]float64, len(in.Bars))
	for i := range in.Bars {
		tr[i] = engine.TrueRange(in.Bars, i)
	}
	s.ATR = make([]float64, len(in.Bars))
	engine.SmoothTrueRange(tr, period, s.ATR)
	return s, nil
}

// NewReference creates the sequential reference backend.
func NewReference(logger *zap.Logger) Backend {
	return newRunner(NameReference, logger, scalarPrecomputer{})
}

// vectorPrecomputer computes the series in tight array passes with a single
// allocation block. Same operations in the same order as the scalar
// precomputer, so the output is bit-identical.
type vectorPrecomputer struct{}

func (vectorPrecomputer) Precompute(in *types.SimulationInput) (*engine.Series, error) {
	s := &engine.Series{}
	if !in.NeedsATR() {
		return s, nil
	}
	n := len(in.Bars)
	buf := make([]float64, 2*n)
	tr, atr := buf[:n], buf[n:]

	bars := in.Bars
	tr[0] = bars[0].High - bars[0].Low
	for i := 1; i < n; i++ {
		tr[i] = engine.TrueRange(bars, i)
	}
	engine.SmoothTrueRange(tr, in.EffectiveATRPeriod(), atr)
	s.ATR = atr
	return s, nil
}

// NewAccelerated creates the vectorized backend.
func NewAccelerated(logger *zap.Logger) Backend {
	return newRunner(NameAccelerated, logger, vectorPrecomputer{})
}

// parallelPrecomputer fans the element-wise true-range pass out across
// worker goroutines and runs the inherently sequential Wilder smoothing
// afterwards. True range of bar i depends only on bars i-1 and i, so chunk
// boundaries need no coordination and results match the scalar pass exactly.
type parallelPrecomputer struct {
	workers int
}

func (p parallelPrecomputer) Precompute(in *types.SimulationInput) (*engine.Series, error) {
	s := &engine.Series{}
	if !in.NeedsATR() {
		return s, nil
	}
	n := len(in.Bars)
	tr := make([]float64, n)

	workers := p.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				tr[i] = engine.TrueRange(in.Bars, i)
			}
		}(start, end)
	}
	wg.Wait()

	s.ATR = make([]float64, n)
	engine.SmoothTrueRange(tr, in.EffectiveATRPeriod(), s.ATR)
	return s, nil
}

// NewParallel creates the data-parallel backend. Only the batched indicator
// phase runs concurrently; the trade-sequencing loop stays sequential, after
// the parallel phase has completed. workers <= 0 uses one worker per CPU.
func NewParallel(logger *zap.Logger, workers int) Backend {
	return newRunner(NameParallel, logger, parallelPrecomputer{workers: workers})
}
