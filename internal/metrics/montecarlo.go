package metrics

import (
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/quantforge/tradesim/pkg/types"
)

// ruinThreshold marks a resampled path as ruined once equity loses half of
// its starting value.
const ruinThreshold = 0.5

// MonteCarlo reshuffles the order of realized trade outcomes to estimate the
// dispersion of the strategy's path. The generator is seeded from the config,
// so results are reproducible for the same input.
type MonteCarlo struct {
	logger *zap.Logger
	config types.MonteCarloConfig
	rng    *rand.Rand
}

// NewMonteCarlo creates a seeded resampler.
func NewMonteCarlo(logger *zap.Logger, config types.MonteCarloConfig) *MonteCarlo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonteCarlo{
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Run resamples the ledger and returns percentile statistics of the total
// return relative to the initial capital.
func (mc *MonteCarlo) Run(trades []types.TradeRecord, initialCapital float64) *types.MonteCarloResult {
	if len(trades) == 0 || initialCapital <= 0 {
		return &types.MonteCarloResult{}
	}

	outcomes := make([]float64, len(trades))
	for i, t := range trades {
		pnl, _ := t.PnLNet.Float64()
		outcomes[i] = pnl / initialCapital
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	totals := make([]float64, iterations)
	drawdowns := make([]float64, iterations)
	ruined := 0
	shuffled := make([]float64, len(outcomes))

	for it := 0; it < iterations; it++ {
		copy(shuffled, outcomes)
		mc.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		equity, peak, maxDD := 1.0, 1.0, 0.0
		isRuin := false
		for _, r := range shuffled {
			equity += r
			if equity > peak {
				peak = equity
			}
			if peak > 0 {
				if dd := (peak - equity) / peak; dd > maxDD {
					maxDD = dd
				}
			}
			if equity <= ruinThreshold {
				isRuin = true
			}
		}
		totals[it] = equity - 1
		drawdowns[it] = maxDD
		if isRuin {
			ruined++
		}
	}

	sort.Float64s(totals)
	sort.Float64s(drawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    percentile(totals, 50),
		P5Return:        percentile(totals, 5),
		P95Return:       percentile(totals, 95),
		ProbabilityRuin: float64(ruined) / float64(iterations),
		MaxDrawdownP95:  percentile(drawdowns, 95),
	}

	mc.logger.Debug("monte carlo resampling complete",
		zap.Int("iterations", iterations),
		zap.Float64("medianReturn", result.MedianReturn),
		zap.Float64("probabilityRuin", result.ProbabilityRuin),
	)
	return result
}

func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * pct / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
