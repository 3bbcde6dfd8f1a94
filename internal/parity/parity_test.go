package parity

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/tradesim/internal/backend"
	"github.com/quantforge/tradesim/pkg/types"
)

// randomWalkInput builds a seeded random-walk series with periodic signals,
// exercising ATR stops, a take-profit and both directions.
func randomWalkInput(seed int64, n int) *types.SimulationInput {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]types.Bar, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		step := rng.NormFloat64()
		open := price
		close := price + step
		spread := math.Abs(rng.NormFloat64()) + 0.1
		bars[i] = types.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, close) + spread,
			Low:       math.Min(open, close) - spread,
			Close:     close,
			Volume:    1000 + rng.Float64()*500,
		}
		price = close
	}

	in := &types.SimulationInput{
		Bars: bars,
		Signals: types.SignalSet{
			LongEntry:  make([]bool, n),
			LongExit:   make([]bool, n),
			ShortEntry: make([]bool, n),
			ShortExit:  make([]bool, n),
		},
		InitialCapital: 10000,
		Direction:      types.DirectionFilterBoth,
		Sizing:         types.SizingConfig{Mode: types.SizingRiskBased, RiskPerTrade: 0.01, Fraction: 0.1},
		Stop:           types.StopConfig{Mode: types.StopModeATR, ATRMult: 2},
		TakeProfit:     types.TakeProfitConfig{Mode: types.TakeProfitFixedPct, Pct: 0.04},
		FeeRate:        0.001,
		SlippageRate:   0.0005,
	}
	for i := 20; i < n-1; i++ {
		if rng.Float64() < 0.05 {
			in.Signals.LongEntry[i] = true
		}
		if rng.Float64() < 0.05 {
			in.Signals.ShortEntry[i] = true
		}
		if rng.Float64() < 0.03 {
			in.Signals.LongExit[i] = true
			in.Signals.ShortExit[i] = true
		}
	}
	return in
}

func TestBackendsAgreeOnRandomizedInput(t *testing.T) {
	backends := []backend.Backend{
		backend.NewAccelerated(nil),
		backend.NewParallel(nil, 4),
	}

	for _, seed := range []int64{1, 2, 3} {
		in := randomWalkInput(seed, 1000)
		ref, err := backend.NewReference(nil).Run(in)
		require.NoError(t, err)
		require.NotEmpty(t, ref.Trades, "seed %d produced no trades", seed)

		for _, b := range backends {
			out, err := b.Run(in)
			require.NoError(t, err)

			report := Compare(ref, out, DefaultTolerance)
			assert.True(t, report.Pass,
				"seed %d, %s vs %s: %+v", seed, ref.Backend, out.Backend, report.Deltas)
		}
	}
}

func TestCompareReportsTradeCountMismatch(t *testing.T) {
	in := randomWalkInput(4, 400)
	ref, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)
	require.NotEmpty(t, ref.Trades)

	cand := *ref
	cand.Trades = cand.Trades[:len(cand.Trades)-1]

	report := Compare(ref, &cand, 0)
	assert.False(t, report.Pass)
	require.NotEmpty(t, report.Deltas)
	assert.Equal(t, "trades", report.Deltas[0].Where)
}

func TestCompareFlagsIdentityFields(t *testing.T) {
	in := randomWalkInput(5, 400)
	ref, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)
	require.NotEmpty(t, ref.Trades)

	cand, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)

	cand.Trades[0].ExitReason = types.ExitReasonSignal + "x"
	report := Compare(ref, cand, 0)
	assert.False(t, report.Pass)

	found := false
	for _, d := range report.Deltas {
		if d.Where == "trades[0].exitReason" {
			found = true
		}
	}
	assert.True(t, found, "exit reason mismatch not reported: %+v", report.Deltas)
}

func TestCompareToleratesTinyPnLDrift(t *testing.T) {
	in := randomWalkInput(6, 400)
	ref, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)
	require.NotEmpty(t, ref.Trades)

	cand, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)

	// Drift far below the tolerance passes; drift far above fails.
	pnl, _ := cand.Trades[0].PnLNet.Float64()
	cand.Trades[0].PnLNet = cand.Trades[0].PnLNet.Add(decimal.NewFromFloat(pnl * 1e-9))
	assert.True(t, Compare(ref, cand, 1e-6).Pass)

	cand.Trades[0].PnLNet = cand.Trades[0].PnLNet.Add(decimal.NewFromFloat(math.Copysign(1, pnl)))
	report := Compare(ref, cand, 1e-6)
	assert.False(t, report.Pass)
}

func TestRelDiffNearZeroUsesAbsolute(t *testing.T) {
	assert.InDelta(t, 1e-9, relDiff(0, 1e-9), 1e-15)
	assert.InDelta(t, 0.5, relDiff(100, 50), 1e-12)
}

func TestRepeatedRunsAreByteIdentical(t *testing.T) {
	in := randomWalkInput(7, 600)
	a, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)
	b, err := backend.NewReference(nil).Run(in)
	require.NoError(t, err)

	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.Equal(t, a.Trades[i].ID, b.Trades[i].ID)
		assert.True(t, a.Trades[i].PnLNet.Equal(b.Trades[i].PnLNet))
		assert.True(t, a.Trades[i].EntryPrice.Equal(b.Trades[i].EntryPrice))
	}
}
