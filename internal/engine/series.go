// Package engine implements the bar-by-bar trade simulation. The trade
// sequencing algorithm lives here exactly once; backends differ only in how
// they produce the precomputed indicator series.
package engine

import (
	"math"

	"github.com/quantforge/tradesim/pkg/types"
)

// Series carries the per-bar arrays a backend precomputes before the
// sequential trade loop runs. All backends must produce bit-identical values
// for the same input; every implementation therefore goes through TrueRange
// and SmoothTrueRange so the float operations are the same in the same order.
type Series struct {
	// ATR holds the Wilder-smoothed average true range per bar, zero during
	// the warmup window. Empty when the input needs no ATR.
	ATR []float64
}

// Precomputer produces the Series for an input. Implementations live in the
// backend package: scalar, single-pass vectorized, and goroutine-parallel.
type Precomputer interface {
	Precompute(in *types.SimulationInput) (*Series, error)
}

// TrueRange returns the true range of bar i.
func TrueRange(bars []types.Bar, i int) float64 {
	if i == 0 {
		return bars[0].High - bars[0].Low
	}
	prevClose := bars[i-1].Close
	tr := bars[i].High - bars[i].Low
	if hc := math.Abs(bars[i].High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(bars[i].Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}

// SmoothTrueRange fills dst with the Wilder-smoothed ATR of tr. dst and tr
// must have equal length. Bars before the warmup window stay zero.
func SmoothTrueRange(tr []float64, period int, dst []float64) {
	if len(tr) < period {
		return
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	dst[period-1] = sum / float64(period)
	p := float64(period)
	for i := period; i < len(tr); i++ {
		dst[i] = (dst[i-1]*(p-1) + tr[i]) / p
	}
}
