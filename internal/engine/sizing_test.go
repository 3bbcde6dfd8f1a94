package engine

import (
	"math"
	"testing"

	"github.com/quantforge/tradesim/pkg/types"
)

func TestEntrySizeFixedFraction(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingFixedFraction, Fraction: 0.25},
	}
	size, compErr := entrySize(in, &Series{}, 10000, 50, 0)
	if compErr != nil {
		t.Fatalf("unexpected fallback: %+v", compErr)
	}
	if want := 10000 * 0.25 / 50.0; size != want {
		t.Errorf("size: got %v, want %v", size, want)
	}

	in.Leverage = 3
	size, _ = entrySize(in, &Series{}, 10000, 50, 0)
	if want := 10000 * 0.25 * 3 / 50.0; size != want {
		t.Errorf("levered size: got %v, want %v", size, want)
	}
}

func TestEntrySizeFixedNotional(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingFixedNotional, Notional: 2000},
	}
	size, compErr := entrySize(in, &Series{}, 10000, 80, 0)
	if compErr != nil {
		t.Fatalf("unexpected fallback: %+v", compErr)
	}
	if want := 2000 / 80.0; size != want {
		t.Errorf("size: got %v, want %v", size, want)
	}
}

func TestEntrySizeRiskBased(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingRiskBased, RiskPerTrade: 0.01},
		Stop:   types.StopConfig{Mode: types.StopModeFixedPct, Pct: 0.02},
	}
	size, compErr := entrySize(in, &Series{}, 10000, 100, 0)
	if compErr != nil {
		t.Fatalf("unexpected fallback: %+v", compErr)
	}
	// Hitting the stop loses size*price*dist = 1% of equity.
	if want := 10000 * 0.01 / (100 * 0.02); size != want {
		t.Errorf("size: got %v, want %v", size, want)
	}
	loss := size * 100 * 0.02
	if math.Abs(loss-100) > 1e-9 {
		t.Errorf("loss at stop: got %v, want 100", loss)
	}

	// Leverage must not change the loss at the stop.
	in.Leverage = 5
	levered, _ := entrySize(in, &Series{}, 10000, 100, 0)
	if levered != size {
		t.Errorf("risk-based size changed under leverage: %v vs %v", levered, size)
	}
}

func TestEntrySizeRiskBasedFallback(t *testing.T) {
	// ATR stop with an empty ATR series: stop distance is underivable and
	// sizing degrades to the configured fraction.
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingRiskBased, RiskPerTrade: 0.01, Fraction: 0.2},
		Stop:   types.StopConfig{Mode: types.StopModeATR, ATRMult: 2},
	}
	size, compErr := entrySize(in, &Series{}, 10000, 100, 0)
	if compErr == nil {
		t.Fatal("expected a fallback")
	}
	if want := 10000 * 0.2 / 100.0; size != want {
		t.Errorf("fallback size: got %v, want %v", size, want)
	}

	// Without a configured fraction the documented default applies.
	in.Sizing.Fraction = 0
	size, compErr = entrySize(in, &Series{}, 10000, 100, 0)
	if compErr == nil {
		t.Fatal("expected a fallback")
	}
	if want := 10000 * fallbackFraction / 100.0; size != want {
		t.Errorf("default fallback size: got %v, want %v", size, want)
	}
}

func TestEntrySizeVolatilityTarget(t *testing.T) {
	series := &Series{ATR: []float64{2}} // 2% of price
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingVolatility, VolTarget: 0.01},
	}
	size, compErr := entrySize(in, series, 10000, 100, 0)
	if compErr != nil {
		t.Fatalf("unexpected fallback: %+v", compErr)
	}
	// target leverage = 0.01 / 0.02 = 0.5, inside the default band.
	if want := 10000 * 0.5 / 100.0; size != want {
		t.Errorf("size: got %v, want %v", size, want)
	}
}

func TestEntrySizeVolatilityBandClamp(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingVolatility, VolTarget: 0.01},
	}

	// Tiny volatility pushes the target above the band ceiling.
	quiet := &Series{ATR: []float64{0.01}}
	size, _ := entrySize(in, quiet, 10000, 100, 0)
	if want := 10000 * defaultMaxVolLeverage / 100.0; size != want {
		t.Errorf("ceiling clamp: got %v, want %v", size, want)
	}

	// Extreme volatility pushes it below the floor.
	wild := &Series{ATR: []float64{50}}
	size, _ = entrySize(in, wild, 10000, 100, 0)
	if want := 10000 * defaultMinVolLeverage / 100.0; size != want {
		t.Errorf("floor clamp: got %v, want %v", size, want)
	}

	// An explicit band overrides the defaults.
	in.Sizing.MinLeverage = 0.5
	in.Sizing.MaxLeverage = 1.5
	size, _ = entrySize(in, quiet, 10000, 100, 0)
	if want := 10000 * 1.5 / 100.0; size != want {
		t.Errorf("configured ceiling: got %v, want %v", size, want)
	}
}

func TestEntrySizeVolatilityFallback(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingVolatility, VolTarget: 0.01},
	}
	size, compErr := entrySize(in, &Series{}, 10000, 100, 0)
	if compErr == nil {
		t.Fatal("expected a fallback on a zero volatility estimate")
	}
	if want := 10000 * fallbackVolLeverage / 100.0; size != want {
		t.Errorf("fallback size: got %v, want %v", size, want)
	}
}

func TestEntrySizeDegenerateInputs(t *testing.T) {
	in := &types.SimulationInput{
		Sizing: types.SizingConfig{Mode: types.SizingFixedFraction, Fraction: 0.5},
	}
	if size, _ := entrySize(in, &Series{}, 0, 100, 0); size != 0 {
		t.Errorf("zero equity must size zero, got %v", size)
	}
	if size, _ := entrySize(in, &Series{}, 10000, 0, 0); size != 0 {
		t.Errorf("zero price must size zero, got %v", size)
	}
}

func TestSmoothTrueRangeWilder(t *testing.T) {
	tr := []float64{2, 4, 6, 8, 10, 12}
	dst := make([]float64, len(tr))
	SmoothTrueRange(tr, 3, dst)

	// Seed is the simple average of the first period values.
	seed := (2.0 + 4.0 + 6.0) / 3.0
	if math.Abs(dst[2]-seed) > 1e-12 {
		t.Fatalf("seed: got %v, want %v", dst[2], seed)
	}
	// Then Wilder recursion: atr = (prev*(period-1) + tr) / period.
	want := (seed*2 + 8) / 3
	if math.Abs(dst[3]-want) > 1e-12 {
		t.Fatalf("smoothing step: got %v, want %v", dst[3], want)
	}
}

func TestTrueRangeGaps(t *testing.T) {
	bars := []types.Bar{
		{Open: 100, High: 105, Low: 95, Close: 102},
		{Open: 110, High: 112, Low: 108, Close: 111},
	}
	// First bar: plain high-low range.
	if got := TrueRange(bars, 0); got != 10 {
		t.Errorf("first bar TR: got %v, want 10", got)
	}
	// Gap up: the distance from the prior close dominates.
	if got := TrueRange(bars, 1); got != 112-102 {
		t.Errorf("gap bar TR: got %v, want %v", got, 112-102)
	}
}
