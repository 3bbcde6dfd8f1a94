package engine

import (
	"github.com/quantforge/tradesim/pkg/types"
)

// Sizing fallbacks. A long-running sweep must not abort on one degenerate
// bar, so numeric impossibilities degrade to these documented constants and
// are surfaced through SimulationOutput.ComputationFallbacks.
const (
	// fallbackFraction sizes an entry when risk-based sizing meets a zero
	// stop distance and no fallback fraction is configured.
	fallbackFraction = 0.1

	// fallbackVolLeverage is used when the volatility estimate is zero.
	fallbackVolLeverage = 1.0

	// Volatility-targeting exposure band defaults.
	defaultMinVolLeverage = 0.1
	defaultMaxVolLeverage = 2.0
)

// entrySize returns the size in units of a base entry at price on bar i,
// given the equity at signal time. The second return value carries the
// documented fallback applied on a numeric impossibility, nil otherwise.
func entrySize(in *types.SimulationInput, series *Series, equity, price float64, i int) (float64, *types.ComputationError) {
	if price <= 0 || equity <= 0 {
		return 0, nil
	}
	lev := in.EffectiveLeverage()

	switch in.Sizing.Mode {
	case types.SizingFixedFraction:
		return equity * in.Sizing.Fraction * lev / price, nil

	case types.SizingFixedNotional:
		return in.Sizing.Notional * lev / price, nil

	case types.SizingRiskBased:
		dist := stopDistancePct(in, series, price, i)
		if dist <= 0 {
			frac := in.Sizing.Fraction
			if frac <= 0 {
				frac = fallbackFraction
			}
			return equity * frac * lev / price, &types.ComputationError{
				BarIndex: i,
				Op:       "risk_based sizing",
				Fallback: "fixed fraction",
			}
		}
		// Size such that hitting the stop loses exactly riskPerTrade of
		// equity. Leverage does not change the loss at the stop, so it is
		// deliberately absent here.
		return equity * in.Sizing.RiskPerTrade / (price * dist), nil

	case types.SizingVolatility:
		atr := atrAt(series, i)
		if atr <= 0 {
			return equity * fallbackVolLeverage / price, &types.ComputationError{
				BarIndex: i,
				Op:       "volatility sizing",
				Fallback: "leverage 1.0",
			}
		}
		volPct := atr / price
		target := in.Sizing.VolTarget / volPct
		minLev, maxLev := in.Sizing.MinLeverage, in.Sizing.MaxLeverage
		if minLev <= 0 {
			minLev = defaultMinVolLeverage
		}
		if maxLev <= 0 {
			maxLev = defaultMaxVolLeverage
		}
		if target > maxLev {
			target = maxLev
		}
		if target < minLev {
			target = minLev
		}
		return equity * target / price, nil
	}

	return 0, nil
}

// stopDistancePct returns the stop distance as a fraction of price, zero when
// it cannot be derived.
func stopDistancePct(in *types.SimulationInput, series *Series, price float64, i int) float64 {
	switch in.Stop.Mode {
	case types.StopModeFixedPct:
		return in.Stop.Pct
	case types.StopModeATR:
		atr := atrAt(series, i)
		if atr <= 0 || price <= 0 {
			return 0
		}
		return in.Stop.ATRMult * atr / price
	}
	return 0
}

func atrAt(series *Series, i int) float64 {
	if series == nil || i >= len(series.ATR) {
		return 0
	}
	return series.ATR[i]
}
