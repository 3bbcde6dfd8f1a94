// Package validate normalizes and checks simulation requests before any
// simulation work begins. Downstream components assume a validated input; an
// unvalidated input reaching them is a programmer error.
package validate

import (
	"fmt"

	"github.com/quantforge/tradesim/pkg/types"
)

// Check verifies a SimulationInput and returns a *types.ValidationErrors
// carrying every failed rule, or nil when the input is well formed. The input
// is never mutated.
func Check(in *types.SimulationInput) error {
	var errs []types.ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, types.ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	n := len(in.Bars)
	if n == 0 {
		add("bars", "price series is empty")
	}

	checkSignal := func(name string, s []bool) {
		if len(s) != n {
			add("signals."+name, "length %d does not match %d bars", len(s), n)
		}
	}
	checkSignal("longEntry", in.Signals.LongEntry)
	checkSignal("longExit", in.Signals.LongExit)
	checkSignal("shortEntry", in.Signals.ShortEntry)
	checkSignal("shortExit", in.Signals.ShortExit)

	if in.InitialCapital <= 0 {
		add("initialCapital", "must be positive, got %g", in.InitialCapital)
	}
	if in.Leverage < 0 {
		add("leverage", "must not be negative, got %g", in.Leverage)
	}
	if in.FeeRate < 0 || in.FeeRate >= 1 {
		add("feeRate", "must lie in [0, 1), got %g", in.FeeRate)
	}
	if in.SlippageRate < 0 || in.SlippageRate >= 1 {
		add("slippageRate", "must lie in [0, 1), got %g", in.SlippageRate)
	}

	switch in.Direction {
	case types.DirectionFilterLong, types.DirectionFilterShort, types.DirectionFilterBoth:
	default:
		add("direction", "unknown filter %q", in.Direction)
	}

	checkSizing(in, add)
	checkStops(in, add)
	checkLadder(in, add)
	checkDCA(in, add)

	if in.UseBarMagnifier {
		if len(in.SubBars) != n {
			add("subBars", "bar magnifier requires one sub-series per bar, got %d for %d bars", len(in.SubBars), n)
		}
	}

	if in.Pyramiding < 0 {
		add("pyramiding", "must not be negative, got %d", in.Pyramiding)
	}
	if in.MaxDurationBars < 0 {
		add("maxDurationBars", "must not be negative, got %d", in.MaxDurationBars)
	}
	if in.MonteCarlo.Enabled && in.MonteCarlo.Iterations < 0 {
		add("monteCarlo.iterations", "must not be negative, got %d", in.MonteCarlo.Iterations)
	}

	if len(errs) > 0 {
		return &types.ValidationErrors{Errors: errs}
	}
	return nil
}

func checkSizing(in *types.SimulationInput, add func(string, string, ...any)) {
	switch in.Sizing.Mode {
	case types.SizingFixedFraction:
		if in.Sizing.Fraction <= 0 || in.Sizing.Fraction > 1 {
			add("sizing.fraction", "must lie in (0, 1], got %g", in.Sizing.Fraction)
		}
	case types.SizingFixedNotional:
		if in.Sizing.Notional <= 0 {
			add("sizing.notional", "must be positive, got %g", in.Sizing.Notional)
		}
	case types.SizingRiskBased:
		if in.Sizing.RiskPerTrade <= 0 || in.Sizing.RiskPerTrade > 1 {
			add("sizing.riskPerTrade", "must lie in (0, 1], got %g", in.Sizing.RiskPerTrade)
		}
		if in.Stop.Mode == types.StopModeNone || in.Stop.Mode == "" {
			add("sizing.mode", "risk_based sizing requires a stop-loss")
		}
		if in.Sizing.Fraction < 0 || in.Sizing.Fraction > 1 {
			add("sizing.fraction", "fallback fraction must lie in [0, 1], got %g", in.Sizing.Fraction)
		}
	case types.SizingVolatility:
		if in.Sizing.VolTarget <= 0 {
			add("sizing.volTarget", "must be positive, got %g", in.Sizing.VolTarget)
		}
		if in.Sizing.MinLeverage < 0 || (in.Sizing.MaxLeverage > 0 && in.Sizing.MaxLeverage < in.Sizing.MinLeverage) {
			add("sizing.maxLeverage", "leverage band [%g, %g] is not ordered",
				in.Sizing.MinLeverage, in.Sizing.MaxLeverage)
		}
	default:
		add("sizing.mode", "unknown mode %q", in.Sizing.Mode)
	}
}

func checkStops(in *types.SimulationInput, add func(string, string, ...any)) {
	switch in.Stop.Mode {
	case types.StopModeNone, "":
	case types.StopModeFixedPct:
		if in.Stop.Pct <= 0 || in.Stop.Pct >= 1 {
			add("stop.pct", "must lie in (0, 1), got %g", in.Stop.Pct)
		}
	case types.StopModeATR:
		if in.Stop.ATRMult <= 0 {
			add("stop.atrMult", "must be positive, got %g", in.Stop.ATRMult)
		}
	default:
		add("stop.mode", "unknown mode %q", in.Stop.Mode)
	}

	switch in.TakeProfit.Mode {
	case types.TakeProfitNone, "", types.TakeProfitLadder:
	case types.TakeProfitFixedPct:
		if in.TakeProfit.Pct <= 0 {
			add("takeProfit.pct", "must be positive, got %g", in.TakeProfit.Pct)
		}
	case types.TakeProfitATR:
		if in.TakeProfit.ATRMult <= 0 {
			add("takeProfit.atrMult", "must be positive, got %g", in.TakeProfit.ATRMult)
		}
	default:
		add("takeProfit.mode", "unknown mode %q", in.TakeProfit.Mode)
	}

	if in.Trailing.Enabled {
		if in.Trailing.ActivationPct <= 0 {
			add("trailing.activationPct", "must be positive, got %g", in.Trailing.ActivationPct)
		}
		if in.Trailing.DistancePct <= 0 || in.Trailing.DistancePct >= 1 {
			add("trailing.distancePct", "must lie in (0, 1), got %g", in.Trailing.DistancePct)
		}
	}

	// Breakeven is coupled to the ladder. The configuration is rejected, not
	// silently corrected; the caller must explicitly request the ladder mode.
	if in.Breakeven.Enabled {
		if in.TakeProfit.Mode != types.TakeProfitLadder {
			add("breakeven.enabled", "breakeven requires takeProfit.mode %q, got %q",
				types.TakeProfitLadder, in.TakeProfit.Mode)
		}
		if in.Breakeven.TriggerPct <= 0 {
			add("breakeven.triggerPct", "must be positive, got %g", in.Breakeven.TriggerPct)
		}
	}
}

func checkLadder(in *types.SimulationInput, add func(string, string, ...any)) {
	if in.TakeProfit.Mode != types.TakeProfitLadder {
		return
	}
	if len(in.TakeProfit.Levels) == 0 {
		add("takeProfit.levels", "ladder mode requires at least one level")
		return
	}
	var portionSum float64
	prevTrigger := 0.0
	for i, lvl := range in.TakeProfit.Levels {
		if lvl.TriggerPct <= prevTrigger {
			add(fmt.Sprintf("takeProfit.levels[%d].triggerPct", i),
				"triggers must be strictly increasing, got %g after %g", lvl.TriggerPct, prevTrigger)
		}
		prevTrigger = lvl.TriggerPct
		if lvl.Portion <= 0 || lvl.Portion > 1 {
			add(fmt.Sprintf("takeProfit.levels[%d].portion", i),
				"must lie in (0, 1], got %g", lvl.Portion)
		}
		portionSum += lvl.Portion
	}
	if portionSum > 1+1e-9 {
		add("takeProfit.levels", "portions sum to %g, must not exceed 1", portionSum)
	}
}

func checkDCA(in *types.SimulationInput, add func(string, string, ...any)) {
	if !in.DCA.Enabled {
		return
	}
	if len(in.DCA.SafetyOrders) == 0 {
		add("dca.safetyOrders", "DCA requires at least one safety order")
		return
	}
	prevDev := 0.0
	for i, so := range in.DCA.SafetyOrders {
		if so.DeviationPct <= prevDev {
			add(fmt.Sprintf("dca.safetyOrders[%d].deviationPct", i),
				"deviations must be strictly increasing, got %g after %g", so.DeviationPct, prevDev)
		}
		prevDev = so.DeviationPct
		if so.DeviationPct >= 1 {
			add(fmt.Sprintf("dca.safetyOrders[%d].deviationPct", i),
				"must lie in (0, 1), got %g", so.DeviationPct)
		}
		if so.SizeMultiplier <= 0 {
			add(fmt.Sprintf("dca.safetyOrders[%d].sizeMultiplier", i),
				"must be positive, got %g", so.SizeMultiplier)
		}
	}
}
