package engine

import (
	"github.com/quantforge/tradesim/pkg/types"
)

// applyEntryLevels derives the stop and take-profit levels from the current
// volume-weighted entry price. ATR-relative levels use the ATR at the fill
// bar and stay fixed afterwards (trailing recomputes continuously in
// updateStops). Called on the initial fill and again after every pyramiding
// or safety-order fill, since those move the average entry price.
func applyEntryLevels(pos *position, in *types.SimulationInput, series *Series, fillBar int) {
	sign := pos.dir.Sign()
	avg := pos.avgPrice

	var stop float64
	switch in.Stop.Mode {
	case types.StopModeFixedPct:
		stop = avg * (1 - sign*in.Stop.Pct)
	case types.StopModeATR:
		stop = avg - sign*in.Stop.ATRMult*atrAt(series, fillBar)
	}
	if stop > 0 {
		// A trailing or breakeven stop already past the recomputed base level
		// stays where it is; stops never loosen.
		if pos.stopFrom == stopInitial || tighter(pos.dir, stop, pos.stopPrice) {
			pos.stopPrice = stop
		}
	}

	switch in.TakeProfit.Mode {
	case types.TakeProfitFixedPct:
		pos.tpPrice = avg * (1 + sign*in.TakeProfit.Pct)
	case types.TakeProfitATR:
		pos.tpPrice = avg + sign*in.TakeProfit.ATRMult*atrAt(series, fillBar)
	}
}

// tighter reports whether a is a more protective stop than b for the given
// direction. A zero b is always replaced.
func tighter(dir types.Direction, a, b float64) bool {
	if b <= 0 {
		return true
	}
	if dir == types.DirectionLong {
		return a > b
	}
	return a < b
}

// ladderTrigger returns the price at which ladder level li fires.
func ladderTrigger(pos *position, in *types.SimulationInput, li int) float64 {
	return pos.avgPrice * (1 + pos.dir.Sign()*in.TakeProfit.Levels[li].TriggerPct)
}

// crossedLevels returns the indexes of unconsumed ladder levels the bar's
// favorable extreme crossed, in ladder order.
func crossedLevels(pos *position, in *types.SimulationInput, bar types.Bar) []int {
	var crossed []int
	for li := range pos.ladder {
		if pos.ladder[li].consumed {
			continue
		}
		trigger := ladderTrigger(pos, in, li)
		if pos.dir == types.DirectionLong {
			if bar.High >= trigger {
				crossed = append(crossed, li)
			}
		} else {
			if bar.Low <= trigger {
				crossed = append(crossed, li)
			}
		}
	}
	return crossed
}

// updateStops advances the trailing and breakeven state from the bar's
// extremes. It runs after the bar's exit evaluation, so a moved stop applies
// from the next bar on; within a bar the stop is fixed.
func updateStops(pos *position, in *types.SimulationInput, bar types.Bar) {
	if pos.dir == types.DirectionLong {
		updateStopsLong(pos, in, bar)
	} else {
		updateStopsShort(pos, in, bar)
	}
}

func updateStopsLong(pos *position, in *types.SimulationInput, bar types.Bar) {
	if in.Breakeven.Enabled && !pos.breakevenSet {
		if bar.High >= pos.avgPrice*(1+in.Breakeven.TriggerPct) {
			pos.breakevenSet = true
			if pos.avgPrice > pos.stopPrice {
				pos.stopPrice = pos.avgPrice
				pos.stopFrom = stopBreakeven
			}
		}
	}
	if !in.Trailing.Enabled {
		return
	}
	if !pos.trailActive {
		if bar.High >= pos.avgPrice*(1+in.Trailing.ActivationPct) {
			pos.trailActive = true
			pos.trailBest = bar.High
		}
	} else if bar.High > pos.trailBest {
		pos.trailBest = bar.High
	}
	if pos.trailActive {
		cand := pos.trailBest * (1 - in.Trailing.DistancePct)
		if cand > pos.stopPrice {
			pos.stopPrice = cand
			pos.stopFrom = stopTrailing
		}
	}
}

func updateStopsShort(pos *position, in *types.SimulationInput, bar types.Bar) {
	if in.Breakeven.Enabled && !pos.breakevenSet {
		if bar.Low <= pos.avgPrice*(1-in.Breakeven.TriggerPct) {
			pos.breakevenSet = true
			if pos.stopPrice == 0 || pos.avgPrice < pos.stopPrice {
				pos.stopPrice = pos.avgPrice
				pos.stopFrom = stopBreakeven
			}
		}
	}
	if !in.Trailing.Enabled {
		return
	}
	if !pos.trailActive {
		if bar.Low <= pos.avgPrice*(1-in.Trailing.ActivationPct) {
			pos.trailActive = true
			pos.trailBest = bar.Low
		}
	} else if bar.Low < pos.trailBest {
		pos.trailBest = bar.Low
	}
	if pos.trailActive {
		cand := pos.trailBest * (1 + in.Trailing.DistancePct)
		if pos.stopPrice == 0 || cand < pos.stopPrice {
			pos.stopPrice = cand
			pos.stopFrom = stopTrailing
		}
	}
}

// stopReason maps the stop's source to the ledger exit reason.
func stopReason(pos *position) types.ExitReason {
	if pos.stopFrom == stopTrailing {
		return types.ExitReasonTrailing
	}
	return types.ExitReasonStopLoss
}
