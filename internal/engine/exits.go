package engine

import (
	"github.com/quantforge/tradesim/pkg/types"
)

// levelKind identifies which price level fired inside a bar.
type levelKind int

const (
	levelNone levelKind = iota
	levelStop
	levelTakeProfit
)

// resolveLevelExit decides whether the stop or the take-profit level of an
// open position fires within the given bar, and which fires first when both
// are in range. A zero level means the corresponding exit is not armed.
//
// When a sub-bar series is available it is walked in time order and the first
// crossed threshold wins; this is exact and always preferred. Without it the
// intrabar path is inferred from which end of the bar the open is closer to:
// open near the high assumes open->high->low->close, open near the low
// assumes open->low->high->close. The inference is a documented heuristic,
// not a guarantee.
func resolveLevelExit(bar types.Bar, sub []types.Bar, dir types.Direction, stop, tp float64) levelKind {
	stopHit, tpHit := levelsInRange(bar, dir, stop, tp)
	switch {
	case !stopHit && !tpHit:
		return levelNone
	case stopHit && !tpHit:
		return levelStop
	case tpHit && !stopHit:
		return levelTakeProfit
	}

	if len(sub) > 0 {
		return walkSubBars(sub, dir, stop, tp)
	}
	return pathHeuristic(bar, dir)
}

// levelsInRange reports which armed levels lie inside the bar's range.
func levelsInRange(bar types.Bar, dir types.Direction, stop, tp float64) (stopHit, tpHit bool) {
	if dir == types.DirectionLong {
		stopHit = stop > 0 && bar.Low <= stop
		tpHit = tp > 0 && bar.High >= tp
	} else {
		stopHit = stop > 0 && bar.High >= stop
		tpHit = tp > 0 && bar.Low <= tp
	}
	return stopHit, tpHit
}

// walkSubBars reports the first level crossed in sub-bar time order. A single
// sub-bar spanning both levels falls back to the path heuristic on that
// sub-bar.
func walkSubBars(sub []types.Bar, dir types.Direction, stop, tp float64) levelKind {
	for _, s := range sub {
		stopHit, tpHit := levelsInRange(s, dir, stop, tp)
		switch {
		case stopHit && tpHit:
			return pathHeuristic(s, dir)
		case stopHit:
			return levelStop
		case tpHit:
			return levelTakeProfit
		}
	}
	// The outer bar spanned both levels but no sub-bar did; the sub-series
	// does not cover the full range. Resolve on the outer shape.
	return pathHeuristic(sub[0], dir)
}

// pathHeuristic picks the level at the bar end the open is closer to: that
// end is assumed to be reached first.
func pathHeuristic(bar types.Bar, dir types.Direction) levelKind {
	openNearHigh := bar.High-bar.Open <= bar.Open-bar.Low
	if dir == types.DirectionLong {
		// High side carries the take-profit for a long.
		if openNearHigh {
			return levelTakeProfit
		}
		return levelStop
	}
	// High side carries the stop for a short.
	if openNearHigh {
		return levelStop
	}
	return levelTakeProfit
}
