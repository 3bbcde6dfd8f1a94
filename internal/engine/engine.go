package engine

import (
	"go.uber.org/zap"

	"github.com/quantforge/tradesim/pkg/types"
)

// minSizeEpsilon treats a remaining size below this fraction of the initial
// size as fully closed, absorbing float residue from ladder portions.
const minSizeEpsilon = 1e-9

// Engine runs the bar-by-bar state machine. It is stateless across
// invocations; every run owns its state exclusively, so independent runs may
// execute concurrently on one Engine.
type Engine struct {
	logger *zap.Logger
}

// New creates an engine. A nil logger disables logging.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// runState is the complete mutable state of one simulation run.
type runState struct {
	in     *types.SimulationInput
	series *Series

	cash float64
	peak float64

	long  *position // open long, nil when flat
	short *position // open short, nil when flat

	// closing holds positions in PENDING_EXIT: the trigger fired, the
	// direction is already free, the trade realizes on the next bar.
	closing []*position

	// pendingEntries holds directions signaled on the previous bar; they
	// fill at the current bar's open.
	pendingEntries []types.Direction

	trades    []types.TradeRecord
	equity    []types.EquitySample
	fallbacks int
}

// Simulate steps the state machine once per bar, in the fixed order: resolve
// pending exits, fill pending entries, evaluate exit conditions, evaluate
// entry signals, sample equity. The order is part of the engine's contract.
// The input must have passed validation.
func (e *Engine) Simulate(in *types.SimulationInput, series *Series) *types.SimulationOutput {
	st := &runState{
		in:     in,
		series: series,
		cash:   in.InitialCapital,
		peak:   in.InitialCapital,
		trades: make([]types.TradeRecord, 0, 16),
		equity: make([]types.EquitySample, 0, len(in.Bars)),
	}

	for i := range in.Bars {
		st.realizePendingExits(i)
		st.fillPendingEntries(i)
		st.evaluateExits(i)
		st.evaluateEntries(i)
		st.sampleEquity(i)
	}
	st.closeAtEndOfData()

	if st.fallbacks > 0 {
		e.logger.Warn("simulation degraded on numeric fallbacks",
			zap.Int("count", st.fallbacks))
	}

	return &types.SimulationOutput{
		Trades:               st.trades,
		Equity:               st.equity,
		IsValid:              true,
		ComputationFallbacks: st.fallbacks,
	}
}

// realizePendingExits converts PENDING_EXIT positions triggered on bar i-1
// into ledger entries at their recorded trigger price.
func (st *runState) realizePendingExits(i int) {
	remaining := st.closing[:0]
	for _, pos := range st.closing {
		if pos.pending.bar != i-1 {
			remaining = append(remaining, pos)
			continue
		}
		st.finalize(pos, pos.pending.price, i, pos.pending.reason)
	}
	st.closing = remaining
}

// finalize closes the remaining size of pos at price on exitBar and appends
// the trade record.
func (st *runState) finalize(pos *position, price float64, exitBar int, reason types.ExitReason) {
	size := pos.size
	gross := pos.closePortion(price, size)
	fee := price * size * st.in.FeeRate
	st.settle(pos, gross, fee)
	st.trades = append(st.trades, pos.record(st.in, exitBar, reason, len(st.trades)))
}

// settle books a realized slice into cash.
func (st *runState) settle(pos *position, gross, fee float64) {
	pos.fees += fee
	st.cash += gross - fee
}

// fillPendingEntries executes entries signaled on bar i-1 at bar i's open.
// A just-filled entry is exposed to bar i's exit evaluation, so it can be
// stopped out on its own fill bar.
func (st *runState) fillPendingEntries(i int) {
	if len(st.pendingEntries) == 0 {
		return
	}
	queued := st.pendingEntries
	st.pendingEntries = st.pendingEntries[:0]

	for _, dir := range queued {
		open := st.in.Bars[i].Open
		fillPrice := open * (1 + dir.Sign()*st.in.SlippageRate)
		size, compErr := entrySize(st.in, st.series, st.equityAt(open), fillPrice, i)
		if compErr != nil {
			st.fallbacks++
		}
		if size <= 0 {
			continue
		}
		fee := fillPrice * size * st.in.FeeRate

		slot := st.slot(dir)
		if *slot == nil {
			ladderLevels := 0
			if st.in.TakeProfit.Mode == types.TakeProfitLadder {
				ladderLevels = len(st.in.TakeProfit.Levels)
			}
			*slot = newPosition(dir, fillPrice, size, i, ladderLevels)
		} else {
			(*slot).addFill(fillPrice, size, i)
		}
		(*slot).fees += fee
		st.cash -= fee
		applyEntryLevels(*slot, st.in, st.series, i)
	}
}

// evaluateExits checks, for each still-open position, max duration, then the
// stop/take-profit levels via the intrabar resolver, then ladder partials,
// then signal exits. A hit schedules a pending exit and frees the direction
// for re-entry on the same bar. Trailing and breakeven state advances last,
// from this bar's extremes, effective from the next bar.
func (st *runState) evaluateExits(i int) {
	bar := st.in.Bars[i]
	for _, dir := range []types.Direction{types.DirectionLong, types.DirectionShort} {
		slot := st.slot(dir)
		pos := *slot
		if pos == nil {
			continue
		}
		pos.markExtremes(bar)

		if st.in.MaxDurationBars > 0 && i-pos.openBar >= st.in.MaxDurationBars {
			st.schedule(pos, slot, bar.Close, types.ExitReasonMaxDuration, i)
			continue
		}

		kind := resolveLevelExit(bar, st.subBars(i), dir, pos.stopPrice, pos.tpPrice)
		switch kind {
		case levelStop:
			st.schedule(pos, slot, pos.stopPrice, stopReason(pos), i)
			continue
		case levelTakeProfit:
			st.schedule(pos, slot, pos.tpPrice, types.ExitReasonTakeProfit, i)
			continue
		}

		// Ladder partials execute same-bar at the level price; a stop hit on
		// the same bar takes the whole position instead (resolved above).
		if len(pos.ladder) > 0 {
			if closed := st.processLadder(pos, slot, bar, i); closed {
				continue
			}
		}

		if st.exitSignal(dir, i) {
			st.schedule(pos, slot, bar.Close, types.ExitReasonSignal, i)
			continue
		}

		updateStops(pos, st.in, bar)
	}
}

// processLadder fills crossed take-profit levels and reports whether the
// position fully closed on this bar.
func (st *runState) processLadder(pos *position, slot **position, bar types.Bar, i int) bool {
	for _, li := range crossedLevels(pos, st.in, bar) {
		trigger := ladderTrigger(pos, st.in, li)
		fillPrice := trigger * (1 - pos.dir.Sign()*st.in.SlippageRate)
		fillSize := st.in.TakeProfit.Levels[li].Portion * pos.size
		pos.ladder[li].consumed = true

		gross := pos.closePortion(fillPrice, fillSize)
		fee := fillPrice * fillSize * st.in.FeeRate
		st.settle(pos, gross, fee)
		pos.fills = append(pos.fills, types.PartialFill{
			BarIndex: i,
			Level:    li,
			Price:    toDecimal(fillPrice),
			Size:     toDecimal(fillSize),
			PnL:      toDecimal(gross),
		})

		if pos.size <= pos.initialSize*minSizeEpsilon {
			// Every portion is gone; the trade completes on this bar.
			pos.size = 0
			*slot = nil
			st.trades = append(st.trades, pos.record(st.in, i, types.ExitReasonTakeProfit, len(st.trades)))
			return true
		}
	}
	return false
}

// schedule moves a position into PENDING_EXIT at the given raw level and
// frees its direction slot. Slippage applies against the exit side.
func (st *runState) schedule(pos *position, slot **position, level float64, reason types.ExitReason, i int) {
	pos.pending = &pendingExit{
		price:  level * (1 - pos.dir.Sign()*st.in.SlippageRate),
		reason: reason,
		bar:    i,
	}
	*slot = nil
	st.closing = append(st.closing, pos)
}

// evaluateEntries fills crossed DCA safety orders for open positions and
// queues signaled entries for execution at the next bar's open. A signal on
// the final bar never opens a trade: there is no bar left to execute at.
func (st *runState) evaluateEntries(i int) {
	bar := st.in.Bars[i]

	if st.in.DCA.Enabled {
		st.fillSafetyOrders(st.long, bar, i)
		st.fillSafetyOrders(st.short, bar, i)
	}

	last := i == len(st.in.Bars)-1
	if last {
		return
	}
	if st.entrySignal(types.DirectionLong, i) && st.in.Direction.Allows(types.DirectionLong) && st.mayAdd(st.long) {
		st.pendingEntries = append(st.pendingEntries, types.DirectionLong)
	}
	if st.entrySignal(types.DirectionShort, i) && st.in.Direction.Allows(types.DirectionShort) && st.mayAdd(st.short) {
		st.pendingEntries = append(st.pendingEntries, types.DirectionShort)
	}
}

// fillSafetyOrders fills every unused ladder rung the bar's adverse extreme
// crossed, limited by the pyramiding count. Rungs are resting limit orders
// priced off the initial entry; they fill at the rung price.
func (st *runState) fillSafetyOrders(pos *position, bar types.Bar, i int) {
	if pos == nil {
		return
	}
	base := pos.entries[0].price
	for pos.nextRung < len(st.in.DCA.SafetyOrders) && len(pos.entries) < st.in.MaxEntries() {
		so := st.in.DCA.SafetyOrders[pos.nextRung]
		rung := base * (1 - pos.dir.Sign()*so.DeviationPct)
		crossed := false
		if pos.dir == types.DirectionLong {
			crossed = bar.Low <= rung
		} else {
			crossed = bar.High >= rung
		}
		if !crossed {
			return
		}
		size := pos.baseSize * so.SizeMultiplier
		fee := rung * size * st.in.FeeRate
		pos.addFill(rung, size, i)
		pos.fees += fee
		st.cash -= fee
		applyEntryLevels(pos, st.in, st.series, i)
		pos.nextRung++
	}
}

// sampleEquity records cash plus unrealized PnL. Open positions value at the
// bar close; PENDING_EXIT positions value at their locked trigger price.
func (st *runState) sampleEquity(i int) {
	eq := st.equityAt(st.in.Bars[i].Close)
	if eq > st.peak {
		st.peak = eq
	}
	dd := 0.0
	if st.peak > 0 {
		dd = (st.peak - eq) / st.peak
	}
	st.equity = append(st.equity, types.EquitySample{
		BarIndex:  i,
		Timestamp: st.in.Bars[i].Timestamp,
		Equity:    eq,
		Cash:      st.cash,
		Drawdown:  dd,
	})
}

// equityAt values the account with open positions marked at price.
func (st *runState) equityAt(price float64) float64 {
	eq := st.cash
	if st.long != nil {
		eq += st.long.unrealized(price)
	}
	if st.short != nil {
		eq += st.short.unrealized(price)
	}
	for _, pos := range st.closing {
		eq += pos.unrealized(pos.pending.price)
	}
	return eq
}

// closeAtEndOfData drains the machine after the final bar. A pending exit
// realizes at its recorded trigger price and reason; a still-open position
// force-closes at the final close with slippage, labeled end_of_data. Queued
// entries are discarded: there is no bar to execute them on.
func (st *runState) closeAtEndOfData() {
	last := len(st.in.Bars) - 1
	for _, pos := range st.closing {
		st.finalize(pos, pos.pending.price, last, pos.pending.reason)
	}
	st.closing = st.closing[:0]

	for _, slot := range []**position{&st.long, &st.short} {
		pos := *slot
		if pos == nil {
			continue
		}
		price := st.in.Bars[last].Close * (1 - pos.dir.Sign()*st.in.SlippageRate)
		st.finalize(pos, price, last, types.ExitReasonEndOfData)
		*slot = nil
	}
	st.pendingEntries = st.pendingEntries[:0]
}

func (st *runState) slot(dir types.Direction) **position {
	if dir == types.DirectionLong {
		return &st.long
	}
	return &st.short
}

func (st *runState) subBars(i int) []types.Bar {
	if !st.in.UseBarMagnifier || i >= len(st.in.SubBars) {
		return nil
	}
	return st.in.SubBars[i]
}

func (st *runState) entrySignal(dir types.Direction, i int) bool {
	if dir == types.DirectionLong {
		return st.in.Signals.LongEntry[i]
	}
	return st.in.Signals.ShortEntry[i]
}

func (st *runState) exitSignal(dir types.Direction, i int) bool {
	if dir == types.DirectionLong {
		return st.in.Signals.LongExit[i]
	}
	return st.in.Signals.ShortExit[i]
}

// mayAdd reports whether a direction can take one more entry.
func (st *runState) mayAdd(pos *position) bool {
	if pos == nil {
		return true
	}
	return len(pos.entries) < st.in.MaxEntries()
}
