// Package engine_test exercises the bar-by-bar state machine through the
// reference-style scalar precompute path.
package engine_test

import (
	"math"
	"testing"
	"time"

	"github.com/quantforge/tradesim/internal/engine"
	"github.com/quantforge/tradesim/pkg/types"
)

// trendBars builds a synthetic series that rises step per bar, with a small
// symmetric high/low range around each open/close.
func trendBars(n int, start, step float64) []types.Bar {
	bars := make([]types.Bar, n)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		open := start + float64(i)*step
		close := open + step
		bars[i] = types.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, close) + step/4,
			Low:       math.Min(open, close) - step/4,
			Close:     close,
			Volume:    1000,
		}
	}
	return bars
}

func emptySignals(n int) types.SignalSet {
	return types.SignalSet{
		LongEntry:  make([]bool, n),
		LongExit:   make([]bool, n),
		ShortEntry: make([]bool, n),
		ShortExit:  make([]bool, n),
	}
}

func baseInput(bars []types.Bar) *types.SimulationInput {
	return &types.SimulationInput{
		Bars:           bars,
		Signals:        emptySignals(len(bars)),
		InitialCapital: 10000,
		Direction:      types.DirectionFilterBoth,
		Sizing: types.SizingConfig{
			Mode:     types.SizingFixedFraction,
			Fraction: 0.5,
		},
	}
}

func simulate(t *testing.T, in *types.SimulationInput) *types.SimulationOutput {
	t.Helper()
	series, err := scalarSeries(in)
	if err != nil {
		t.Fatalf("precompute failed: %v", err)
	}
	return engine.New(nil).Simulate(in, series)
}

func scalarSeries(in *types.SimulationInput) (*engine.Series, error) {
	s := &engine.Series{}
	if !in.NeedsATR() {
		return s, nil
	}
	tr := make([]float64, len(in.Bars))
	for i := range in.Bars {
		tr[i] = engine.TrueRange(in.Bars, i)
	}
	s.ATR = make([]float64, len(in.Bars))
	engine.SmoothTrueRange(tr, in.EffectiveATRPeriod(), s.ATR)
	return s, nil
}

func TestUptrendTakeProfitScenario(t *testing.T) {
	bars := trendBars(100, 100, 0.5)
	in := baseInput(bars)
	in.Signals.LongEntry[10] = true
	in.Stop = types.StopConfig{Mode: types.StopModeFixedPct, Pct: 0.02}
	in.TakeProfit = types.TakeProfitConfig{Mode: types.TakeProfitFixedPct, Pct: 0.03}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]

	// Signal at bar 10 fills at bar 11's open, never earlier.
	if trade.EntryBar != 11 {
		t.Errorf("entry bar: expected 11, got %d", trade.EntryBar)
	}
	entry, _ := trade.EntryPrice.Float64()
	if entry != bars[11].Open {
		t.Errorf("entry price: expected next bar open %v, got %v", bars[11].Open, entry)
	}

	if trade.ExitReason != types.ExitReasonTakeProfit {
		t.Fatalf("exit reason: expected take_profit, got %s", trade.ExitReason)
	}

	// The trigger bar is the first whose high reaches entry*1.03.
	target := entry * 1.03
	triggerBar := -1
	for i := trade.EntryBar; i < len(bars); i++ {
		if bars[i].High >= target {
			triggerBar = i
			break
		}
	}
	if triggerBar == -1 {
		t.Fatal("test series never reaches the take-profit level")
	}
	// Execution is recorded on the bar after the trigger.
	if trade.ExitBar != triggerBar+1 {
		t.Errorf("exit bar: expected %d, got %d", triggerBar+1, trade.ExitBar)
	}

	exit, _ := trade.ExitPrice.Float64()
	if math.Abs(exit-target) > 1e-9 {
		t.Errorf("exit price: expected %v, got %v", target, exit)
	}
	size, _ := trade.Size.Float64()
	pnl, _ := trade.PnL.Float64()
	want := (exit - entry) * size
	if math.Abs(pnl-want) > 1e-9 {
		t.Errorf("pnl: expected %v, got %v", want, pnl)
	}
}

func TestNoLookAhead(t *testing.T) {
	// A gapped series keeps every bar's open and close distinct from its
	// neighbours', so the fill price identifies exactly one bar.
	bars := trendBars(50, 100, 1)
	for i := range bars {
		bars[i].Open += 0.25
		bars[i].High += 0.25
	}
	in := baseInput(bars)
	in.Signals.LongEntry[20] = true
	in.Signals.LongExit[30] = true

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	entry, _ := out.Trades[0].EntryPrice.Float64()
	if entry == bars[20].Open || entry == bars[20].Close {
		t.Errorf("entry price %v uses the signal bar's own prices", entry)
	}
	if entry != bars[21].Open {
		t.Errorf("entry price: expected bar 21 open %v, got %v", bars[21].Open, entry)
	}
}

func TestEntrySignalOnSecondToLastBar(t *testing.T) {
	bars := trendBars(30, 100, 1)
	in := baseInput(bars)
	in.Signals.LongEntry[28] = true // fills at bar 29, the final bar

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.EntryBar != 29 {
		t.Errorf("entry bar: expected 29, got %d", trade.EntryBar)
	}
	if trade.ExitReason != types.ExitReasonEndOfData {
		t.Errorf("exit reason: expected end_of_data, got %s", trade.ExitReason)
	}
}

func TestEntrySignalOnFinalBarNeverOpens(t *testing.T) {
	bars := trendBars(30, 100, 1)
	in := baseInput(bars)
	in.Signals.LongEntry[29] = true // no bar left to execute at

	out := simulate(t, in)
	if len(out.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(out.Trades))
	}
}

func TestConservationWithoutFees(t *testing.T) {
	// Alternating entries and exits over a jagged series, no fees, no
	// slippage: the summed trade PnL must equal final equity minus capital.
	bars := trendBars(120, 100, 0.8)
	for i := range bars {
		if i%7 == 0 && i > 0 {
			bars[i].Close = bars[i].Open - 2
			bars[i].Low = bars[i].Close - 1
			bars[i].High = bars[i].Open + 1
		}
	}
	in := baseInput(bars)
	for i := 5; i < 110; i += 13 {
		in.Signals.LongEntry[i] = true
		in.Signals.LongExit[i+6] = true
	}
	for i := 9; i < 100; i += 17 {
		in.Signals.ShortEntry[i] = true
		in.Signals.ShortExit[i+4] = true
	}

	out := simulate(t, in)
	if len(out.Trades) == 0 {
		t.Fatal("expected trades")
	}

	var sum float64
	for _, tr := range out.Trades {
		pnl, _ := tr.PnLNet.Float64()
		sum += pnl
	}
	final := out.Equity[len(out.Equity)-1].Equity
	if math.Abs(sum-(final-in.InitialCapital)) > 1e-6 {
		t.Errorf("conservation violated: sum(pnl)=%v, equity delta=%v",
			sum, final-in.InitialCapital)
	}
}

func TestPendingExitExecutesNextBar(t *testing.T) {
	bars := trendBars(40, 100, 1)
	in := baseInput(bars)
	in.Signals.LongEntry[5] = true
	in.Signals.LongExit[10] = true

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.ExitReason != types.ExitReasonSignal {
		t.Fatalf("exit reason: expected signal, got %s", trade.ExitReason)
	}
	// Trigger detected at bar 10 at its close, recorded at bar 11.
	if trade.ExitBar != 11 {
		t.Errorf("exit bar: expected 11, got %d", trade.ExitBar)
	}
	exit, _ := trade.ExitPrice.Float64()
	if exit != bars[10].Close {
		t.Errorf("exit price: expected trigger bar close %v, got %v", bars[10].Close, exit)
	}
}

func TestReentryOnTriggerBar(t *testing.T) {
	// The direction frees on the trigger bar: an entry signal on that same
	// bar must open a new position at the next bar's open.
	bars := trendBars(40, 100, 1)
	in := baseInput(bars)
	in.Signals.LongEntry[5] = true
	in.Signals.LongExit[10] = true
	in.Signals.LongEntry[10] = true

	out := simulate(t, in)
	if len(out.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(out.Trades))
	}
	second := out.Trades[1]
	if second.EntryBar != 11 {
		t.Errorf("re-entry bar: expected 11, got %d", second.EntryBar)
	}
}

func TestMaxDurationExit(t *testing.T) {
	bars := trendBars(60, 100, 0.1)
	in := baseInput(bars)
	in.Signals.LongEntry[5] = true
	in.MaxDurationBars = 10

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.ExitReason != types.ExitReasonMaxDuration {
		t.Errorf("exit reason: expected max_duration, got %s", trade.ExitReason)
	}
	if trade.ExitBar-trade.EntryBar != in.MaxDurationBars+1 {
		t.Errorf("duration: expected %d bars plus execution lag, got %d",
			in.MaxDurationBars, trade.ExitBar-trade.EntryBar)
	}
}

func TestShortSideMirror(t *testing.T) {
	// Downtrend short with a fixed take-profit below entry.
	bars := trendBars(80, 200, -0.5)
	in := baseInput(bars)
	in.Direction = types.DirectionFilterShort
	in.Signals.ShortEntry[10] = true
	in.TakeProfit = types.TakeProfitConfig{Mode: types.TakeProfitFixedPct, Pct: 0.03}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.Direction != types.DirectionShort {
		t.Fatalf("direction: expected short, got %s", trade.Direction)
	}
	if trade.ExitReason != types.ExitReasonTakeProfit {
		t.Fatalf("exit reason: expected take_profit, got %s", trade.ExitReason)
	}
	pnl, _ := trade.PnL.Float64()
	if pnl <= 0 {
		t.Errorf("short in a downtrend should profit, got pnl %v", pnl)
	}
}

func TestDirectionFilterBlocksShorts(t *testing.T) {
	bars := trendBars(40, 100, 1)
	in := baseInput(bars)
	in.Direction = types.DirectionFilterLong
	in.Signals.ShortEntry[5] = true

	out := simulate(t, in)
	if len(out.Trades) != 0 {
		t.Fatalf("expected no trades under long-only filter, got %d", len(out.Trades))
	}
}

func TestEquityCardinalityMatchesBars(t *testing.T) {
	bars := trendBars(64, 100, 0.3)
	in := baseInput(bars)
	in.Signals.LongEntry[3] = true

	out := simulate(t, in)
	if len(out.Equity) != len(bars) {
		t.Fatalf("equity samples: expected %d, got %d", len(bars), len(out.Equity))
	}
	for i, s := range out.Equity {
		if s.BarIndex != i {
			t.Fatalf("equity sample %d has bar index %d", i, s.BarIndex)
		}
	}
}

func TestDCASafetyOrdersLowerAveragePrice(t *testing.T) {
	// Flat then dropping series: the base entry fills, then two rungs.
	bars := trendBars(60, 100, 0)
	for i := 12; i < 30; i++ {
		drop := float64(i-11) * 0.6
		bars[i].Open = 100 - drop
		bars[i].Close = 100 - drop - 0.6
		bars[i].High = bars[i].Open + 0.2
		bars[i].Low = bars[i].Close - 0.2
	}
	in := baseInput(bars)
	in.Signals.LongEntry[10] = true
	in.Pyramiding = 3
	in.DCA = types.DCAConfig{
		Enabled: true,
		SafetyOrders: []types.SafetyOrder{
			{DeviationPct: 0.02, SizeMultiplier: 1.5},
			{DeviationPct: 0.05, SizeMultiplier: 2.0},
		},
	}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]

	base := bars[11].Open
	entry, _ := trade.EntryPrice.Float64()
	if entry >= base {
		t.Errorf("safety orders should pull the average entry below %v, got %v", base, entry)
	}

	size, _ := trade.Size.Float64()
	baseSize := 10000 * 0.5 / base
	wantSize := baseSize * (1 + 1.5 + 2.0)
	if math.Abs(size-wantSize)/wantSize > 1e-9 {
		t.Errorf("size: expected ladder total %v, got %v", wantSize, size)
	}
}

func TestDCAWithoutPyramidingFillsWholeLadder(t *testing.T) {
	// Enabling DCA is enough on its own: with pyramiding unset the limit
	// expands to the base entry plus every safety order instead of
	// silently capping the position at one fill.
	bars := trendBars(60, 100, 0)
	for i := 12; i < 30; i++ {
		drop := float64(i-11) * 0.6
		bars[i].Open = 100 - drop
		bars[i].Close = 100 - drop - 0.6
		bars[i].High = bars[i].Open + 0.2
		bars[i].Low = bars[i].Close - 0.2
	}
	in := baseInput(bars)
	in.Signals.LongEntry[10] = true
	in.DCA = types.DCAConfig{
		Enabled: true,
		SafetyOrders: []types.SafetyOrder{
			{DeviationPct: 0.02, SizeMultiplier: 1.5},
			{DeviationPct: 0.05, SizeMultiplier: 2.0},
		},
	}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	size, _ := out.Trades[0].Size.Float64()
	baseSize := 10000 * 0.5 / bars[11].Open
	wantSize := baseSize * (1 + 1.5 + 2.0)
	if math.Abs(size-wantSize)/wantSize > 1e-9 {
		t.Errorf("size: expected ladder total %v, got %v", wantSize, size)
	}
}

func TestPyramidingLimitCapsEntries(t *testing.T) {
	bars := trendBars(60, 100, 0)
	for i := 12; i < 40; i++ {
		drop := float64(i-11) * 0.5
		bars[i].Open = 100 - drop
		bars[i].Close = bars[i].Open - 0.5
		bars[i].High = bars[i].Open + 0.2
		bars[i].Low = bars[i].Close - 0.2
	}
	in := baseInput(bars)
	in.Signals.LongEntry[10] = true
	in.Pyramiding = 2 // base entry plus a single rung
	in.DCA = types.DCAConfig{
		Enabled: true,
		SafetyOrders: []types.SafetyOrder{
			{DeviationPct: 0.02, SizeMultiplier: 1},
			{DeviationPct: 0.04, SizeMultiplier: 1},
			{DeviationPct: 0.06, SizeMultiplier: 1},
		},
	}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	size, _ := out.Trades[0].Size.Float64()
	base := bars[11].Open
	baseSize := 10000 * 0.5 / base
	if math.Abs(size-2*baseSize)/baseSize > 1e-9 {
		t.Errorf("size: pyramiding limit 2 should cap at %v, got %v", 2*baseSize, size)
	}
}

func TestStopLossInDowntrend(t *testing.T) {
	bars := trendBars(50, 100, -0.5)
	in := baseInput(bars)
	in.Signals.LongEntry[5] = true
	in.Stop = types.StopConfig{Mode: types.StopModeFixedPct, Pct: 0.02}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.ExitReason != types.ExitReasonStopLoss {
		t.Fatalf("exit reason: expected stop_loss, got %s", trade.ExitReason)
	}
	entry, _ := trade.EntryPrice.Float64()
	exit, _ := trade.ExitPrice.Float64()
	if math.Abs(exit-entry*0.98) > 1e-9 {
		t.Errorf("stop fills at the level: expected %v, got %v", entry*0.98, exit)
	}
	mae, _ := trade.MAE.Float64()
	if mae >= 0 {
		t.Errorf("losing trade should carry negative MAE, got %v", mae)
	}
}

func TestBarMagnifierResolvesAmbiguousBar(t *testing.T) {
	// Flat series with one wide bar spanning both the stop and the take-profit.
	// The outer bar opens near its high, so the heuristic alone would pick the
	// take-profit; the sub-bar series shows the dip came first.
	bars := trendBars(20, 100, 0)
	for i := range bars {
		bars[i].High = 100.2
		bars[i].Low = 99.8
	}
	bars[6] = types.Bar{
		Timestamp: bars[6].Timestamp,
		Open:      102.9, High: 103.5, Low: 97.5, Close: 98,
	}

	in := baseInput(bars)
	in.Signals.LongEntry[3] = true
	in.Stop = types.StopConfig{Mode: types.StopModeFixedPct, Pct: 0.02}
	in.TakeProfit = types.TakeProfitConfig{Mode: types.TakeProfitFixedPct, Pct: 0.03}
	in.UseBarMagnifier = true
	in.SubBars = make([][]types.Bar, len(bars))
	in.SubBars[6] = []types.Bar{
		{Open: 102.9, High: 102.9, Low: 97.5, Close: 97.8},
		{Open: 97.8, High: 103.5, Low: 97.8, Close: 98},
	}

	out := simulate(t, in)
	if len(out.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(out.Trades))
	}
	trade := out.Trades[0]
	if trade.ExitReason != types.ExitReasonStopLoss {
		t.Fatalf("exit reason: got %s, want stop_loss from the sub-bar walk", trade.ExitReason)
	}
	entry, _ := trade.EntryPrice.Float64()
	exit, _ := trade.ExitPrice.Float64()
	if math.Abs(exit-entry*0.98) > 1e-9 {
		t.Errorf("stop exit price: got %v, want %v", exit, entry*0.98)
	}
}

func TestDeterminism(t *testing.T) {
	bars := trendBars(200, 100, 0.4)
	in := baseInput(bars)
	for i := 5; i < 190; i += 11 {
		in.Signals.LongEntry[i] = true
		in.Signals.LongExit[i+5] = true
	}
	in.Stop = types.StopConfig{Mode: types.StopModeATR, ATRMult: 2}
	in.Sizing = types.SizingConfig{Mode: types.SizingVolatility, VolTarget: 0.01}

	a := simulate(t, in)
	b := simulate(t, in)

	if len(a.Trades) != len(b.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(a.Trades), len(b.Trades))
	}
	for i := range a.Trades {
		if a.Trades[i].ID != b.Trades[i].ID {
			t.Errorf("trade %d IDs differ across identical runs", i)
		}
		if !a.Trades[i].PnLNet.Equal(b.Trades[i].PnLNet) {
			t.Errorf("trade %d PnL differs across identical runs", i)
		}
	}
	for i := range a.Equity {
		if a.Equity[i].Equity != b.Equity[i].Equity {
			t.Fatalf("equity sample %d differs across identical runs", i)
		}
	}
}
