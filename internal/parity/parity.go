// Package parity compares the outputs of two backends run on the same input.
// Trade identity fields (direction, bars, prices, size, exit reason) must
// match exactly; PnL and derived metrics must agree within a relative
// tolerance.
package parity

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/quantforge/tradesim/pkg/types"
)

// DefaultTolerance is the relative tolerance for PnL and metric agreement.
const DefaultTolerance = 1e-6

// Delta is one observed difference between reference and candidate.
type Delta struct {
	Where     string  `json:"where"`
	Reference string  `json:"reference"`
	Candidate string  `json:"candidate"`
	RelDiff   float64 `json:"relDiff"`
}

// Report is the result of a parity check.
type Report struct {
	Reference string  `json:"reference"`
	Candidate string  `json:"candidate"`
	Tolerance float64 `json:"tolerance"`
	Pass      bool    `json:"pass"`
	Trades    int     `json:"trades"`
	Deltas    []Delta `json:"deltas,omitempty"`
}

// Compare checks a candidate output against a reference output. A tolerance
// of zero or below uses DefaultTolerance.
func Compare(ref, cand *types.SimulationOutput, tolerance float64) *Report {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	r := &Report{
		Reference: ref.Backend,
		Candidate: cand.Backend,
		Tolerance: tolerance,
		Trades:    len(ref.Trades),
	}

	if len(ref.Trades) != len(cand.Trades) {
		r.fail("trades", fmt.Sprint(len(ref.Trades)), fmt.Sprint(len(cand.Trades)), math.Inf(1))
	} else {
		for i := range ref.Trades {
			compareTrade(r, i, &ref.Trades[i], &cand.Trades[i], tolerance)
		}
	}

	if len(ref.Equity) != len(cand.Equity) {
		r.fail("equity", fmt.Sprint(len(ref.Equity)), fmt.Sprint(len(cand.Equity)), math.Inf(1))
	}
	compareMetrics(r, ref.Metrics, cand.Metrics, tolerance)

	r.Pass = len(r.Deltas) == 0
	return r
}

func compareTrade(r *Report, i int, ref, cand *types.TradeRecord, tol float64) {
	at := func(field string) string { return fmt.Sprintf("trades[%d].%s", i, field) }

	if ref.Direction != cand.Direction {
		r.fail(at("direction"), string(ref.Direction), string(cand.Direction), math.Inf(1))
	}
	if ref.ExitReason != cand.ExitReason {
		r.fail(at("exitReason"), string(ref.ExitReason), string(cand.ExitReason), math.Inf(1))
	}
	if ref.EntryBar != cand.EntryBar {
		r.fail(at("entryBar"), fmt.Sprint(ref.EntryBar), fmt.Sprint(cand.EntryBar), math.Inf(1))
	}
	if ref.ExitBar != cand.ExitBar {
		r.fail(at("exitBar"), fmt.Sprint(ref.ExitBar), fmt.Sprint(cand.ExitBar), math.Inf(1))
	}

	exactDecimal(r, at("entryPrice"), ref.EntryPrice, cand.EntryPrice)
	exactDecimal(r, at("exitPrice"), ref.ExitPrice, cand.ExitPrice)
	exactDecimal(r, at("size"), ref.Size, cand.Size)

	refPnL, _ := ref.PnLNet.Float64()
	candPnL, _ := cand.PnLNet.Float64()
	withinTolerance(r, at("pnlNet"), refPnL, candPnL, tol)
}

func compareMetrics(r *Report, ref, cand *types.Metrics, tol float64) {
	if ref == nil || cand == nil {
		if ref != cand {
			r.fail("metrics", fmt.Sprint(ref != nil), fmt.Sprint(cand != nil), math.Inf(1))
		}
		return
	}
	fields := []struct {
		name      string
		ref, cand float64
	}{
		{"netProfit", ref.NetProfit, cand.NetProfit},
		{"grossProfit", ref.GrossProfit, cand.GrossProfit},
		{"grossLoss", ref.GrossLoss, cand.GrossLoss},
		{"winRate", ref.WinRate, cand.WinRate},
		{"profitFactor", ref.ProfitFactor, cand.ProfitFactor},
		{"expectancy", ref.Expectancy, cand.Expectancy},
		{"maxDrawdown", ref.MaxDrawdown, cand.MaxDrawdown},
		{"maxDrawdownPct", ref.MaxDrawdownPct, cand.MaxDrawdownPct},
		{"sharpeRatio", ref.SharpeRatio, cand.SharpeRatio},
		{"sortinoRatio", ref.SortinoRatio, cand.SortinoRatio},
		{"calmarRatio", ref.CalmarRatio, cand.CalmarRatio},
	}
	for _, f := range fields {
		withinTolerance(r, "metrics."+f.name, f.ref, f.cand, tol)
	}
	if ref.TotalTrades != cand.TotalTrades {
		r.fail("metrics.totalTrades", fmt.Sprint(ref.TotalTrades), fmt.Sprint(cand.TotalTrades), math.Inf(1))
	}
}

func exactDecimal(r *Report, where string, ref, cand decimal.Decimal) {
	if !ref.Equal(cand) {
		r.fail(where, ref.String(), cand.String(), math.Inf(1))
	}
}

func withinTolerance(r *Report, where string, ref, cand, tol float64) {
	diff := relDiff(ref, cand)
	if diff > tol {
		r.fail(where, fmt.Sprintf("%g", ref), fmt.Sprintf("%g", cand), diff)
	}
}

// relDiff is |a-b| scaled by the larger magnitude, or the absolute difference
// when both are near zero.
func relDiff(a, b float64) float64 {
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff
	}
	return diff / scale
}

func (r *Report) fail(where, ref, cand string, diff float64) {
	r.Deltas = append(r.Deltas, Delta{
		Where:     where,
		Reference: ref,
		Candidate: cand,
		RelDiff:   diff,
	})
}
