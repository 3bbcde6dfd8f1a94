// Package metrics derives performance metrics from a closed-trade ledger and
// an equity curve. Compute is a pure function: it reads the run output and
// writes nothing back.
package metrics

import (
	"math"
	"time"

	"github.com/quantforge/tradesim/pkg/types"
)

// Sentinel values for ratios with a zero denominator. They are part of the
// output compatibility contract: callers compare against these, never against
// NaN or Inf.
const (
	// RatioCeiling replaces profit factor and recovery factor when there are
	// no losing trades or no drawdown to divide by.
	RatioCeiling = 1000.0

	// RatioNeutral replaces Sharpe, Sortino, Calmar and payoff when the
	// denominator is zero.
	RatioNeutral = 0.0
)

// Compute calculates all metrics from the trades and equity curve of one run.
func Compute(trades []types.TradeRecord, equity []types.EquitySample, in *types.SimulationInput) *types.Metrics {
	m := &types.Metrics{}
	if len(equity) == 0 {
		return m
	}

	var totalDuration time.Duration
	var sumMFE, sumMAE float64
	for _, t := range trades {
		pnl, _ := t.PnLNet.Float64()
		mfe, _ := t.MFE.Float64()
		mae, _ := t.MAE.Float64()
		sumMFE += mfe
		sumMAE += mae
		totalDuration += t.ExitTime.Sub(t.EntryTime)

		side := &m.Long
		if t.Direction == types.DirectionShort {
			side = &m.Short
		}
		side.Trades++
		side.NetProfit += pnl

		m.NetProfit += pnl
		if pnl > 0 {
			m.WinningTrades++
			m.GrossProfit += pnl
			side.Wins++
		} else if pnl < 0 {
			m.LosingTrades++
			m.GrossLoss += -pnl
		}
	}
	m.TotalTrades = len(trades)

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.AvgDuration = totalDuration / time.Duration(m.TotalTrades)
		m.AvgMFE = sumMFE / float64(m.TotalTrades)
		m.AvgMAE = sumMAE / float64(m.TotalTrades)
	}
	if m.Long.Trades > 0 {
		m.Long.WinRate = float64(m.Long.Wins) / float64(m.Long.Trades)
	}
	if m.Short.Trades > 0 {
		m.Short.WinRate = float64(m.Short.Wins) / float64(m.Short.Trades)
	}

	if m.WinningTrades > 0 {
		m.AvgWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = m.GrossLoss / float64(m.LosingTrades)
	}

	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	} else {
		m.ProfitFactor = RatioCeiling
	}
	if m.AvgLoss > 0 {
		m.PayoffRatio = m.AvgWin / m.AvgLoss
	} else {
		m.PayoffRatio = RatioNeutral
	}
	if m.TotalTrades > 0 {
		m.Expectancy = m.WinRate*m.AvgWin - (1-m.WinRate)*m.AvgLoss
	}

	maxDD, maxDDPct, ddBars := maxDrawdown(equity)
	m.MaxDrawdown = maxDD
	m.MaxDrawdownPct = maxDDPct
	m.DrawdownDuration = ddBars

	returns := barReturns(equity)
	perYear := in.EffectiveBarsPerYear()

	mean := meanOf(returns)
	if sd := stdDev(returns, mean); sd > 0 {
		m.SharpeRatio = mean / sd * math.Sqrt(perYear)
	} else {
		m.SharpeRatio = RatioNeutral
	}
	if dd := downsideDev(returns); dd > 0 {
		m.SortinoRatio = mean / dd * math.Sqrt(perYear)
	} else {
		m.SortinoRatio = RatioNeutral
	}

	annualized := mean * perYear
	if maxDDPct > 0 {
		m.CalmarRatio = annualized / maxDDPct
	} else {
		m.CalmarRatio = RatioNeutral
	}
	if maxDD > 0 {
		m.RecoveryFactor = m.NetProfit / maxDD
	} else {
		m.RecoveryFactor = RatioCeiling
	}

	return m
}

// maxDrawdown returns the deepest drawdown in currency and percentage terms
// from the running equity peak, and the longest spell (in bars) spent below a
// previous peak.
func maxDrawdown(equity []types.EquitySample) (dd, ddPct float64, bars int) {
	peak := equity[0].Equity
	spell := 0
	for _, s := range equity {
		if s.Equity >= peak {
			peak = s.Equity
			spell = 0
			continue
		}
		spell++
		if spell > bars {
			bars = spell
		}
		if d := peak - s.Equity; d > dd {
			dd = d
		}
		if peak > 0 {
			if p := (peak - s.Equity) / peak; p > ddPct {
				ddPct = p
			}
		}
	}
	return dd, ddPct, bars
}

// barReturns converts the equity curve into per-bar simple returns.
func barReturns(equity []types.EquitySample) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].Equity-prev)/prev)
	}
	return returns
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// downsideDev is the standard deviation of the negative returns only.
func downsideDev(returns []float64) float64 {
	var neg []float64
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	if len(neg) < 2 {
		return 0
	}
	return stdDev(neg, meanOf(neg))
}
