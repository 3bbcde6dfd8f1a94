// Package types provides the shared data model for the simulation engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// DirectionFilter restricts which sides the engine may open.
type DirectionFilter string

const (
	DirectionFilterLong  DirectionFilter = "long"
	DirectionFilterShort DirectionFilter = "short"
	DirectionFilterBoth  DirectionFilter = "both"
)

// Allows reports whether the filter permits the given direction.
func (f DirectionFilter) Allows(d Direction) bool {
	switch f {
	case DirectionFilterLong:
		return d == DirectionLong
	case DirectionFilterShort:
		return d == DirectionShort
	default:
		return true
	}
}

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitReasonStopLoss    ExitReason = "stop_loss"
	ExitReasonTakeProfit  ExitReason = "take_profit"
	ExitReasonSignal      ExitReason = "signal"
	ExitReasonTrailing    ExitReason = "trailing"
	ExitReasonMaxDuration ExitReason = "max_duration"
	ExitReasonEndOfData   ExitReason = "end_of_data"
)

// Bar represents a single OHLCV candle.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SignalSet carries per-bar boolean entry/exit signals. Every slice must have
// the same length as the price series.
type SignalSet struct {
	LongEntry  []bool `json:"longEntry"`
	LongExit   []bool `json:"longExit"`
	ShortEntry []bool `json:"shortEntry"`
	ShortExit  []bool `json:"shortExit"`
}

// PartialFill records one partial exit produced by the take-profit ladder.
type PartialFill struct {
	BarIndex int             `json:"barIndex"`
	Level    int             `json:"level"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	PnL      decimal.Decimal `json:"pnl"`
}

// TradeRecord is the immutable ledger entry for one closed position. Entry and
// exit prices are volume-weighted when the position accumulated multiple fills.
type TradeRecord struct {
	ID           string          `json:"id"`
	Direction    Direction       `json:"direction"`
	EntryBar     int             `json:"entryBar"`
	ExitBar      int             `json:"exitBar"`
	EntryTime    time.Time       `json:"entryTime"`
	ExitTime     time.Time       `json:"exitTime"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	ExitPrice    decimal.Decimal `json:"exitPrice"`
	Size         decimal.Decimal `json:"size"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLNet       decimal.Decimal `json:"pnlNet"`
	Fees         decimal.Decimal `json:"fees"`
	ExitReason   ExitReason      `json:"exitReason"`
	DurationBars int             `json:"durationBars"`
	MFE          decimal.Decimal `json:"mfe"`
	MAE          decimal.Decimal `json:"mae"`
	Fills        []PartialFill   `json:"fills,omitempty"`
}

// EquitySample is one point of the per-bar equity curve.
type EquitySample struct {
	BarIndex  int       `json:"barIndex"`
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
	Drawdown  float64   `json:"drawdown"`
}

// SideMetrics is the per-direction breakdown of the headline metrics.
type SideMetrics struct {
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	NetProfit float64 `json:"netProfit"`
	WinRate   float64 `json:"winRate"`
}

// Metrics is derived from the trade ledger and equity curve at the end of a
// run. Ratios with a zero denominator take documented sentinel values instead
// of NaN or Inf.
type Metrics struct {
	NetProfit        float64       `json:"netProfit"`
	GrossProfit      float64       `json:"grossProfit"`
	GrossLoss        float64       `json:"grossLoss"`
	TotalTrades      int           `json:"totalTrades"`
	WinningTrades    int           `json:"winningTrades"`
	LosingTrades     int           `json:"losingTrades"`
	WinRate          float64       `json:"winRate"`
	ProfitFactor     float64       `json:"profitFactor"`
	AvgWin           float64       `json:"avgWin"`
	AvgLoss          float64       `json:"avgLoss"`
	PayoffRatio      float64       `json:"payoffRatio"`
	Expectancy       float64       `json:"expectancy"`
	MaxDrawdown      float64       `json:"maxDrawdown"`
	MaxDrawdownPct   float64       `json:"maxDrawdownPct"`
	DrawdownDuration int           `json:"drawdownDuration"`
	SharpeRatio      float64       `json:"sharpeRatio"`
	SortinoRatio     float64       `json:"sortinoRatio"`
	CalmarRatio      float64       `json:"calmarRatio"`
	RecoveryFactor   float64       `json:"recoveryFactor"`
	AvgMFE           float64       `json:"avgMfe"`
	AvgMAE           float64       `json:"avgMae"`
	AvgDuration      time.Duration `json:"avgDuration"`
	Long             SideMetrics   `json:"long"`
	Short            SideMetrics   `json:"short"`
}

// MonteCarloResult summarizes a resampling analysis of the trade ledger.
type MonteCarloResult struct {
	Iterations      int     `json:"iterations"`
	MedianReturn    float64 `json:"medianReturn"`
	P5Return        float64 `json:"p5Return"`
	P95Return       float64 `json:"p95Return"`
	ProbabilityRuin float64 `json:"probabilityRuin"`
	MaxDrawdownP95  float64 `json:"maxDrawdownP95"`
}

// SimulationOutput is the complete result of one run. The engine holds no
// state across invocations; the caller owns the output.
type SimulationOutput struct {
	Backend              string             `json:"backend"`
	Trades               []TradeRecord      `json:"trades"`
	Equity               []EquitySample     `json:"equity"`
	Metrics              *Metrics           `json:"metrics"`
	MonteCarlo           *MonteCarloResult  `json:"monteCarlo,omitempty"`
	IsValid              bool               `json:"isValid"`
	Errors               []string           `json:"errors,omitempty"`
	ComputationFallbacks int                `json:"computationFallbacks"`
	Duration             time.Duration      `json:"duration"`
}
