package types

// SizingMode selects how the entry size is derived.
type SizingMode string

const (
	SizingFixedFraction SizingMode = "fixed_fraction"
	SizingFixedNotional SizingMode = "fixed_notional"
	SizingRiskBased     SizingMode = "risk_based"
	SizingVolatility    SizingMode = "volatility"
)

// StopMode selects how the stop-loss level is derived at entry.
type StopMode string

const (
	StopModeNone     StopMode = "none"
	StopModeFixedPct StopMode = "fixed_pct"
	StopModeATR      StopMode = "atr"
)

// TakeProfitMode selects how the take-profit level is derived at entry.
type TakeProfitMode string

const (
	TakeProfitNone     TakeProfitMode = "none"
	TakeProfitFixedPct TakeProfitMode = "fixed_pct"
	TakeProfitATR      TakeProfitMode = "atr"
	TakeProfitLadder   TakeProfitMode = "ladder"
)

// SizingConfig configures position sizing.
type SizingConfig struct {
	Mode SizingMode `json:"mode" mapstructure:"mode"`

	// Fraction of equity per entry, used by fixed_fraction and as the
	// fallback when risk_based sizing degrades. Lies in (0, 1].
	Fraction float64 `json:"fraction" mapstructure:"fraction"`

	// Notional amount per entry for fixed_notional.
	Notional float64 `json:"notional" mapstructure:"notional"`

	// RiskPerTrade is the equity fraction lost if the stop is hit
	// (risk_based mode). Lies in (0, 1].
	RiskPerTrade float64 `json:"riskPerTrade" mapstructure:"risk_per_trade"`

	// VolTarget is the per-bar volatility target for volatility mode.
	VolTarget float64 `json:"volTarget" mapstructure:"vol_target"`

	// MinLeverage and MaxLeverage cap the volatility-derived exposure band.
	MinLeverage float64 `json:"minLeverage" mapstructure:"min_leverage"`
	MaxLeverage float64 `json:"maxLeverage" mapstructure:"max_leverage"`
}

// StopConfig configures the stop-loss.
type StopConfig struct {
	Mode    StopMode `json:"mode" mapstructure:"mode"`
	Pct     float64  `json:"pct" mapstructure:"pct"`
	ATRMult float64  `json:"atrMult" mapstructure:"atr_mult"`
}

// TPLevel is one rung of the take-profit ladder. Once crossed it closes
// Portion of the remaining size and never retriggers.
type TPLevel struct {
	TriggerPct float64 `json:"triggerPct" mapstructure:"trigger_pct"`
	Portion    float64 `json:"portion" mapstructure:"portion"`
}

// TakeProfitConfig configures the take-profit.
type TakeProfitConfig struct {
	Mode    TakeProfitMode `json:"mode" mapstructure:"mode"`
	Pct     float64        `json:"pct" mapstructure:"pct"`
	ATRMult float64        `json:"atrMult" mapstructure:"atr_mult"`
	Levels  []TPLevel      `json:"levels,omitempty" mapstructure:"levels"`
}

// TrailingConfig configures the trailing stop. After unrealized profit
// crosses ActivationPct the stop follows the best price seen at DistancePct
// and only ever moves in the favorable direction.
type TrailingConfig struct {
	Enabled       bool    `json:"enabled" mapstructure:"enabled"`
	ActivationPct float64 `json:"activationPct" mapstructure:"activation_pct"`
	DistancePct   float64 `json:"distancePct" mapstructure:"distance_pct"`
}

// BreakevenConfig configures the one-shot breakeven stop. Valid only together
// with the take-profit ladder; the validator rejects other combinations.
type BreakevenConfig struct {
	Enabled    bool    `json:"enabled" mapstructure:"enabled"`
	TriggerPct float64 `json:"triggerPct" mapstructure:"trigger_pct"`
}

// SafetyOrder is one rung of the DCA ladder, at DeviationPct adverse move
// from the initial entry and sized SizeMultiplier times the base entry.
type SafetyOrder struct {
	DeviationPct   float64 `json:"deviationPct" mapstructure:"deviation_pct"`
	SizeMultiplier float64 `json:"sizeMultiplier" mapstructure:"size_multiplier"`
}

// DCAConfig configures the safety-order ladder.
type DCAConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	SafetyOrders []SafetyOrder `json:"safetyOrders,omitempty" mapstructure:"safety_orders"`
}

// MonteCarloConfig configures the optional ledger-resampling analysis.
type MonteCarloConfig struct {
	Enabled    bool  `json:"enabled" mapstructure:"enabled"`
	Iterations int   `json:"iterations" mapstructure:"iterations"`
	Seed       int64 `json:"seed" mapstructure:"seed"`
}

// DefaultBarsPerYear annualizes per-bar returns when the input does not say
// otherwise (hourly bars, 24/7 markets).
const DefaultBarsPerYear = 24 * 365

// DefaultATRPeriod is used when the input does not set ATRPeriod.
const DefaultATRPeriod = 14

// SimulationInput is the single immutable configuration of one run. The
// engine never mutates it and holds no other configuration source.
type SimulationInput struct {
	Bars []Bar `json:"bars"`

	// SubBars optionally carries a finer-grained series per bar for exact
	// intrabar exit ordering. Required when UseBarMagnifier is set; when
	// present its length must match Bars.
	SubBars [][]Bar `json:"subBars,omitempty"`

	Signals SignalSet `json:"signals"`

	InitialCapital float64          `json:"initialCapital"`
	Sizing         SizingConfig     `json:"sizing"`
	Leverage       float64          `json:"leverage"`
	Stop           StopConfig       `json:"stop"`
	TakeProfit     TakeProfitConfig `json:"takeProfit"`
	Trailing       TrailingConfig   `json:"trailing"`
	Breakeven      BreakevenConfig  `json:"breakeven"`
	DCA            DCAConfig        `json:"dca"`

	FeeRate      float64 `json:"feeRate"`
	SlippageRate float64 `json:"slippageRate"`

	Direction       DirectionFilter `json:"direction"`
	Pyramiding      int             `json:"pyramiding"`
	MaxDurationBars int             `json:"maxDurationBars"`
	UseBarMagnifier bool            `json:"useBarMagnifier"`

	ATRPeriod   int     `json:"atrPeriod"`
	BarsPerYear float64 `json:"barsPerYear"`

	MonteCarlo MonteCarloConfig `json:"monteCarlo"`
}

// EffectiveLeverage returns the configured leverage, defaulting to 1.
func (in *SimulationInput) EffectiveLeverage() float64 {
	if in.Leverage <= 0 {
		return 1
	}
	return in.Leverage
}

// EffectiveATRPeriod returns the configured ATR period, defaulting to
// DefaultATRPeriod.
func (in *SimulationInput) EffectiveATRPeriod() int {
	if in.ATRPeriod <= 0 {
		return DefaultATRPeriod
	}
	return in.ATRPeriod
}

// EffectiveBarsPerYear returns the annualization constant, defaulting to
// DefaultBarsPerYear.
func (in *SimulationInput) EffectiveBarsPerYear() float64 {
	if in.BarsPerYear <= 0 {
		return DefaultBarsPerYear
	}
	return in.BarsPerYear
}

// MaxEntries returns the pyramiding limit. When it is unset, an enabled DCA
// ladder still gets room for its base entry plus every safety order;
// otherwise positions hold a single entry.
func (in *SimulationInput) MaxEntries() int {
	if in.Pyramiding > 0 {
		return in.Pyramiding
	}
	if in.DCA.Enabled {
		return 1 + len(in.DCA.SafetyOrders)
	}
	return 1
}

// NeedsATR reports whether any configured mode requires the ATR series.
func (in *SimulationInput) NeedsATR() bool {
	return in.Stop.Mode == StopModeATR ||
		in.TakeProfit.Mode == TakeProfitATR ||
		in.Sizing.Mode == SizingVolatility
}
