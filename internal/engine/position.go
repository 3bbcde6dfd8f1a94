package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/quantforge/tradesim/pkg/types"
	"github.com/shopspring/decimal"
)

// stopSource records which mechanism last moved the stop, so the exit reason
// on a stop hit reflects it.
type stopSource int

const (
	stopInitial stopSource = iota
	stopTrailing
	stopBreakeven
)

// pendingExit records a trigger detected at bar i that realizes at bar i+1's
// processing step. Lifetime is exactly one bar.
type pendingExit struct {
	price  float64
	reason types.ExitReason
	bar    int // bar the trigger was detected on
}

// entryFill is one fill of a position (initial entry, pyramiding add, or DCA
// safety order).
type entryFill struct {
	price float64
	size  float64
	bar   int
}

// ladderState tracks one take-profit level; a consumed level never
// retriggers.
type ladderState struct {
	consumed bool
}

// position is the mutable per-direction state of the machine. It is created
// on a qualifying entry fill, mutated on each bar step, and destroyed on full
// exit.
type position struct {
	dir         types.Direction
	entries     []entryFill
	avgPrice    float64
	size        float64 // remaining open size
	initialSize float64 // sum of all entry fills
	baseSize    float64 // size of the first fill, scales the DCA ladder
	openBar     int

	stopPrice float64 // 0 means no stop
	stopFrom  stopSource
	tpPrice   float64 // 0 means no single take-profit

	ladder       []ladderState
	trailActive  bool
	trailBest    float64
	breakevenSet bool
	nextRung     int // next unused safety order

	fills       []types.PartialFill // partial exits from the ladder
	grossPnL    float64             // realized from partial exits
	exitedValue float64             // sum(price*size) across exits
	closedSize  float64
	fees        float64

	mfe, mae float64

	pending *pendingExit
}

func newPosition(dir types.Direction, price, size float64, bar int, ladderLevels int) *position {
	p := &position{
		dir:         dir,
		entries:     []entryFill{{price: price, size: size, bar: bar}},
		avgPrice:    price,
		size:        size,
		initialSize: size,
		baseSize:    size,
		openBar:     bar,
	}
	if ladderLevels > 0 {
		p.ladder = make([]ladderState, ladderLevels)
	}
	return p
}

// addFill accumulates a pyramiding or safety-order fill and recomputes the
// volume-weighted average entry price.
func (p *position) addFill(price, size float64, bar int) {
	p.entries = append(p.entries, entryFill{price: price, size: size, bar: bar})
	p.avgPrice = (p.avgPrice*p.size + price*size) / (p.size + size)
	p.size += size
	p.initialSize += size
}

// markExtremes updates MFE/MAE from the bar's range against the average
// entry price.
func (p *position) markExtremes(bar types.Bar) {
	var fav, adv float64
	if p.dir == types.DirectionLong {
		fav = (bar.High - p.avgPrice) * p.size
		adv = (bar.Low - p.avgPrice) * p.size
	} else {
		fav = (p.avgPrice - bar.Low) * p.size
		adv = (p.avgPrice - bar.High) * p.size
	}
	if fav > p.mfe {
		p.mfe = fav
	}
	if adv < p.mae {
		p.mae = adv
	}
}

// unrealized returns the open PnL of the remaining size at the given price.
func (p *position) unrealized(price float64) float64 {
	return (price - p.avgPrice) * p.size * p.dir.Sign()
}

// closePortion realizes size units at price, returning the gross PnL of the
// slice. The average entry price is unchanged by a partial close.
func (p *position) closePortion(price, size float64) float64 {
	gross := (price - p.avgPrice) * size * p.dir.Sign()
	p.size -= size
	p.closedSize += size
	p.exitedValue += price * size
	p.grossPnL += gross
	return gross
}

// vwEntryPrice returns the volume-weighted entry price across all fills.
func (p *position) vwEntryPrice() float64 {
	if len(p.entries) == 1 {
		return p.entries[0].price
	}
	var value, size float64
	for _, f := range p.entries {
		value += f.price * f.size
		size += f.size
	}
	return value / size
}

// record builds the immutable ledger entry after the final portion closed.
func (p *position) record(in *types.SimulationInput, exitBar int, reason types.ExitReason, tradeIdx int) types.TradeRecord {
	entryPrice := p.vwEntryPrice()
	exitPrice := p.exitedValue / p.closedSize
	net := p.grossPnL - p.fees

	rec := types.TradeRecord{
		ID:           tradeID(p.dir, p.openBar, exitBar, tradeIdx),
		Direction:    p.dir,
		EntryBar:     p.openBar,
		ExitBar:      exitBar,
		EntryTime:    in.Bars[p.openBar].Timestamp,
		ExitTime:     in.Bars[exitBar].Timestamp,
		EntryPrice:   decimal.NewFromFloat(entryPrice),
		ExitPrice:    decimal.NewFromFloat(exitPrice),
		Size:         decimal.NewFromFloat(p.initialSize),
		PnL:          decimal.NewFromFloat(p.grossPnL),
		PnLNet:       decimal.NewFromFloat(net),
		Fees:         decimal.NewFromFloat(p.fees),
		ExitReason:   reason,
		DurationBars: exitBar - p.openBar,
		MFE:          decimal.NewFromFloat(p.mfe),
		MAE:          decimal.NewFromFloat(p.mae),
		Fills:        p.fills,
	}
	return rec
}

func toDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// tradeID derives a deterministic UUID from the trade's identity, so that
// repeated runs of the same input produce byte-identical ledgers.
func tradeID(dir types.Direction, entryBar, exitBar, idx int) string {
	name := fmt.Sprintf("%s/%d/%d/%d", dir, entryBar, exitBar, idx)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
