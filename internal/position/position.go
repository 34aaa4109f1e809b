// Package position tracks the netted, signed-size holding for every
// (venue, pair) the runtime trades, realizing PnL on the portion of a fill
// that closes existing exposure and splitting a fill that flips the
// position's sign into a close leg and a new open leg. Size is a single
// signed Decimal per (venue, pair), with average-entry-price and
// realized/unrealized PnL bookkeeping.
package position

import (
	"sync"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// Tracker maintains the current Position for every (venue, pair) it has
// seen a fill or reconciliation for.
type Tracker struct {
	mu        sync.RWMutex
	positions map[key]*types.Position
}

type key struct {
	venue string
	pair  types.TradingPair
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{positions: make(map[key]*types.Position)}
}

// Snapshot returns a copy of the current position for (venue, pair), or the
// zero value if none has been recorded yet.
func (t *Tracker) Snapshot(venue string, pair types.TradingPair) types.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[key{venue, pair}]
	if !ok {
		return types.Position{Venue: venue, Pair: pair}
	}
	return *p
}

func (t *Tracker) entryFor(venue string, pair types.TradingPair) *types.Position {
	k := key{venue, pair}
	p, ok := t.positions[k]
	if !ok {
		p = &types.Position{Venue: venue, Pair: pair}
		t.positions[k] = p
	}
	return p
}

// ApplyFill updates the position for (fill.Pair) at venue with one
// execution. A fill on the same side as the current position (or against a
// flat position) extends it with a size-weighted average entry price. A
// fill against the current position first closes existing size, realizing
// PnL on the closed portion; if the fill is larger than the open size, the
// remainder opens a new position on the other side at the fill price.
func (t *Tracker) ApplyFill(venue string, fill types.Fill) types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entryFor(venue, fill.Pair)
	signedFillSize := fill.Size
	if fill.Side == types.Sell {
		signedFillSize = decimal.Zero.Sub(fill.Size)
	}

	switch {
	case p.Size.IsZero() || sameSign(p.Size, signedFillSize):
		p.Size, p.EntryPrice = extend(p.Size, p.EntryPrice, signedFillSize, fill.Price)
	default:
		closeSize := decimal.Min(p.Size.Abs(), signedFillSize.Abs())
		realized := fill.Price.Sub(p.EntryPrice).Mul(closeSize)
		if p.Size.IsNegative() {
			realized = p.EntryPrice.Sub(fill.Price).Mul(closeSize)
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)

		remaining := signedFillSize.Abs().Sub(closeSize)
		if p.Size.IsNegative() {
			p.Size = p.Size.Add(closeSize)
		} else {
			p.Size = p.Size.Sub(closeSize)
		}

		if remaining.IsPositive() {
			// Fill flipped the position: the closing leg fully consumed the
			// prior side, and what's left opens a fresh position at the
			// fill price on the other side.
			opened := remaining
			if signedFillSize.IsNegative() {
				opened = decimal.Zero.Sub(remaining)
			}
			p.Size = opened
			p.EntryPrice = fill.Price
		}
	}

	p.CumulativeFee = p.CumulativeFee.Add(fill.Fee)
	p.UpdatedAt = fill.Timestamp
	return *p
}

// extend grows a position of the same sign (or opens a flat one) with a
// size-weighted average entry price.
func extend(size, entryPrice, addSize, addPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	newSize := size.Add(addSize)
	if newSize.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	notional := entryPrice.Mul(size.Abs()).Add(addPrice.Mul(addSize.Abs()))
	avg, err := notional.DivRound(newSize.Abs(), 8, decimal.HalfEven)
	if err != nil {
		avg = addPrice
	}
	return newSize, avg
}

func sameSign(a, b decimal.Decimal) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	return a.IsPositive() == b.IsPositive()
}

// UpdateMarkToMarket recalculates unrealized PnL for (venue, pair) against
// the given mark price.
func (t *Tracker) UpdateMarkToMarket(venue string, pair types.TradingPair, mark decimal.Decimal) types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entryFor(venue, pair)
	if !p.Size.IsZero() {
		p.UnrealizedPnL = mark.Sub(p.EntryPrice).Mul(p.Size)
	} else {
		p.UnrealizedPnL = decimal.Zero
	}
	return *p
}

// Reconcile replaces the locally tracked size, entry price, and margin from
// an authoritative venue snapshot, while preserving the cumulative realized
// PnL and fee ledger this tracker has accumulated — the venue's position
// endpoint does not carry historical realized PnL, only the current state.
func (t *Tracker) Reconcile(venue string, snapshot types.Position) types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.entryFor(venue, snapshot.Pair)
	realized := p.RealizedPnL
	fees := p.CumulativeFee

	*p = snapshot
	p.Venue = venue
	p.RealizedPnL = realized
	p.CumulativeFee = fees
	return *p
}
