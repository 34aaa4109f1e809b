// Package orderbook maintains a local mirror of one venue's L2 order book
// per trading pair. It is updated from two sources: a full snapshot (REST
// load or WS snapshot event) and incremental sequence-numbered deltas.
//
// A delta whose sequence does not immediately follow the last applied one
// is buffered and a resync is requested; buffered deltas are discarded
// once a fresh snapshot arrives, and later deltas apply from that
// snapshot's sequence.
package orderbook

import (
	"errors"
	"sort"
	"sync"
	"time"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// ErrInsufficientLiquidity is returned by Slippage when the requested size
// cannot be filled from the levels currently on the book.
var ErrInsufficientLiquidity = errors.New("orderbook: insufficient liquidity")

// ResyncNeeded is published on the event bus (topic
// "market.<venue>.<symbol>.book") when a sequence gap is detected and a
// fresh snapshot is required.
type ResyncNeeded struct {
	Venue string
	Pair  types.TradingPair
	Gap   struct {
		Have uint64
		Want uint64
	}
}

// Delta is one incremental order book update.
type Delta struct {
	Sequence  uint64
	Bids      []types.PriceLevel // full replacement for any touched price level; zero size removes it
	Asks      []types.PriceLevel
	Timestamp types.Timestamp
}

// Book is a concurrency-safe mirror of one (venue, pair) order book.
type Book struct {
	mu sync.RWMutex

	venue string
	pair  types.TradingPair

	bids map[string]types.PriceLevel // keyed by Price.String()
	asks map[string]types.PriceLevel

	lastSequence uint64
	haveSnapshot bool
	pendingGap   []Delta // deltas buffered while waiting for a fresh snapshot

	updated time.Time

	onResync func(ResyncNeeded)
}

// New creates an empty book for (venue, pair). onResync, if non-nil, is
// invoked synchronously whenever a sequence gap is detected; callers
// typically wire this to eventbus.Publish.
func New(venue string, pair types.TradingPair, onResync func(ResyncNeeded)) *Book {
	return &Book{
		venue:    venue,
		pair:     pair,
		bids:     make(map[string]types.PriceLevel),
		asks:     make(map[string]types.PriceLevel),
		onResync: onResync,
	}
}

// ApplySnapshot replaces the book entirely and resets sequence tracking.
// Any deltas buffered while waiting for this snapshot are discarded; the
// venue is expected to resend them (or newer ones) after the sequence the
// snapshot carries.
func (b *Book) ApplySnapshot(bids, asks []types.PriceLevel, sequence uint64, ts types.Timestamp) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]types.PriceLevel, len(bids))
	for _, lvl := range bids {
		b.bids[lvl.Price.String()] = lvl
	}
	b.asks = make(map[string]types.PriceLevel, len(asks))
	for _, lvl := range asks {
		b.asks[lvl.Price.String()] = lvl
	}

	b.lastSequence = sequence
	b.haveSnapshot = true
	b.pendingGap = nil
	b.updated = time.Now()
}

// ApplyDelta applies one incremental update. If its sequence does not
// immediately follow the last applied sequence, the delta is buffered and
// a ResyncNeeded is emitted; it is not possible to apply deltas out of
// order against an uncertain base.
func (b *Book) ApplyDelta(d Delta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.haveSnapshot {
		b.pendingGap = append(b.pendingGap, d)
		return
	}

	if d.Sequence <= b.lastSequence {
		return // stale, already applied
	}

	if d.Sequence != b.lastSequence+1 {
		b.pendingGap = append(b.pendingGap, d)
		if b.onResync != nil {
			gap := ResyncNeeded{Venue: b.venue, Pair: b.pair}
			gap.Gap.Have = b.lastSequence
			gap.Gap.Want = d.Sequence
			b.onResync(gap)
		}
		return
	}

	b.applyLocked(d)
	b.lastSequence = d.Sequence
	b.updated = time.Now()
}

func (b *Book) applyLocked(d Delta) {
	for _, lvl := range d.Bids {
		if lvl.Size.IsZero() {
			delete(b.bids, lvl.Price.String())
		} else {
			b.bids[lvl.Price.String()] = lvl
		}
	}
	for _, lvl := range d.Asks {
		if lvl.Size.IsZero() {
			delete(b.asks, lvl.Price.String())
		} else {
			b.asks[lvl.Price.String()] = lvl
		}
	}
}

// Snapshot returns a sorted point-in-time copy: bids descending, asks
// ascending by price.
func (b *Book) Snapshot() types.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bids := sortedLevels(b.bids, true)
	asks := sortedLevels(b.asks, false)

	return types.OrderBookSnapshot{
		Venue:     b.venue,
		Pair:      b.pair,
		Bids:      bids,
		Asks:      asks,
		Sequence:  b.lastSequence,
		Timestamp: types.FromTime(b.updated),
	}
}

func sortedLevels(m map[string]types.PriceLevel, descending bool) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(m))
	for _, lvl := range m {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// BestBid returns the highest resting bid, if any.
func (b *Book) BestBid() (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := sortedLevels(b.bids, true)
	if len(levels) == 0 {
		return types.PriceLevel{}, false
	}
	return levels[0], true
}

// BestAsk returns the lowest resting ask, if any.
func (b *Book) BestAsk() (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := sortedLevels(b.asks, false)
	if len(levels) == 0 {
		return types.PriceLevel{}, false
	}
	return levels[0], true
}

// Mid returns (bestBid+bestAsk)/2, or false if either side is empty.
func (b *Book) Mid() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	sum := bid.Price.Add(ask.Price)
	mid, err := sum.DivRound(decimal.NewFromInt(2), decimal.DefaultScale, decimal.HalfEven)
	if err != nil {
		return decimal.Zero, false
	}
	return mid, true
}

// Spread returns bestAsk - bestBid, or false if either side is empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Slippage computes the size-weighted average execution price for
// consuming `size` from the top of the book on the given side.
func (b *Book) Slippage(side types.Side, size decimal.Decimal) (decimal.Decimal, error) {
	b.mu.RLock()
	var levels []types.PriceLevel
	if side == types.Buy {
		levels = sortedLevels(b.asks, false)
	} else {
		levels = sortedLevels(b.bids, true)
	}
	b.mu.RUnlock()

	remaining := size
	notional := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, lvl.Size)
		notional = notional.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return decimal.Zero, ErrInsufficientLiquidity
	}
	return notional.DivRound(size, decimal.DefaultScale, decimal.HalfEven)
}

// IsStale reports whether the book has not been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the time of the last applied snapshot or delta.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}
