package orderbook

import (
	"testing"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func lvl(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.MustParse(price), Size: decimal.MustParse(size)}
}

func testPair() types.TradingPair {
	return types.TradingPair{Base: "BTC", Quote: "USDC"}
}

func TestSnapshotOrdering(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot(
		[]types.PriceLevel{lvl("99", "1"), lvl("100", "1"), lvl("98", "1")},
		[]types.PriceLevel{lvl("103", "1"), lvl("101", "1"), lvl("102", "1")},
		1, types.Now(),
	)

	snap := b.Snapshot()
	if snap.Bids[0].Price.String() != "100" {
		t.Errorf("best bid = %s, want 100", snap.Bids[0].Price)
	}
	if snap.Asks[0].Price.String() != "101" {
		t.Errorf("best ask = %s, want 101", snap.Asks[0].Price)
	}
}

func TestBestBidLessThanBestAsk(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot(
		[]types.PriceLevel{lvl("100", "1")},
		[]types.PriceLevel{lvl("101", "1")},
		1, types.Now(),
	)

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	if !bid.Price.LessThan(ask.Price) {
		t.Errorf("expected bid < ask, got bid=%s ask=%s", bid.Price, ask.Price)
	}
}

func TestSequentialDeltaApplies(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot([]types.PriceLevel{lvl("100", "1")}, []types.PriceLevel{lvl("101", "1")}, 10, types.Now())

	b.ApplyDelta(Delta{Sequence: 11, Bids: []types.PriceLevel{lvl("100", "2")}})

	bid, _ := b.BestBid()
	if bid.Size.String() != "2" {
		t.Errorf("bid size = %s, want 2", bid.Size)
	}
}

func TestGapTriggersResync(t *testing.T) {
	t.Parallel()

	var got *ResyncNeeded
	b := New("hl", testPair(), func(r ResyncNeeded) { got = &r })
	b.ApplySnapshot([]types.PriceLevel{lvl("100", "1")}, []types.PriceLevel{lvl("101", "1")}, 10, types.Now())

	// sequence jumps from 10 to 13, skipping 11 and 12
	b.ApplyDelta(Delta{Sequence: 13, Bids: []types.PriceLevel{lvl("100", "5")}})

	if got == nil {
		t.Fatal("expected resync callback to fire")
	}
	if got.Gap.Have != 10 || got.Gap.Want != 13 {
		t.Errorf("gap = %+v, want have=10 want=13", got.Gap)
	}

	// the gapped delta must not have been applied
	bid, _ := b.BestBid()
	if bid.Size.String() != "1" {
		t.Errorf("bid size = %s, want unchanged 1", bid.Size)
	}

	// a fresh snapshot clears the pending gap and resumes from its sequence
	b.ApplySnapshot([]types.PriceLevel{lvl("100", "9")}, []types.PriceLevel{lvl("101", "1")}, 20, types.Now())
	b.ApplyDelta(Delta{Sequence: 21, Bids: []types.PriceLevel{lvl("100", "7")}})

	bid, _ = b.BestBid()
	if bid.Size.String() != "7" {
		t.Errorf("bid size after resync = %s, want 7", bid.Size)
	}
}

func TestZeroSizeRemovesLevel(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot([]types.PriceLevel{lvl("100", "1"), lvl("99", "1")}, []types.PriceLevel{lvl("101", "1")}, 1, types.Now())
	b.ApplyDelta(Delta{Sequence: 2, Bids: []types.PriceLevel{lvl("100", "0")}})

	bid, _ := b.BestBid()
	if bid.Price.String() != "99" {
		t.Errorf("best bid = %s, want 99 after removal", bid.Price)
	}
}

func TestSlippageInsufficientLiquidity(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot(nil, []types.PriceLevel{lvl("101", "1")}, 1, types.Now())

	_, err := b.Slippage(types.Buy, decimal.MustParse("5"))
	if err != ErrInsufficientLiquidity {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestSlippageWeightedAverage(t *testing.T) {
	t.Parallel()

	b := New("hl", testPair(), nil)
	b.ApplySnapshot(nil, []types.PriceLevel{lvl("100", "1"), lvl("101", "1")}, 1, types.Now())

	avg, err := b.Slippage(types.Buy, decimal.MustParse("2"))
	if err != nil {
		t.Fatal(err)
	}
	if avg.String() != "100.5" {
		t.Errorf("avg fill price = %s, want 100.5", avg)
	}
}
