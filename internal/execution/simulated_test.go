package execution

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"tradingd/internal/cache"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pair() types.TradingPair { return types.TradingPair{Base: "BTC", Quote: "USDC"} }

func seedBook(c *cache.Cache, venue string) {
	c.SetOrderBook(venue, pair(), types.OrderBookSnapshot{
		Pair: pair(),
		Bids: []types.PriceLevel{{Price: decimal.MustParse("49990"), Size: decimal.MustParse("5")}},
		Asks: []types.PriceLevel{{Price: decimal.MustParse("50010"), Size: decimal.MustParse("5")}},
	})
}

func TestSimulatedExecutorFillsBuyAtAskPlusSlippage(t *testing.T) {
	c := cache.New()
	seedBook(c, "hl")
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.MustParse("1"), decimal.MustParse("0.001"), testLogger())

	req := types.OrderRequest{CorrelationID: "c1", Pair: pair(), Side: types.Buy, Kind: types.Market, Size: decimal.MustParse("2")}
	ack, err := exec.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.State != types.OrderFilled {
		t.Fatalf("expected immediate fill, got state %s", ack.State)
	}

	select {
	case fill := <-exec.FillEvents():
		if !fill.Price.Equal(decimal.MustParse("50011")) {
			t.Errorf("expected fill price 50011 (ask 50010 + 1 slippage), got %s", fill.Price)
		}
		if !fill.Fee.Equal(decimal.MustParse("100.022")) {
			t.Errorf("expected fee 0.1%% of notional (100022e-3), got %s", fill.Fee)
		}
	default:
		t.Fatal("expected a fill event to be published")
	}
}

func TestSimulatedExecutorFillsSellAtBidMinusSlippage(t *testing.T) {
	c := cache.New()
	seedBook(c, "hl")
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.MustParse("1"), decimal.Zero, testLogger())

	req := types.OrderRequest{CorrelationID: "c2", Pair: pair(), Side: types.Sell, Kind: types.Market, Size: decimal.MustParse("1")}
	if _, err := exec.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	fill := <-exec.FillEvents()
	if !fill.Price.Equal(decimal.MustParse("49989")) {
		t.Errorf("expected fill price 49989 (bid 49990 - 1 slippage), got %s", fill.Price)
	}
}

func TestSimulatedExecutorErrorsWithNoReferencePrice(t *testing.T) {
	c := cache.New()
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.Zero, decimal.Zero, testLogger())

	req := types.OrderRequest{CorrelationID: "c3", Pair: pair(), Side: types.Buy, Kind: types.Market, Size: decimal.MustParse("1")}
	if _, err := exec.SubmitOrder(context.Background(), req); err == nil {
		t.Fatal("expected an error when no reference price is cached")
	}
}

func TestSimulatedExecutorNeverLeavesOpenOrders(t *testing.T) {
	c := cache.New()
	seedBook(c, "hl")
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.Zero, decimal.Zero, testLogger())

	req := types.OrderRequest{CorrelationID: "c4", Pair: pair(), Side: types.Buy, Kind: types.Limit, Price: decimal.MustParse("50000"), Size: decimal.MustParse("1")}
	if _, err := exec.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}

	open, err := exec.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("get open orders: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no resting orders in paper mode, got %d", len(open))
	}
}
