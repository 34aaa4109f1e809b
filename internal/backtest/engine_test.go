package backtest

import (
	"context"
	"testing"

	"tradingd/internal/execution"
	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// buyOnceStrategy submits a single market buy on the first bar it sees and
// does nothing thereafter.
type buyOnceStrategy struct {
	ctx  *strategy.Context
	done bool
}

func (s *buyOnceStrategy) OnInit(ctx *strategy.Context) error { s.ctx = ctx; return nil }
func (s *buyOnceStrategy) OnBar(bar types.Bar) error {
	if s.done {
		return nil
	}
	s.done = true
	_, err := s.ctx.Orders.Submit(context.Background(), types.OrderRequest{
		CorrelationID: "buy-once",
		Pair:          s.ctx.Pair,
		Side:          types.Buy,
		Kind:          types.Market,
		Size:          decimal.MustParse("1"),
		TimeInForce:   types.IOC,
	})
	return err
}
func (s *buyOnceStrategy) OnTicker(types.Ticker) error               { return nil }
func (s *buyOnceStrategy) OnOrderbook(types.OrderBookSnapshot) error { return nil }
func (s *buyOnceStrategy) OnOrderUpdate(types.Order) error           { return nil }
func (s *buyOnceStrategy) OnFill(types.Fill) error                   { return nil }
func (s *buyOnceStrategy) OnStop() error                             { return nil }
func (s *buyOnceStrategy) RequiredHistory() int                      { return 0 }
func (s *buyOnceStrategy) WantsOrderbook() bool                      { return false }

// restingLimitStrategy places one resting limit buy on the first bar and
// never touches it again, exercising the cross-bar touch-fill path.
type restingLimitStrategy struct {
	ctx   *strategy.Context
	price decimal.Decimal
	done  bool
}

func (s *restingLimitStrategy) OnInit(ctx *strategy.Context) error { s.ctx = ctx; return nil }
func (s *restingLimitStrategy) OnBar(bar types.Bar) error {
	if s.done {
		return nil
	}
	s.done = true
	_, err := s.ctx.Orders.Submit(context.Background(), types.OrderRequest{
		CorrelationID: "rest-1",
		Pair:          s.ctx.Pair,
		Side:          types.Buy,
		Kind:          types.Limit,
		Price:         s.price,
		Size:          decimal.MustParse("1"),
		TimeInForce:   types.GTC,
	})
	return err
}
func (s *restingLimitStrategy) OnTicker(types.Ticker) error               { return nil }
func (s *restingLimitStrategy) OnOrderbook(types.OrderBookSnapshot) error { return nil }
func (s *restingLimitStrategy) OnOrderUpdate(types.Order) error           { return nil }
func (s *restingLimitStrategy) OnFill(types.Fill) error                   { return nil }
func (s *restingLimitStrategy) OnStop() error                             { return nil }
func (s *restingLimitStrategy) RequiredHistory() int                      { return 0 }
func (s *restingLimitStrategy) WantsOrderbook() bool                      { return false }

func barsFor(pair types.TradingPair, closes []string) []types.Bar {
	bars := make([]types.Bar, 0, len(closes))
	for i, c := range closes {
		o := decimal.MustParse(c)
		h := o.Add(decimal.MustParse("1"))
		l := o.Sub(decimal.MustParse("1"))
		cl := decimal.MustParse(c)
		bars = append(bars, types.Bar{
			Pair:      pair,
			Open:      &o,
			High:      &h,
			Low:       &l,
			Close:     &cl,
			Timestamp: types.Timestamp(1000 * int64(i+1)),
		})
	}
	return bars
}

func TestEngineFillsMarketOrderAndBuildsEquityCurve(t *testing.T) {
	pair := testPair()
	feed := NewSliceFeed(map[string][]types.Bar{"BTC-USDC": barsFor(pair, []string{"100", "102", "104"})})

	cfg := Config{
		Venue:          "hl",
		FeeRate:        decimal.MustParse("0.001"),
		SlippageModel:  execution.SlippageFixed,
		Slippage:       decimal.Zero,
		InitialCapital: decimal.MustParse("10000"),
	}
	eng := New(cfg, feed, testLogger())
	if err := eng.AddSymbol(pair, &buyOnceStrategy{}, nil); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	report, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TradeCount != 1 {
		t.Fatalf("trade count = %d, want 1", report.TradeCount)
	}
	if len(report.EquityCurve) != 3 {
		t.Fatalf("equity curve length = %d, want 3 (one per bar)", len(report.EquityCurve))
	}
	if !report.Trades[0].Price.Equal(decimal.MustParse("100")) {
		t.Fatalf("fill price = %s, want 100 (bar1 open, zero slippage)", report.Trades[0].Price)
	}
}

func TestEngineTouchFillsRestingLimitOrderOnLaterBar(t *testing.T) {
	pair := testPair()
	feed := NewSliceFeed(map[string][]types.Bar{"BTC-USDC": barsFor(pair, []string{"100", "102", "97"})})

	cfg := Config{
		Venue:          "hl",
		FeeRate:        decimal.Zero,
		SlippageModel:  execution.SlippageFixed,
		InitialCapital: decimal.MustParse("10000"),
	}
	eng := New(cfg, feed, testLogger())
	// bar3's range is [96, 98]; a limit buy at 97 should touch there.
	if err := eng.AddSymbol(pair, &restingLimitStrategy{price: decimal.MustParse("97")}, nil); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}

	report, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TradeCount != 1 {
		t.Fatalf("trade count = %d, want 1", report.TradeCount)
	}
	if !report.Trades[0].Price.Equal(decimal.MustParse("97")) {
		t.Fatalf("fill price = %s, want 97 (the resting limit price)", report.Trades[0].Price)
	}
}

func TestEngineIsDeterministicAcrossRuns(t *testing.T) {
	pair := testPair()
	closes := []string{"100", "103", "99", "105", "110"}

	run := func() Report {
		feed := NewSliceFeed(map[string][]types.Bar{"BTC-USDC": barsFor(pair, closes)})
		cfg := Config{
			Venue:          "hl",
			FeeRate:        decimal.MustParse("0.001"),
			SlippageModel:  execution.SlippageFixed,
			InitialCapital: decimal.MustParse("10000"),
		}
		eng := New(cfg, feed, testLogger())
		if err := eng.AddSymbol(pair, &buyOnceStrategy{}, nil); err != nil {
			t.Fatalf("AddSymbol: %v", err)
		}
		report, err := eng.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return report
	}

	r1 := run()
	r2 := run()

	if !r1.FinalEquity.Equal(r2.FinalEquity) {
		t.Fatalf("final equity differs across runs: %s vs %s", r1.FinalEquity, r2.FinalEquity)
	}
	if len(r1.EquityCurve) != len(r2.EquityCurve) {
		t.Fatalf("equity curve length differs: %d vs %d", len(r1.EquityCurve), len(r2.EquityCurve))
	}
	for i := range r1.EquityCurve {
		if !r1.EquityCurve[i].Equity.Equal(r2.EquityCurve[i].Equity) {
			t.Fatalf("equity curve point %d differs: %s vs %s", i, r1.EquityCurve[i].Equity, r2.EquityCurve[i].Equity)
		}
	}
}

func TestAddSymbolRejectsDuplicatePair(t *testing.T) {
	pair := testPair()
	feed := NewSliceFeed(map[string][]types.Bar{"BTC-USDC": barsFor(pair, []string{"100"})})
	eng := New(Config{Venue: "hl", InitialCapital: decimal.MustParse("1000")}, feed, testLogger())

	if err := eng.AddSymbol(pair, &buyOnceStrategy{}, nil); err != nil {
		t.Fatalf("first AddSymbol: %v", err)
	}
	if err := eng.AddSymbol(pair, &buyOnceStrategy{}, nil); err == nil {
		t.Fatal("expected an error registering the same pair twice")
	}
}
