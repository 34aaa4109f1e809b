package backtest

import (
	"context"
	"testing"

	"tradingd/internal/execution"
	"tradingd/internal/strategy/examples"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func TestRunVectorizedDualMARejectsBadPeriods(t *testing.T) {
	if _, err := RunVectorizedDualMA(nil, 5, 5); err == nil {
		t.Fatal("expected an error when fast_period >= slow_period")
	}
	if _, err := RunVectorizedDualMA(nil, 0, 5); err == nil {
		t.Fatal("expected an error for a non-positive fast_period")
	}
}

func TestRunVectorizedDualMAShortHistoryProducesNoSignals(t *testing.T) {
	closes := []decimal.Decimal{decimal.MustParse("1"), decimal.MustParse("2")}
	signals, err := RunVectorizedDualMA(closes, 1, 3)
	if err != nil {
		t.Fatalf("RunVectorizedDualMA: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("signals = %v, want none (history shorter than slow_period)", signals)
	}
}

// TestVectorizedDualMAMatchesScalarEngine drives the same close-price series
// through the scalar Engine/DualMA combination and through
// RunVectorizedDualMA, and asserts the two produce the same buy/sell signal
// sequence: the parity property the vectorized path exists to uphold.
func TestVectorizedDualMAMatchesScalarEngine(t *testing.T) {
	pair := testPair()
	closeStrs := []string{
		"100", "101", "99", "98", "97", "103", "108", "110", "104", "96",
		"94", "95", "99", "105", "112", "115", "109", "101", "93", "90",
	}
	bars := barsFor(pair, closeStrs)

	fastPeriod, slowPeriod := 3, 7

	feed := NewSliceFeed(map[string][]types.Bar{"BTC-USDC": bars})
	cfg := Config{
		Venue:          "hl",
		FeeRate:        decimal.Zero,
		SlippageModel:  execution.SlippageFixed,
		InitialCapital: decimal.MustParse("10000"),
	}
	eng := New(cfg, feed, testLogger())
	strat, err := examples.NewDualMA(map[string]string{
		"fast_period": "3",
		"slow_period": "7",
		"order_size":  "1",
	})
	if err != nil {
		t.Fatalf("NewDualMA: %v", err)
	}
	if err := eng.AddSymbol(pair, strat, nil); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	report, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	closes := make([]decimal.Decimal, len(closeStrs))
	for i, c := range closeStrs {
		closes[i] = decimal.MustParse(c)
	}
	signals, err := RunVectorizedDualMA(closes, fastPeriod, slowPeriod)
	if err != nil {
		t.Fatalf("RunVectorizedDualMA: %v", err)
	}

	if len(signals) != len(report.Trades) {
		t.Fatalf("signal count = %d, want %d (scalar trade count)", len(signals), len(report.Trades))
	}
	for i, sig := range signals {
		trade := report.Trades[i]
		if sig.Side != trade.Side {
			t.Fatalf("signal %d side = %v, want %v", i, sig.Side, trade.Side)
		}
		wantPrice := closes[sig.Index]
		if !trade.Price.Equal(wantPrice) {
			t.Fatalf("signal %d price = %s, want %s (close at index %d, market fill at bar open/close coincide in this fixture)", i, trade.Price, wantPrice, sig.Index)
		}
	}
}
