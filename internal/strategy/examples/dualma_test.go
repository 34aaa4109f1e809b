package examples

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPair() types.TradingPair {
	return types.TradingPair{Base: "BTC", Quote: "USDC"}
}

type recordingSubmitter struct {
	mu  sync.Mutex
	reqs []types.OrderRequest
}

func (s *recordingSubmitter) Submit(_ context.Context, req types.OrderRequest) (types.Order, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return types.Order{CorrelationID: req.CorrelationID, State: types.OrderFilled}, nil
}

func (s *recordingSubmitter) Cancel(context.Context, string) (types.Order, error) {
	return types.Order{}, nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *recordingSubmitter) last() types.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[len(s.reqs)-1]
}

func barAt(close string) types.Bar {
	c := decimal.MustParse(close)
	return types.Bar{Pair: testPair(), Close: &c}
}

func newTestDualMA(t *testing.T, sub *recordingSubmitter) *DualMA {
	t.Helper()
	s, err := NewDualMA(map[string]string{"fast_period": "2", "slow_period": "4", "order_size": "1"})
	if err != nil {
		t.Fatalf("NewDualMA: %v", err)
	}
	d := s.(*DualMA)
	if err := d.OnInit(&strategy.Context{Pair: testPair(), Logger: testLogger(), Orders: sub}); err != nil {
		t.Fatalf("OnInit: %v", err)
	}
	return d
}

func TestNewDualMARejectsFastNotLessThanSlow(t *testing.T) {
	if _, err := NewDualMA(map[string]string{"fast_period": "20", "slow_period": "5"}); err == nil {
		t.Fatal("expected error when fast_period >= slow_period")
	}
}

func TestDualMADoesNothingDuringWarmup(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDualMA(t, sub)

	for _, c := range []string{"10", "10", "10"} {
		if err := d.OnBar(barAt(c)); err != nil {
			t.Fatalf("OnBar: %v", err)
		}
	}
	if sub.count() != 0 {
		t.Fatalf("orders submitted during warm-up: %d", sub.count())
	}
}

func TestDualMADoesNotSignalOnFirstQualifyingBar(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDualMA(t, sub)

	// slow_period=4: the 4th bar makes both SMAs computable for the first
	// time. That must not itself be treated as a crossover.
	for _, c := range []string{"10", "10", "10", "10"} {
		if err := d.OnBar(barAt(c)); err != nil {
			t.Fatalf("OnBar: %v", err)
		}
	}
	if sub.count() != 0 {
		t.Fatalf("orders submitted on first qualifying bar: %d", sub.count())
	}
}

func TestDualMASubmitsBuyOnUpwardCrossover(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDualMA(t, sub)

	for _, c := range []string{"10", "10", "10", "10", "20", "30"} {
		if err := d.OnBar(barAt(c)); err != nil {
			t.Fatalf("OnBar: %v", err)
		}
	}
	if sub.count() == 0 {
		t.Fatal("expected a buy order on upward crossover")
	}
	req := sub.last()
	if req.Side != types.Buy {
		t.Fatalf("side = %v, want Buy", req.Side)
	}
	if req.Kind != types.Market || req.TimeInForce != types.IOC {
		t.Fatalf("unexpected order shape: %+v", req)
	}
}

func TestDualMASubmitsSellAfterCrossingBackBelowWhileLong(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDualMA(t, sub)

	for _, c := range []string{"10", "10", "10", "10", "20", "30"} {
		_ = d.OnBar(barAt(c))
	}
	buys := sub.count()
	if buys == 0 {
		t.Fatal("expected an initial long entry")
	}

	for _, c := range []string{"5", "1"} {
		if err := d.OnBar(barAt(c)); err != nil {
			t.Fatalf("OnBar: %v", err)
		}
	}
	if sub.count() <= buys {
		t.Fatal("expected a sell order closing the long after the downward crossover")
	}
	if sub.last().Side != types.Sell {
		t.Fatalf("side = %v, want Sell", sub.last().Side)
	}
}

func TestDualMAIgnoresBarsWithNoClose(t *testing.T) {
	sub := &recordingSubmitter{}
	d := newTestDualMA(t, sub)

	if err := d.OnBar(types.Bar{Pair: testPair()}); err != nil {
		t.Fatalf("OnBar with nil close: %v", err)
	}
	if sub.count() != 0 {
		t.Fatal("no order should be submitted for a bar with no close")
	}
}
