package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradingd/internal/cache"
	"tradingd/internal/eventbus"
	"tradingd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPair() types.TradingPair {
	return types.TradingPair{Base: "BTC", Quote: "USDC"}
}

type countingStrategy struct {
	mu      sync.Mutex
	tickers int
	stopped bool
}

func (s *countingStrategy) OnInit(*Context) error { return nil }
func (s *countingStrategy) OnBar(types.Bar) error { return nil }
func (s *countingStrategy) OnTicker(types.Ticker) error {
	s.mu.Lock()
	s.tickers++
	s.mu.Unlock()
	return nil
}
func (s *countingStrategy) OnOrderbook(types.OrderBookSnapshot) error { return nil }
func (s *countingStrategy) OnOrderUpdate(types.Order) error           { return nil }
func (s *countingStrategy) OnFill(types.Fill) error                   { return nil }
func (s *countingStrategy) OnStop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}
func (s *countingStrategy) RequiredHistory() int { return 0 }
func (s *countingStrategy) WantsOrderbook() bool { return false }

func (s *countingStrategy) tickerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickers
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before timeout")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRunnerDeliversTickerEventsWhileRunning(t *testing.T) {
	bus := eventbus.New(testLogger())
	strat := &countingStrategy{}
	r := NewRunner("r1", "hl", testPair(), strat, bus, cache.New(), fakeOrderSubmitter{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.State() != StateRunning {
		t.Fatalf("state = %v, want running", r.State())
	}

	topic := fmt.Sprintf("market.hl.%s.ticker", testPair())
	if err := bus.Publish(topic, types.Ticker{Venue: "hl", Pair: testPair()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return strat.tickerCount() == 1 })

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.State() != StateStopped {
		t.Fatalf("state after Stop = %v, want stopped", r.State())
	}
	if !strat.stopped {
		t.Fatal("OnStop was not called")
	}
}

func TestRunnerSuppressesTickersWhilePaused(t *testing.T) {
	bus := eventbus.New(testLogger())
	strat := &countingStrategy{}
	r := NewRunner("r2", "hl", testPair(), strat, bus, cache.New(), fakeOrderSubmitter{}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.Pause()
	waitFor(t, time.Second, func() bool { return r.State() == StatePaused })

	topic := fmt.Sprintf("market.hl.%s.ticker", testPair())
	if err := bus.Publish(topic, types.Ticker{Venue: "hl", Pair: testPair()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if strat.tickerCount() != 0 {
		t.Fatalf("ticker delivered while paused: count = %d", strat.tickerCount())
	}

	r.Resume()
	waitFor(t, time.Second, func() bool { return r.State() == StateRunning })
	if err := bus.Publish(topic, types.Ticker{Venue: "hl", Pair: testPair()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, time.Second, func() bool { return strat.tickerCount() == 1 })

	_ = r.Stop()
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	bus := eventbus.New(testLogger())
	strat := &countingStrategy{}
	r := NewRunner("r3", "hl", testPair(), strat, bus, cache.New(), fakeOrderSubmitter{}, nil, testLogger())

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
