// Package backtest replays historical bars through a Strategy and a
// bar-driven matching model, producing a performance report. It follows the
// same component idiom as the rest of the daemon (constructor,
// context.Context-polled Run loop, log/slog component logger), reusing
// OrderManager, PositionTracker, risk.Manager, execution.Engine, and
// strategy.Runner exactly as the live path does. Backtest is the one mode
// that bypasses the EventBus entirely: bars are delivered to the strategy
// directly and fills are wired to OrderManager/PositionTracker/risk.Manager
// in-process, synchronously.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tradingd/internal/cache"
	"tradingd/internal/eventbus"
	"tradingd/internal/execution"
	"tradingd/internal/ordermanager"
	"tradingd/internal/position"
	"tradingd/internal/risk"
	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// Config bounds one replay run.
type Config struct {
	Venue          string
	FeeRate        decimal.Decimal
	SlippageModel  execution.SlippageModel
	Slippage       decimal.Decimal
	InitialCapital decimal.Decimal
	Risk           risk.Config
}

// Engine drives one or more symbols' StrategyRunners off a DataFeed,
// routing their order intents through a bar-matching exchange.Adapter
// instead of a live venue.
type Engine struct {
	cfg     Config
	feed    DataFeed
	adapter *barAdapter

	orders    *ordermanager.Manager
	positions *position.Tracker
	riskMgr   *risk.Manager
	submitter *execution.Engine

	cache *cache.Cache
	bus   *eventbus.Bus

	runners map[string]*strategy.Runner // keyed by pair.String()
	logger  *slog.Logger

	trades         []Trade
	equity         []EquityPoint
	lastPosition   map[string]types.Position
	lastRealized   map[string]decimal.Decimal
	realizedDeltas []decimal.Decimal

	barsProcessed atomic.Int64
}

// Progress reports how many bars have been replayed so far. Safe to call
// concurrently with Run, for an EngineManager polling a running backtest.
func (e *Engine) Progress() int64 {
	return e.barsProcessed.Load()
}

// New builds an Engine over feed. Call AddSymbol for each pair the feed
// will emit bars for before calling Run.
func New(cfg Config, feed DataFeed, logger *slog.Logger) *Engine {
	logger = logger.With("component", "backtest_engine")
	adapter := newBarAdapter(cfg.FeeRate, cfg.SlippageModel, cfg.Slippage)
	orders := ordermanager.New(adapter, logger)
	riskMgr := risk.New(cfg.Risk, logger)

	return &Engine{
		cfg:          cfg,
		feed:         feed,
		adapter:      adapter,
		orders:       orders,
		positions:    position.New(),
		riskMgr:      riskMgr,
		submitter:    execution.New(cfg.Venue, execution.Paper, orders, riskMgr, logger),
		cache:        cache.New(),
		bus:          eventbus.New(logger),
		runners:      make(map[string]*strategy.Runner),
		logger:       logger,
		lastPosition: make(map[string]types.Position),
		lastRealized: make(map[string]decimal.Decimal),
	}
}

// AddSymbol registers a strategy instance to receive bars for pair. The
// feed's per-bar Pair field, not its symbol label, is what the engine
// matches against.
func (e *Engine) AddSymbol(pair types.TradingPair, strat strategy.Strategy, params map[string]string) error {
	key := pair.String()
	if _, exists := e.runners[key]; exists {
		return fmt.Errorf("backtest: %s already registered", key)
	}
	runner := strategy.NewRunner(key, e.cfg.Venue, pair, strat, e.bus, e.cache, e.submitter, params, e.logger)
	if err := runner.Start(context.Background()); err != nil {
		return fmt.Errorf("backtest: start runner for %s: %w", key, err)
	}
	e.runners[key] = runner
	return nil
}

// Run replays every bar the feed produces, in order, until the feed is
// exhausted or ctx is canceled, and returns the resulting performance
// report.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	e.feed.Reset()
	defer e.stopRunners()

	for {
		select {
		case <-ctx.Done():
			return computeReport(e.cfg.InitialCapital, e.equity, e.trades, e.realizedDeltas), ctx.Err()
		default:
		}

		symbol, bar, ok := e.feed.Next()
		if !ok {
			break
		}
		if err := e.processBar(symbol, bar); err != nil {
			e.logger.Error("process bar failed", "symbol", symbol, "pair", bar.Pair, "error", err)
		}
	}

	return computeReport(e.cfg.InitialCapital, e.equity, e.trades, e.realizedDeltas), nil
}

func (e *Engine) stopRunners() {
	for _, r := range e.runners {
		_ = r.Stop()
	}
}

func (e *Engine) processBar(symbol string, bar types.Bar) error {
	key := bar.Pair.String()
	runner, ok := e.runners[key]
	if !ok {
		return fmt.Errorf("no strategy registered for pair %s (symbol %s)", bar.Pair, symbol)
	}

	// Orders resting from earlier bars may be touched by this bar's range
	// before the strategy sees it.
	e.adapter.checkFills(bar)
	e.drainFills()

	e.adapter.setCurrentBar(bar)
	if err := runner.DeliverBar(bar); err != nil {
		e.logger.Error("strategy OnBar failed", "pair", bar.Pair, "error", err)
	}

	e.drainFills()
	e.drainOrders()

	if bar.Close != nil {
		pos := e.positions.UpdateMarkToMarket(e.cfg.Venue, bar.Pair, *bar.Close)
		e.lastPosition[key] = pos
		e.riskMgr.ReportPosition(e.cfg.Venue, positionReport(pos, *bar.Close))
	}

	e.recordEquity(bar.Timestamp)
	e.barsProcessed.Add(1)
	return nil
}

func (e *Engine) drainFills() {
	for {
		select {
		case fill := <-e.adapter.fillCh:
			e.applyFill(fill)
		default:
			return
		}
	}
}

func (e *Engine) drainOrders() {
	for {
		select {
		case <-e.adapter.orderCh:
		default:
			return
		}
	}
}

func (e *Engine) applyFill(fill types.Fill) {
	if err := e.orders.ApplyFill(fill); err != nil && !errors.Is(err, ordermanager.ErrInconsistent) {
		e.logger.Error("apply fill to order manager", "correlation_id", fill.OrderCorrelationID, "error", err)
	}

	pos := e.positions.ApplyFill(e.cfg.Venue, fill)
	key := fill.Pair.String()
	e.lastPosition[key] = pos
	e.recordRealizedDelta(key, pos.RealizedPnL)
	e.riskMgr.ReportPosition(e.cfg.Venue, positionReport(pos, fill.Price))

	e.trades = append(e.trades, Trade{
		Pair:      fill.Pair,
		Side:      fill.Side,
		Size:      fill.Size,
		Price:     fill.Price,
		Fee:       fill.Fee,
		Timestamp: fill.Timestamp,
	})
}

func (e *Engine) recordRealizedDelta(key string, realized decimal.Decimal) {
	prev := e.lastRealized[key]
	delta := realized.Sub(prev)
	if !delta.IsZero() {
		e.realizedDeltas = append(e.realizedDeltas, delta)
	}
	e.lastRealized[key] = realized
}

func (e *Engine) recordEquity(ts types.Timestamp) {
	total := e.cfg.InitialCapital
	for _, pos := range e.lastPosition {
		total = total.Add(pos.RealizedPnL).Add(pos.UnrealizedPnL)
	}
	e.equity = append(e.equity, EquityPoint{Timestamp: ts, Equity: total})
}

func positionReport(pos types.Position, mid decimal.Decimal) risk.PositionReport {
	return risk.PositionReport{
		Pair:          pos.Pair,
		Size:          pos.Size,
		EntryPrice:    pos.EntryPrice,
		MidPrice:      mid,
		ExposureUSD:   mid.Mul(pos.Size).Abs(),
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
		Timestamp:     pos.UpdatedAt,
	}
}
