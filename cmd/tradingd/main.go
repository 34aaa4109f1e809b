// Command tradingd is a venue-agnostic trading daemon: it connects one
// exchange.Adapter, runs strategies against it under a risk gate, and
// exposes a REST+WS control plane for starting, stopping, and backtesting
// them.
//
// Architecture:
//
//	cmd/tradingd/main.go     — entry point: loads config, wires every component, waits for SIGINT/SIGTERM
//	internal/config          — Config struct tree + viper loader
//	internal/eventbus        — in-process pub/sub every component communicates over
//	internal/cache           — latest-value cache (tickers, books, positions, orders)
//	internal/exchange/hyperliquid — the venue adapter: REST + WS + EIP-712 signing
//	internal/dataengine      — mirrors the adapter's market data onto the cache and EventBus
//	internal/ordermanager    — client-side order state machine
//	internal/risk            — pre-trade checks and the kill switch
//	internal/execution       — risk-gated order submission, live or paper
//	internal/strategy        — pluggable Strategy implementations and their Runner
//	internal/enginemanager   — starts/stops/lists strategy runners and backtests
//	internal/store           — JSON file persistence for positions, PnL ledger, closed orders
//	internal/api             — REST+WS control plane over the EngineManager
//
// How it makes money:
//
//	A registered Strategy (see internal/strategy) observes bars, tickers,
//	and order book updates and decides when to submit or cancel orders.
//	Every order passes through the risk gate before it reaches the venue;
//	exceeding a configured limit trips the kill switch and halts trading.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradingd/internal/api"
	"tradingd/internal/cache"
	"tradingd/internal/config"
	"tradingd/internal/dataengine"
	"tradingd/internal/enginemanager"
	"tradingd/internal/eventbus"
	"tradingd/internal/exchange/hyperliquid"
	"tradingd/internal/execution"
	"tradingd/internal/ordermanager"
	"tradingd/internal/position"
	"tradingd/internal/risk"
	"tradingd/internal/store"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// positionSyncInterval bounds how often the live position snapshot is
// pulled from the venue, reported to the risk manager, and persisted.
const positionSyncInterval = 5 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADINGD_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	riskCfg, err := cfg.Risk.ToManagerConfig()
	if err != nil {
		logger.Error("invalid risk config", "error", err)
		os.Exit(1)
	}

	adapter, err := hyperliquid.NewAdapter(hyperliquid.Config{
		BaseURL:    cfg.Venue.BaseURL,
		WSURL:      cfg.Venue.WSURL,
		PrivateKey: cfg.Wallet.PrivateKey,
		ChainID:    cfg.Wallet.ChainID,
		Testnet:    cfg.Venue.Testnet,
		RateLimit:  cfg.RateLimit.ToExchangeConfig(),
	}, logger)
	if err != nil {
		logger.Error("failed to build exchange adapter", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := adapter.Connect(ctx); err != nil {
		logger.Error("failed to connect to venue", "venue", cfg.Venue.Name, "error", err)
		os.Exit(1)
	}

	dataStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New(logger)
	c := cache.New()
	riskMgr := risk.New(riskCfg, logger)
	orders := ordermanager.New(adapter, logger, ordermanager.WithPendingTimeout(cfg.PendingOrderTimeout()))
	tracker := position.New()
	execEngine := execution.New(cfg.Venue.Name, execution.Live, orders, riskMgr, logger)
	manager := enginemanager.New(cfg.Venue.Name, bus, c, execEngine, logger)

	dataEngine := dataengine.New(cfg.Venue.Name, adapter, bus, c, logger)
	go dataEngine.Run(ctx)

	go bridgeAccountEvents(ctx, cfg.Venue.Name, bus, orders, tracker, riskMgr, c, logger)
	go syncPositions(ctx, cfg.Venue.Name, adapter, c, tracker, riskMgr, dataStore, logger)
	go watchKillSwitch(ctx, riskMgr, manager, logger)

	apiServer := api.NewServer(cfg.API.ToAPIConfig(), manager, bus, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("control plane server failed", "error", err)
		}
	}()
	logger.Info("control plane listening", "addr", cfg.API.Addr)

	logger.Info("tradingd started",
		"venue", cfg.Venue.Name,
		"testnet", cfg.Venue.Testnet,
		"kill_switch_armed", cfg.Risk.KillSwitch,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop control plane", "error", err)
	}
	if err := adapter.Disconnect(context.Background()); err != nil {
		logger.Error("failed to disconnect from venue", "error", err)
	}
	if err := dataStore.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}

	logger.Info("shutdown complete")
}

// bridgeAccountEvents subscribes to the account.<venue>.order and
// account.<venue>.fill topics DataEngine publishes and drives the same
// state transitions backtest.Engine applies synchronously: every fill
// advances the OrderManager's order record and the PositionTracker's
// position, and the updated position is reported to the risk manager so
// its stop-loss and price-shock checks run against the live book. Without
// this bridge, order records never progress past their submission ack and
// no position/PnL state exists outside of a backtest run.
func bridgeAccountEvents(ctx context.Context, venue string, bus *eventbus.Bus, orders *ordermanager.Manager, tracker *position.Tracker, riskMgr *risk.Manager, c *cache.Cache, logger *slog.Logger) {
	orderSub := bus.Subscribe(fmt.Sprintf("account.%s.order", venue), eventbus.SubscribeOpts{Policy: eventbus.BlockPublisher})
	defer bus.Unsubscribe(orderSub)

	fillSub := bus.Subscribe(fmt.Sprintf("account.%s.fill", venue), eventbus.SubscribeOpts{Policy: eventbus.BlockPublisher})
	defer bus.Unsubscribe(fillSub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-orderSub.C():
			if !ok {
				return
			}
			order, _ := evt.Payload.(types.Order)
			if err := orders.ApplyOrderUpdate(order.VenueOrderID, order.State, order.UpdatedAt); err != nil {
				logger.Warn("apply order update", "venue_order_id", order.VenueOrderID, "error", err)
			}
		case evt, ok := <-fillSub.C():
			if !ok {
				return
			}
			fill, _ := evt.Payload.(types.Fill)
			if err := orders.ApplyFill(fill); err != nil && !errors.Is(err, ordermanager.ErrInconsistent) {
				logger.Warn("apply fill to order manager", "correlation_id", fill.OrderCorrelationID, "error", err)
			}

			pos := tracker.ApplyFill(venue, fill)
			mid := pos.EntryPrice
			if t, ok := c.Ticker(venue, pos.Pair); ok {
				mid = t.Mark
			}
			riskMgr.ReportPosition(venue, positionReport(venue, pos, mid))
		}
	}
}

// syncPositions periodically pulls the venue's authoritative position set,
// reconciling it into the PositionTracker (which preserves the realized
// PnL and fee ledger accumulated from fills, since the venue snapshot
// carries neither), reports the merged position to the risk manager, and
// persists it.
func syncPositions(ctx context.Context, venue string, adapter *hyperliquid.Adapter, c *cache.Cache, tracker *position.Tracker, riskMgr *risk.Manager, dataStore *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(positionSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshots, err := adapter.GetPositions(ctx)
			if err != nil {
				logger.Warn("position sync: fetch failed", "error", err)
				continue
			}
			for _, snapshot := range snapshots {
				pos := tracker.Reconcile(venue, snapshot)
				mid := pos.EntryPrice
				if t, ok := c.Ticker(venue, pos.Pair); ok {
					mid = t.Mark
				}
				riskMgr.ReportPosition(venue, positionReport(venue, pos, mid))
				if err := dataStore.SavePosition(pos); err != nil {
					logger.Warn("position sync: save failed", "pair", pos.Pair.String(), "error", err)
				}
			}
		}
	}
}

func positionReport(venue string, pos types.Position, mid decimal.Decimal) risk.PositionReport {
	return risk.PositionReport{
		Venue:         venue,
		Pair:          pos.Pair,
		Size:          pos.Size,
		EntryPrice:    pos.EntryPrice,
		MidPrice:      mid,
		ExposureUSD:   pos.Size.Abs().Mul(mid),
		RealizedPnL:   pos.RealizedPnL,
		UnrealizedPnL: pos.UnrealizedPnL,
		Timestamp:     pos.UpdatedAt,
	}
}

// watchKillSwitch mirrors the risk manager's kill signals onto the
// EngineManager, so a risk breach stops every running strategy and cancels
// every running backtest the same way an operator-initiated
// POST /system/kill-switch does.
func watchKillSwitch(ctx context.Context, riskMgr *risk.Manager, manager *enginemanager.Manager, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case kill := <-riskMgr.KillCh():
			logger.Warn("risk kill switch tripped", "venue", kill.Venue, "pair", kill.Pair.String(), "reason", kill.Reason)
			manager.KillSwitch()
		}
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
