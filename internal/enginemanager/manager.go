// Package enginemanager is the control plane's single source of truth for
// runner lifecycle: a registry of live/paper StrategyRunners and a registry
// of BacktestEngine runs, each keyed by a generated uuid.UUID, plus a
// process-wide kill switch.
//
// Two uuid-keyed registries (live/paper runners, backtest runs) drive any
// registered Strategy, guarded by a single mutex. A manager-level
// KillSwitch stops every registered runner at once.
package enginemanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tradingd/internal/backtest"
	"tradingd/internal/cache"
	"tradingd/internal/eventbus"
	"tradingd/internal/strategy"
	"tradingd/pkg/types"
)

// StrategyInfo is the lifecycle snapshot returned by Get/List for a live or
// paper strategy runner.
type StrategyInfo struct {
	ID    uuid.UUID
	Name  string
	Venue string
	Pair  types.TradingPair
	State strategy.State
}

type strategySlot struct {
	id     uuid.UUID
	name   string
	pair   types.TradingPair
	runner *strategy.Runner
	cancel context.CancelFunc
}

// BacktestStatus is a running backtest's lifecycle state.
type BacktestStatus string

const (
	BacktestRunning   BacktestStatus = "running"
	BacktestCompleted BacktestStatus = "completed"
	BacktestFailed    BacktestStatus = "failed"
	BacktestCanceled  BacktestStatus = "canceled"
)

// BacktestProgress is a point-in-time snapshot of a running or finished
// backtest, returned by Progress.
type BacktestProgress struct {
	Status       BacktestStatus
	BarsReplayed int64
	Err          error
}

type backtestSlot struct {
	id     uuid.UUID
	engine *backtest.Engine
	cancel context.CancelFunc

	mu     sync.Mutex
	status BacktestStatus
	report backtest.Report
	err    error
}

// Manager holds two runner registries (live/paper strategies, backtests)
// and the shared collaborators new strategy runners are wired against.
// Backtests build their own isolated OrderManager/PositionTracker/
// risk.Manager internally (see backtest.Engine) and never touch these.
type Manager struct {
	venue     string
	bus       *eventbus.Bus
	cache     *cache.Cache
	submitter strategy.OrderSubmitter
	logger    *slog.Logger

	mu              sync.RWMutex
	strategyRunners map[uuid.UUID]*strategySlot
	backtestRunners map[uuid.UUID]*backtestSlot
	killed          bool
}

// New builds a Manager for one venue's shared Cache, EventBus, and
// order-submission gate (typically an *execution.Engine, which satisfies
// strategy.OrderSubmitter).
func New(venue string, bus *eventbus.Bus, c *cache.Cache, submitter strategy.OrderSubmitter, logger *slog.Logger) *Manager {
	return &Manager{
		venue:           venue,
		bus:             bus,
		cache:           c,
		submitter:       submitter,
		logger:          logger.With("component", "engine_manager"),
		strategyRunners: make(map[uuid.UUID]*strategySlot),
		backtestRunners: make(map[uuid.UUID]*backtestSlot),
	}
}

// StrategyConfig names the strategy and pair to run, plus its construction
// params, for StartStrategy.
type StrategyConfig struct {
	Strategy string
	Pair     types.TradingPair
	Params   map[string]string
}

// StartStrategy constructs and starts a new StrategyRunner, returning its
// assigned id. Refused while the kill switch is tripped.
func (m *Manager) StartStrategy(ctx context.Context, cfg StrategyConfig) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killed {
		return uuid.Nil, fmt.Errorf("engine manager: kill switch is active, refusing to start %q", cfg.Strategy)
	}

	strat, err := strategy.New(cfg.Strategy, cfg.Params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("engine manager: %w", err)
	}

	id := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	runner := strategy.NewRunner(id.String(), m.venue, cfg.Pair, strat, m.bus, m.cache, m.submitter, cfg.Params, m.logger)
	if err := runner.Start(runCtx); err != nil {
		cancel()
		return uuid.Nil, fmt.Errorf("engine manager: start %q: %w", cfg.Strategy, err)
	}

	m.strategyRunners[id] = &strategySlot{id: id, name: cfg.Strategy, pair: cfg.Pair, runner: runner, cancel: cancel}
	return id, nil
}

func (m *Manager) getStrategySlot(id uuid.UUID) (*strategySlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.strategyRunners[id]
	return slot, ok
}

// Pause suspends event delivery to a running strategy.
func (m *Manager) Pause(id uuid.UUID) error {
	slot, ok := m.getStrategySlot(id)
	if !ok {
		return fmt.Errorf("engine manager: unknown strategy runner %s", id)
	}
	slot.runner.Pause()
	return nil
}

// Resume resumes a paused strategy.
func (m *Manager) Resume(id uuid.UUID) error {
	slot, ok := m.getStrategySlot(id)
	if !ok {
		return fmt.Errorf("engine manager: unknown strategy runner %s", id)
	}
	slot.runner.Resume()
	return nil
}

// Stop tears a strategy runner down and removes it from the registry.
// Idempotent: stopping an already-stopped or unknown id succeeds silently.
func (m *Manager) Stop(id uuid.UUID) error {
	m.mu.Lock()
	slot, ok := m.strategyRunners[id]
	if ok {
		delete(m.strategyRunners, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	defer slot.cancel()
	return slot.runner.Stop()
}

// Get reports one strategy runner's current lifecycle snapshot.
func (m *Manager) Get(id uuid.UUID) (StrategyInfo, error) {
	slot, ok := m.getStrategySlot(id)
	if !ok {
		return StrategyInfo{}, fmt.Errorf("engine manager: unknown strategy runner %s", id)
	}
	return StrategyInfo{ID: slot.id, Name: slot.name, Venue: m.venue, Pair: slot.pair, State: slot.runner.State()}, nil
}

// List reports every registered strategy runner's current snapshot.
func (m *Manager) List() []StrategyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StrategyInfo, 0, len(m.strategyRunners))
	for _, slot := range m.strategyRunners {
		out = append(out, StrategyInfo{ID: slot.id, Name: slot.name, Venue: m.venue, Pair: slot.pair, State: slot.runner.State()})
	}
	return out
}

// BacktestConfig names the strategies, pairs, and feed a single backtest
// run should replay, plus the replay engine's own Config.
type BacktestConfig struct {
	Engine  backtest.Config
	Feed    backtest.DataFeed
	Symbols []BacktestSymbol
}

// BacktestSymbol is one pair/strategy pairing within a backtest run.
type BacktestSymbol struct {
	Pair     types.TradingPair
	Strategy string
	Params   map[string]string
}

// StartBacktest builds a backtest.Engine from cfg and runs it to completion
// on a background goroutine, returning its id immediately. Poll Progress
// until the run finishes, then read Result; Result does not wait and
// errors while the run is still going.
func (m *Manager) StartBacktest(ctx context.Context, cfg BacktestConfig) (uuid.UUID, error) {
	m.mu.Lock()
	if m.killed {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("engine manager: kill switch is active, refusing to start a backtest")
	}
	m.mu.Unlock()

	eng := backtest.New(cfg.Engine, cfg.Feed, m.logger)
	for _, sym := range cfg.Symbols {
		strat, err := strategy.New(sym.Strategy, sym.Params)
		if err != nil {
			return uuid.Nil, fmt.Errorf("engine manager: %w", err)
		}
		if err := eng.AddSymbol(sym.Pair, strat, sym.Params); err != nil {
			return uuid.Nil, fmt.Errorf("engine manager: %w", err)
		}
	}

	id := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	slot := &backtestSlot{id: id, engine: eng, cancel: cancel, status: BacktestRunning}

	m.mu.Lock()
	m.backtestRunners[id] = slot
	m.mu.Unlock()

	go func() {
		report, err := eng.Run(runCtx)
		slot.mu.Lock()
		defer slot.mu.Unlock()
		slot.report = report
		switch {
		case err != nil && runCtx.Err() != nil:
			slot.status = BacktestCanceled
			slot.err = err
		case err != nil:
			slot.status = BacktestFailed
			slot.err = err
		default:
			slot.status = BacktestCompleted
		}
	}()

	return id, nil
}

func (m *Manager) getBacktestSlot(id uuid.UUID) (*backtestSlot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.backtestRunners[id]
	return slot, ok
}

// Progress reports a running or finished backtest's status and bar count.
func (m *Manager) Progress(id uuid.UUID) (BacktestProgress, error) {
	slot, ok := m.getBacktestSlot(id)
	if !ok {
		return BacktestProgress{}, fmt.Errorf("engine manager: unknown backtest %s", id)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return BacktestProgress{Status: slot.status, BarsReplayed: slot.engine.Progress(), Err: slot.err}, nil
}

// Result returns the final report of a completed backtest. Errors if the
// backtest is still running or did not complete successfully.
func (m *Manager) Result(id uuid.UUID) (backtest.Report, error) {
	slot, ok := m.getBacktestSlot(id)
	if !ok {
		return backtest.Report{}, fmt.Errorf("engine manager: unknown backtest %s", id)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	switch slot.status {
	case BacktestCompleted:
		return slot.report, nil
	case BacktestRunning:
		return backtest.Report{}, fmt.Errorf("engine manager: backtest %s is still running", id)
	default:
		return backtest.Report{}, fmt.Errorf("engine manager: backtest %s did not complete: %w", id, slot.err)
	}
}

// Cancel requests that a running backtest stop at its next bar boundary.
// A no-op for an unknown or already-finished id.
func (m *Manager) Cancel(id uuid.UUID) error {
	slot, ok := m.getBacktestSlot(id)
	if !ok {
		return nil
	}
	slot.cancel()
	return nil
}

// KillSwitch stops every registered strategy runner and cancels every
// running backtest, then refuses new Start* calls until ClearKillSwitch.
func (m *Manager) KillSwitch() {
	m.mu.Lock()
	m.killed = true
	strategies := make([]*strategySlot, 0, len(m.strategyRunners))
	for _, slot := range m.strategyRunners {
		strategies = append(strategies, slot)
	}
	m.strategyRunners = make(map[uuid.UUID]*strategySlot)
	backtests := make([]*backtestSlot, 0, len(m.backtestRunners))
	for _, slot := range m.backtestRunners {
		backtests = append(backtests, slot)
	}
	m.mu.Unlock()

	for _, slot := range strategies {
		slot.cancel()
		if err := slot.runner.Stop(); err != nil {
			m.logger.Error("kill switch: stop strategy runner", "id", slot.id, "error", err)
		}
	}
	for _, slot := range backtests {
		slot.cancel()
	}

	m.logger.Warn("kill switch engaged", "strategies_stopped", len(strategies), "backtests_canceled", len(backtests))
}

// ClearKillSwitch re-allows Start* calls after a KillSwitch trip.
func (m *Manager) ClearKillSwitch() {
	m.mu.Lock()
	m.killed = false
	m.mu.Unlock()
}

// KillSwitchActive reports whether new Start* calls are currently refused.
func (m *Manager) KillSwitchActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killed
}
