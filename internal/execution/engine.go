// Package execution is the gate every order intent passes through before it
// reaches a venue: validate the request, run it past the risk engine
// (kill-switch check, per-order size cap, per-symbol and global exposure
// caps), then submit it
// either to the live adapter or to a SimulatedExecutor for paper trading,
// recording the result in an OrderManager either way. Standalone from any
// particular strategy or mode.
package execution

import (
	"context"
	"fmt"

	"log/slog"

	"tradingd/internal/ordermanager"
	"tradingd/internal/risk"
	"tradingd/pkg/types"
)

// Mode selects which path Submit routes through.
type Mode string

const (
	Live  Mode = "live"
	Paper Mode = "paper"
)

// Engine is the pre-trade gate bound to one venue and one OrderManager. In
// Live mode the OrderManager is bound to a real exchange.Adapter; in Paper
// mode it is bound to a SimulatedExecutor. Either way Engine only ever talks
// to the OrderManager, never to the adapter directly.
type Engine struct {
	venue   string
	mode    Mode
	manager *ordermanager.Manager
	risk    *risk.Manager
	logger  *slog.Logger
}

// New creates an Engine for venue in the given mode, gating submissions
// through riskMgr before handing them to manager.
func New(venue string, mode Mode, manager *ordermanager.Manager, riskMgr *risk.Manager, logger *slog.Logger) *Engine {
	return &Engine{
		venue:   venue,
		mode:    mode,
		manager: manager,
		risk:    riskMgr,
		logger:  logger.With("component", "execution", "mode", string(mode)),
	}
}

// Submit validates req, checks it against the risk engine, and places it.
// A failing risk check never reaches the venue or the simulator.
func (e *Engine) Submit(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	if err := e.risk.CheckOrder(e.venue, req); err != nil {
		e.logger.Warn("order rejected by risk engine", "correlation_id", req.CorrelationID, "error", err)
		return types.Order{}, err
	}

	order, err := e.manager.Submit(ctx, req)
	if err != nil {
		return order, fmt.Errorf("execution: submit: %w", err)
	}
	return order, nil
}

// Cancel requests cancellation of an order by correlation id.
func (e *Engine) Cancel(ctx context.Context, correlationID string) (types.Order, error) {
	return e.manager.Cancel(ctx, correlationID)
}

// Mode reports which mode this Engine was constructed with.
func (e *Engine) Mode() Mode { return e.mode }
