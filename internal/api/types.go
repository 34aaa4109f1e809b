package api

import (
	"time"

	"github.com/google/uuid"

	"tradingd/internal/backtest"
	"tradingd/internal/enginemanager"
	"tradingd/internal/errs"
	"tradingd/pkg/types"
)

// ErrorResponse is the body of every non-2xx REST response: a stable
// machine-readable code plus a human-readable message, per the documented
// error-kind -> HTTP status mapping.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorResponse(err error) (int, ErrorResponse) {
	kind := errs.Classify(err)
	return kind.HTTPStatus(), ErrorResponse{Code: kind.Code(), Message: err.Error()}
}

// StartStrategyRequest is the body of POST /strategy.
type StartStrategyRequest struct {
	Strategy string            `json:"strategy"`
	Symbol   string            `json:"symbol"` // "BASE-QUOTE"
	Params   map[string]string `json:"params"`
}

// StartStrategyResponse is the body returned from POST /strategy.
type StartStrategyResponse struct {
	ID uuid.UUID `json:"id"`
}

// StrategySnapshot is the JSON form of enginemanager.StrategyInfo returned
// by GET /strategy and GET /strategy/:id.
type StrategySnapshot struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"strategy"`
	Venue  string    `json:"venue"`
	Symbol string    `json:"symbol"`
	State  string    `json:"state"`
}

func toStrategySnapshot(info enginemanager.StrategyInfo) StrategySnapshot {
	return StrategySnapshot{
		ID:     info.ID,
		Name:   info.Name,
		Venue:  info.Venue,
		Symbol: info.Pair.String(),
		State:  string(info.State),
	}
}

// StartBacktestRequest is the body of POST /backtest/run. The bar data to
// replay travels inline in the body: each symbol's Bars become that
// symbol's series in the run's in-memory feed.
type StartBacktestRequest struct {
	Venue          string                `json:"venue"`
	FeeRate        string                `json:"fee_rate"`
	SlippageModel  string                `json:"slippage_model"` // "fixed" | "proportional"
	Slippage       string                `json:"slippage"`
	InitialCapital string                `json:"initial_capital"`
	Symbols        []StartBacktestSymbol `json:"symbols"`
}

// StartBacktestSymbol names one pair/strategy pairing and its bar data for
// a backtest run.
type StartBacktestSymbol struct {
	Symbol   string            `json:"symbol"`
	Strategy string            `json:"strategy"`
	Params   map[string]string `json:"params"`
	Bars     []BarDTO          `json:"bars"`
}

// BarDTO is the wire form of types.Bar: decimals as strings, timestamp as
// epoch milliseconds, matching pkg/decimal's string-based (de)serialization
// convention.
type BarDTO struct {
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// StartBacktestResponse is the body returned from POST /backtest/run.
type StartBacktestResponse struct {
	ID uuid.UUID `json:"id"`
}

// BacktestProgressResponse is the body of GET /backtest/:id/progress.
type BacktestProgressResponse struct {
	Status       string `json:"status"`
	BarsReplayed int64  `json:"bars_replayed"`
	Error        string `json:"error,omitempty"`
}

func toProgressResponse(p enginemanager.BacktestProgress) BacktestProgressResponse {
	resp := BacktestProgressResponse{Status: string(p.Status), BarsReplayed: p.BarsReplayed}
	if p.Err != nil {
		resp.Error = p.Err.Error()
	}
	return resp
}

// BacktestResultResponse is the body of GET /backtest/:id/result.
type BacktestResultResponse struct {
	Report backtest.Report `json:"report"`
}

// KillSwitchRequest is the body of POST /system/kill-switch. Engage=false
// clears a previously-tripped kill switch.
type KillSwitchRequest struct {
	Engage bool `json:"engage"`
}

// EventEnvelope wraps every message pushed to a WebSocket client, whether
// it originated from an EventBus subscription or a command response.
type EventEnvelope struct {
	Type      string      `json:"type"` // "event", "status", "ack", "error"
	Topic     string      `json:"topic,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ClientCommand is a message a WebSocket client sends to the hub: either a
// bus subscription request or a strategy.* control command mirroring the
// REST surface.
type ClientCommand struct {
	Action   string            `json:"action"` // "subscribe", "unsubscribe", "strategy.start", "strategy.pause", "strategy.resume", "strategy.stop"
	Pattern  string            `json:"pattern,omitempty"`
	Strategy string            `json:"strategy,omitempty"`
	Symbol   string            `json:"symbol,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	ID       string            `json:"id,omitempty"`
}

func parsePair(symbol string) (types.TradingPair, error) {
	return types.ParseTradingPair(symbol)
}
