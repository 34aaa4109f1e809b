// Package strategy defines the capability interface every trading strategy
// implements and the Runner that drives one strategy instance through its
// lifecycle in live, paper, or backtest mode. A single Strategy interface
// with method dispatch (OnBar/OnTicker/OnOrderbook/...) gives the runtime's
// live, paper, and backtest paths an identical producer/consumer contract.
package strategy

import (
	"context"
	"log/slog"
	"time"

	"tradingd/internal/cache"
	"tradingd/pkg/types"
)

// Strategy is the capability set the Runner requires. Every callback must
// return quickly: none may block on external I/O, since the Runner invokes
// them synchronously off the EventBus (or the backtest replay loop).
type Strategy interface {
	// OnInit runs once before the first event is delivered.
	OnInit(ctx *Context) error

	// OnBar is called for each finalized candle on a subscribed symbol.
	OnBar(bar types.Bar) error

	// OnTicker is called for each ticker update. Live and paper modes only.
	OnTicker(ticker types.Ticker) error

	// OnOrderbook is called for each book update, only if WantsOrderbook
	// returns true. Live and paper modes only.
	OnOrderbook(book types.OrderBookSnapshot) error

	// OnOrderUpdate and OnFill are post-trade lifecycle callbacks.
	OnOrderUpdate(order types.Order) error
	OnFill(fill types.Fill) error

	// OnStop runs once as the Runner is shutting the strategy down.
	OnStop() error

	// RequiredHistory is how many bars the strategy needs before it
	// trades. The Runner does not read it and delivers every bar to OnBar;
	// the strategy itself holds off trading until it has seen that many
	// bars (DualMA submits nothing before slow_period bars).
	RequiredHistory() int

	// WantsOrderbook opts a strategy into OnOrderbook callbacks. Most
	// strategies only need bars and tickers; this avoids paying for book
	// delivery when unused.
	WantsOrderbook() bool
}

// OrderSubmitter is the order-submission surface a Context exposes to a
// strategy. execution.Engine satisfies this without strategy importing
// execution, since execution already depends on ordermanager and risk and
// a straight import here would cycle back through backtest's use of both
// packages.
type OrderSubmitter interface {
	Submit(ctx context.Context, req types.OrderRequest) (types.Order, error)
	Cancel(ctx context.Context, correlationID string) (types.Order, error)
}

// Context is handed to OnInit and held by the strategy for the remainder of
// its life. It exposes read access to market/account state and the one path
// by which a strategy may place orders.
type Context struct {
	Venue  string
	Pair   types.TradingPair
	Cache  *cache.Cache
	Logger *slog.Logger
	Orders OrderSubmitter

	// Now returns the current time. Live and paper Runners set this to
	// time.Now; backtest sets it to the replay clock so strategies never
	// need to know which mode they're running under.
	Now func() time.Time

	// Params carries the strategy-specific parameters the control plane
	// (or a backtest configuration) supplied at start time.
	Params map[string]string
}
