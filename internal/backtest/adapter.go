package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tradingd/internal/exchange"
	"tradingd/internal/execution"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// restingOrder is a limit order waiting for a future bar's range to touch
// its price.
type restingOrder struct {
	req          types.OrderRequest
	venueOrderID string
}

// barAdapter matches order intents against bar data instead of a live
// order book: a market order fills at the open of the bar current when it
// is submitted; a limit order rests until a later bar's [low, high] range
// touches its price (touch-fill), per the replay's matching rule. It
// implements exchange.Adapter so ordermanager.Manager drives it the same
// way it drives a live venue or execution.SimulatedExecutor.
//
// Grounded on execution.SimulatedExecutor's shape (cache-backed reference
// price, slippage model, channel-delivered fills) but matched against bar
// ranges instead of a cached book, since replay has no live order book.
type barAdapter struct {
	feeRate       decimal.Decimal
	slippageModel execution.SlippageModel
	slippage      decimal.Decimal

	mu         sync.Mutex
	currentBar map[string]types.Bar // pair.String() -> bar in progress
	resting    map[string][]restingOrder
	seq        int

	fillCh  chan types.Fill
	orderCh chan types.Order
	bookCh  chan exchange.BookEvent
	tradeCh chan exchange.TradeEvent
}

func newBarAdapter(feeRate decimal.Decimal, model execution.SlippageModel, slippage decimal.Decimal) *barAdapter {
	return &barAdapter{
		feeRate:       feeRate,
		slippageModel: model,
		slippage:      slippage,
		currentBar:    make(map[string]types.Bar),
		resting:       make(map[string][]restingOrder),
		fillCh:        make(chan types.Fill, 256),
		orderCh:       make(chan types.Order, 256),
		bookCh:        make(chan exchange.BookEvent),
		tradeCh:       make(chan exchange.TradeEvent),
	}
}

// setCurrentBar records the bar a pair is on, used as the reference price
// for market orders submitted while that bar is being delivered.
func (a *barAdapter) setCurrentBar(bar types.Bar) {
	a.mu.Lock()
	a.currentBar[bar.Pair.String()] = bar
	a.mu.Unlock()
}

// checkFills matches every resting order for bar.Pair against bar's
// [low, high] range, filling touched orders at their limit price and
// publishing a Fill for each.
func (a *barAdapter) checkFills(bar types.Bar) {
	if bar.Low == nil || bar.High == nil {
		return
	}
	key := bar.Pair.String()

	a.mu.Lock()
	pending := a.resting[key]
	var remaining, touched []restingOrder
	for _, o := range pending {
		if touches(*bar.Low, *bar.High, o.req.Price) {
			touched = append(touched, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	a.resting[key] = remaining
	a.mu.Unlock()

	for _, o := range touched {
		notional := o.req.Price.Mul(o.req.Size).Abs()
		fill := types.Fill{
			FillID:             uuid.NewString(),
			OrderCorrelationID: o.req.CorrelationID,
			VenueOrderID:       o.venueOrderID,
			Pair:               o.req.Pair,
			Side:               o.req.Side,
			Size:               o.req.Size,
			Price:              o.req.Price,
			Fee:                notional.Mul(a.feeRate),
			Timestamp:          bar.Timestamp,
		}
		select {
		case a.fillCh <- fill:
		default:
		}
	}
}

func touches(low, high, price decimal.Decimal) bool {
	return !price.LessThan(low) && !price.GreaterThan(high)
}

func (a *barAdapter) Connect(context.Context) error    { return nil }
func (a *barAdapter) Disconnect(context.Context) error { return nil }
func (a *barAdapter) IsConnected() bool                { return true }

func (a *barAdapter) Subscribe(context.Context, exchange.Channel, types.TradingPair) error { return nil }

func (a *barAdapter) GetTicker(context.Context, types.TradingPair) (types.Ticker, error) {
	return types.Ticker{}, fmt.Errorf("backtest: no live ticker, replay is bar-driven")
}

func (a *barAdapter) GetOrderbook(context.Context, types.TradingPair, int) (types.OrderBookSnapshot, error) {
	return types.OrderBookSnapshot{}, fmt.Errorf("backtest: no live order book, replay is bar-driven")
}

func (a *barAdapter) GetBalance(context.Context) (types.Balance, error) { return types.Balance{}, nil }

func (a *barAdapter) GetPositions(context.Context) ([]types.Position, error) { return nil, nil }

// GetOpenOrders is not used: the backtest engine tracks resting orders
// itself and never calls Reconcile.
func (a *barAdapter) GetOpenOrders(context.Context) ([]types.Order, error) { return nil, nil }

func (a *barAdapter) GetSymbolMetadata(context.Context, types.TradingPair) (types.SymbolMetadata, error) {
	return types.SymbolMetadata{PriceDecimals: 8, SizeDecimals: 8}, nil
}

// SubmitOrder fills a market order immediately at the current bar's open
// plus slippage, or registers a limit order to rest until checkFills
// touches it on a later bar.
func (a *barAdapter) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitAck, error) {
	key := req.Pair.String()

	a.mu.Lock()
	bar, ok := a.currentBar[key]
	a.seq++
	venueOrderID := fmt.Sprintf("bt-%d", a.seq)
	a.mu.Unlock()

	if !ok || bar.Open == nil {
		return types.SubmitAck{}, fmt.Errorf("backtest: no bar open price available yet for %s", req.Pair)
	}
	now := bar.Timestamp

	if req.Kind == types.Market {
		fillPrice := a.applySlippage(*bar.Open, req.Side)
		notional := fillPrice.Mul(req.Size).Abs()
		fill := types.Fill{
			FillID:             uuid.NewString(),
			OrderCorrelationID: req.CorrelationID,
			VenueOrderID:       venueOrderID,
			Pair:               req.Pair,
			Side:               req.Side,
			Size:               req.Size,
			Price:              fillPrice,
			Fee:                notional.Mul(a.feeRate),
			Timestamp:          now,
		}
		select {
		case a.fillCh <- fill:
		default:
		}
		return types.SubmitAck{VenueOrderID: venueOrderID, State: types.OrderFilled, Timestamp: now}, nil
	}

	if !req.Price.IsPositive() {
		return types.SubmitAck{}, fmt.Errorf("backtest: limit order requires a positive price")
	}

	a.mu.Lock()
	a.resting[key] = append(a.resting[key], restingOrder{req: req, venueOrderID: venueOrderID})
	a.mu.Unlock()

	select {
	case a.orderCh <- types.Order{
		CorrelationID: req.CorrelationID,
		VenueOrderID:  venueOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Kind:          req.Kind,
		Size:          req.Size,
		Price:         req.Price,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		State:         types.OrderOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}:
	default:
	}

	return types.SubmitAck{VenueOrderID: venueOrderID, State: types.OrderOpen, Timestamp: now}, nil
}

func (a *barAdapter) applySlippage(ref decimal.Decimal, side types.Side) decimal.Decimal {
	var offset decimal.Decimal
	switch a.slippageModel {
	case execution.SlippageProportional:
		offset = ref.Mul(a.slippage)
	default:
		offset = a.slippage
	}
	if side == types.Buy {
		return ref.Add(offset)
	}
	return ref.Sub(offset)
}

// CancelOrder drops a resting order by venue id, if still pending.
func (a *barAdapter) CancelOrder(ctx context.Context, venueOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, orders := range a.resting {
		for i, o := range orders {
			if o.venueOrderID == venueOrderID {
				a.resting[key] = append(orders[:i], orders[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// CancelAllOrders drops every resting order for pair, or every resting
// order across all pairs if pair is nil.
func (a *barAdapter) CancelAllOrders(ctx context.Context, pair *types.TradingPair) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pair == nil {
		a.resting = make(map[string][]restingOrder)
		return nil
	}
	delete(a.resting, pair.String())
	return nil
}

func (a *barAdapter) BookEvents() <-chan exchange.BookEvent   { return a.bookCh }
func (a *barAdapter) TradeEvents() <-chan exchange.TradeEvent { return a.tradeCh }
func (a *barAdapter) OrderEvents() <-chan types.Order         { return a.orderCh }
func (a *barAdapter) FillEvents() <-chan types.Fill           { return a.fillCh }

var _ exchange.Adapter = (*barAdapter)(nil)
