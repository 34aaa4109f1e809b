package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"tradingd/internal/cache"
	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// SlippageModel picks how a simulated fill price is derived from the
// reference top-of-book price.
type SlippageModel string

const (
	SlippageFixed       SlippageModel = "fixed"       // a flat price offset
	SlippageProportional SlippageModel = "proportional" // a fraction of the reference price
)

// SimulatedExecutor fills every order immediately against the cached top
// of book for its pair (or the cached ticker's mark when no book side is
// cached), plus a configurable slippage and fee, per the paper
// trading model. It implements exchange.Adapter so ordermanager.Manager can
// drive it exactly as it drives a live adapter.
type SimulatedExecutor struct {
	cache         *cache.Cache
	venue         string
	slippageModel SlippageModel
	slippage      decimal.Decimal // fixed amount, or fraction if model is proportional
	feeRate       decimal.Decimal // fraction of notional
	logger        *slog.Logger

	mu     sync.Mutex
	nextID func() string

	fillCh chan types.Fill
	orderCh chan types.Order
	bookCh  chan exchange.BookEvent
	tradeCh chan exchange.TradeEvent
}

// NewSimulatedExecutor creates an executor that reads reference prices from
// c for venue and fills orders at that price offset by slippage/feeRate.
func NewSimulatedExecutor(venue string, c *cache.Cache, model SlippageModel, slippage, feeRate decimal.Decimal, logger *slog.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		cache:         c,
		venue:         venue,
		slippageModel: model,
		slippage:      slippage,
		feeRate:       feeRate,
		logger:        logger.With("component", "simulated_executor"),
		nextID:        func() string { return uuid.NewString() },
		fillCh:        make(chan types.Fill, 64),
		orderCh:       make(chan types.Order, 64),
		bookCh:        make(chan exchange.BookEvent),
		tradeCh:       make(chan exchange.TradeEvent),
	}
}

func (s *SimulatedExecutor) Connect(ctx context.Context) error    { return nil }
func (s *SimulatedExecutor) Disconnect(ctx context.Context) error { return nil }
func (s *SimulatedExecutor) IsConnected() bool                    { return true }

func (s *SimulatedExecutor) Subscribe(ctx context.Context, channel exchange.Channel, pair types.TradingPair) error {
	return nil
}

func (s *SimulatedExecutor) GetTicker(ctx context.Context, pair types.TradingPair) (types.Ticker, error) {
	t, ok := s.cache.Ticker(s.venue, pair)
	if !ok {
		return types.Ticker{}, fmt.Errorf("execution: no cached ticker for %s", pair)
	}
	return t, nil
}

func (s *SimulatedExecutor) GetOrderbook(ctx context.Context, pair types.TradingPair, depth int) (types.OrderBookSnapshot, error) {
	book, ok := s.cache.OrderBook(s.venue, pair)
	if !ok {
		return types.OrderBookSnapshot{}, fmt.Errorf("execution: no cached order book for %s", pair)
	}
	if depth > 0 && depth < len(book.Bids) {
		book.Bids = book.Bids[:depth]
	}
	if depth > 0 && depth < len(book.Asks) {
		book.Asks = book.Asks[:depth]
	}
	return book, nil
}

func (s *SimulatedExecutor) GetBalance(ctx context.Context) (types.Balance, error) {
	return types.Balance{}, nil
}

func (s *SimulatedExecutor) GetPositions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}

// GetOpenOrders always returns no orders: every submission fills
// synchronously, so nothing is ever left resting.
func (s *SimulatedExecutor) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	return nil, nil
}

func (s *SimulatedExecutor) GetSymbolMetadata(ctx context.Context, pair types.TradingPair) (types.SymbolMetadata, error) {
	return types.SymbolMetadata{Pair: pair, PriceDecimals: 8, SizeDecimals: 8}, nil
}

// SubmitOrder fills req immediately against the cached reference price for
// its pair, applying the configured slippage model and fee rate, and
// publishes the resulting Fill on FillEvents. The returned ack always
// reports FILLED: paper mode never rests an order.
func (s *SimulatedExecutor) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitAck, error) {
	ref, err := s.referencePrice(req)
	if err != nil {
		return types.SubmitAck{}, err
	}

	fillPrice := s.applySlippage(ref, req.Side)
	notional := fillPrice.Mul(req.Size).Abs()
	fee := notional.Mul(s.feeRate)

	venueOrderID := s.nextID()
	now := types.Now()

	order := types.Order{
		CorrelationID: req.CorrelationID,
		VenueOrderID:  venueOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Kind:          req.Kind,
		Size:          req.Size,
		Price:         req.Price,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		State:         types.OrderFilled,
		FilledSize:    req.Size,
		AvgFillPrice:  fillPrice,
		CumulativeFee: fee,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	fill := types.Fill{
		FillID:             uuid.NewString(),
		OrderCorrelationID: req.CorrelationID,
		VenueOrderID:       venueOrderID,
		Pair:               req.Pair,
		Side:               req.Side,
		Size:               req.Size,
		Price:              fillPrice,
		Fee:                fee,
		Timestamp:          now,
	}

	select {
	case s.orderCh <- order:
	default:
		s.logger.Warn("order event dropped, channel full", "correlation_id", req.CorrelationID)
	}
	select {
	case s.fillCh <- fill:
	default:
		s.logger.Warn("fill event dropped, channel full", "correlation_id", req.CorrelationID)
	}

	return types.SubmitAck{VenueOrderID: venueOrderID, State: types.OrderFilled, Timestamp: now}, nil
}

// referencePrice resolves the top-of-book side the order would cross: a buy
// crosses the ask, a sell crosses the bid. Falls back to the ticker's mark
// price if no order book is cached yet.
func (s *SimulatedExecutor) referencePrice(req types.OrderRequest) (decimal.Decimal, error) {
	if book, ok := s.cache.OrderBook(s.venue, req.Pair); ok {
		if req.Side == types.Buy && len(book.Asks) > 0 {
			return book.Asks[0].Price, nil
		}
		if req.Side == types.Sell && len(book.Bids) > 0 {
			return book.Bids[0].Price, nil
		}
	}
	ticker, ok := s.cache.Ticker(s.venue, req.Pair)
	if ok && ticker.Mark.IsPositive() {
		return ticker.Mark, nil
	}
	return decimal.Zero, fmt.Errorf("execution: no reference price available for %s", req.Pair)
}

func (s *SimulatedExecutor) applySlippage(ref decimal.Decimal, side types.Side) decimal.Decimal {
	var offset decimal.Decimal
	switch s.slippageModel {
	case SlippageProportional:
		offset = ref.Mul(s.slippage)
	default:
		offset = s.slippage
	}
	if side == types.Buy {
		return ref.Add(offset)
	}
	return ref.Sub(offset)
}

// CancelOrder is a no-op: a simulated order is filled before this could ever
// be called against it.
func (s *SimulatedExecutor) CancelOrder(ctx context.Context, venueOrderID string) error { return nil }

// CancelAllOrders is a no-op for the same reason as CancelOrder.
func (s *SimulatedExecutor) CancelAllOrders(ctx context.Context, pair *types.TradingPair) error {
	return nil
}

func (s *SimulatedExecutor) BookEvents() <-chan exchange.BookEvent   { return s.bookCh }
func (s *SimulatedExecutor) TradeEvents() <-chan exchange.TradeEvent { return s.tradeCh }
func (s *SimulatedExecutor) OrderEvents() <-chan types.Order         { return s.orderCh }
func (s *SimulatedExecutor) FillEvents() <-chan types.Fill           { return s.fillCh }

var _ exchange.Adapter = (*SimulatedExecutor)(nil)
