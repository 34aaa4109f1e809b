// adapter.go implements exchange.Adapter for Hyperliquid, wiring together
// the REST client, WebSocket feed, and signer behind the venue-agnostic
// interface the core depends on: a single type owns both REST and WS
// lifecycles and exposes typed event channels.
package hyperliquid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

const venueName = "hyperliquid"

// Adapter is the Hyperliquid implementation of exchange.Adapter.
type Adapter struct {
	client *Client
	feed   *Feed
	logger *slog.Logger

	connected atomic.Bool

	metaMu sync.RWMutex
	meta   map[types.TradingPair]types.SymbolMetadata

	ordersMu  sync.RWMutex
	orderAsset map[string]int // venue order id (decimal string) -> asset index, recorded at submission

	cancelRun context.CancelFunc
	runDone   chan struct{}
}

// NewAdapter builds a Hyperliquid adapter from a Config. The private key in
// cfg is used both to sign actions and to scope the authenticated
// WebSocket channels (orderUpdates, userFills) to this account.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	signer, err := NewSigner(cfg.PrivateKey, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: new adapter: %w", err)
	}

	client := NewClient(cfg, signer, logger)
	feed := NewFeed(cfg.WSURL, signer.Address().Hex(), logger)

	return &Adapter{
		client: client,
		feed:   feed,
		logger:     logger.With("component", "hyperliquid-adapter"),
		meta:       make(map[types.TradingPair]types.SymbolMetadata),
		orderAsset: make(map[string]int),
	}, nil
}

// Connect fetches the asset universe and starts the WebSocket feed loop in
// the background.
func (a *Adapter) Connect(ctx context.Context) error {
	if _, err := a.client.GetMeta(ctx); err != nil {
		return fmt.Errorf("hyperliquid: connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancelRun = cancel
	a.runDone = make(chan struct{})

	go func() {
		defer close(a.runDone)
		if err := a.feed.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("websocket feed exited", "error", err)
		}
	}()

	a.connected.Store(true)
	return nil
}

// Disconnect stops the feed loop and waits for it to exit.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancelRun != nil {
		a.cancelRun()
	}
	if a.runDone != nil {
		select {
		case <-a.runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a.connected.Store(false)
	return nil
}

// IsConnected reports whether Connect has run and Disconnect has not.
func (a *Adapter) IsConnected() bool { return a.connected.Load() }

// Subscribe subscribes to a single channel for a pair over the WebSocket
// feed. The account-scoped channels (orders, fills) ignore pair.
func (a *Adapter) Subscribe(ctx context.Context, channel exchange.Channel, pair types.TradingPair) error {
	symbol := pair.Base
	switch channel {
	case exchange.ChannelBook:
		return a.feed.SubscribeBook(symbol)
	case exchange.ChannelTrades:
		return a.feed.SubscribeTrades(symbol)
	case exchange.ChannelOrders:
		return a.feed.SubscribeOrders()
	case exchange.ChannelFills:
		return a.feed.SubscribeFills()
	default:
		return fmt.Errorf("hyperliquid: unknown channel %q", channel)
	}
}

// GetTicker derives a Ticker from the current top of book, since
// Hyperliquid has no dedicated ticker endpoint.
func (a *Adapter) GetTicker(ctx context.Context, pair types.TradingPair) (types.Ticker, error) {
	book, err := a.client.GetOrderBook(ctx, pair.Base)
	if err != nil {
		return types.Ticker{}, err
	}
	if len(book.Levels) != 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return types.Ticker{}, fmt.Errorf("hyperliquid: get ticker: empty book for %s", pair)
	}

	bid, err := decimal.Parse(book.Levels[0][0].Px)
	if err != nil {
		return types.Ticker{}, err
	}
	ask, err := decimal.Parse(book.Levels[1][0].Px)
	if err != nil {
		return types.Ticker{}, err
	}
	mid, err := bid.Add(ask).DivRound(decimal.MustParse("2"), 8, decimal.HalfEven)
	if err != nil {
		return types.Ticker{}, err
	}

	return types.Ticker{
		Venue:         venueName,
		Pair:          pair,
		Mark:          mid,
		Bid:           bid,
		Ask:           ask,
		LastTradeTime: types.Timestamp(book.Time),
	}, nil
}

// GetOrderbook fetches a fresh L2 snapshot via REST (depth is not
// configurable on Hyperliquid's l2Book endpoint; the full book is always
// returned and callers truncate as needed).
func (a *Adapter) GetOrderbook(ctx context.Context, pair types.TradingPair, depth int) (types.OrderBookSnapshot, error) {
	book, err := a.client.GetOrderBook(ctx, pair.Base)
	if err != nil {
		return types.OrderBookSnapshot{}, err
	}
	if len(book.Levels) != 2 {
		return types.OrderBookSnapshot{}, fmt.Errorf("hyperliquid: get orderbook: unexpected shape for %s", pair)
	}
	bids, err := toPriceLevels(book.Levels[0])
	if err != nil {
		return types.OrderBookSnapshot{}, err
	}
	asks, err := toPriceLevels(book.Levels[1])
	if err != nil {
		return types.OrderBookSnapshot{}, err
	}
	if depth > 0 {
		if len(bids) > depth {
			bids = bids[:depth]
		}
		if len(asks) > depth {
			asks = asks[:depth]
		}
	}

	return types.OrderBookSnapshot{
		Venue:     venueName,
		Pair:      pair,
		Bids:      bids,
		Asks:      asks,
		Timestamp: types.Timestamp(book.Time),
	}, nil
}

// GetBalance fetches the account's margin summary via clearinghouseState
// and reports it as a single USDC balance (withdrawable free, margin used).
func (a *Adapter) GetBalance(ctx context.Context) (types.Balance, error) {
	state, err := a.client.GetClearinghouseState(ctx, a.client.signer.Address().Hex())
	if err != nil {
		return types.Balance{}, fmt.Errorf("hyperliquid: get balance: %w", err)
	}

	free, err := decimal.Parse(state.Withdrawable)
	if err != nil {
		return types.Balance{}, fmt.Errorf("hyperliquid: get balance: %w", err)
	}
	used, err := decimal.Parse(state.MarginSummary.TotalMarginUsed)
	if err != nil {
		return types.Balance{}, fmt.Errorf("hyperliquid: get balance: %w", err)
	}

	return types.Balance{
		Venue:     venueName,
		Asset:     "USDC",
		Free:      free,
		Used:      used,
		UpdatedAt: types.Now(),
	}, nil
}

// GetPositions fetches every open position via clearinghouseState.
// Realized PnL and cumulative fee are not reported by this endpoint and are
// left zero; they are accumulated locally by internal/position.Tracker.
func (a *Adapter) GetPositions(ctx context.Context) ([]types.Position, error) {
	state, err := a.client.GetClearinghouseState(ctx, a.client.signer.Address().Hex())
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
	}

	now := types.Now()
	positions := make([]types.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		size, err := decimal.Parse(p.Szi)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
		}
		if size.IsZero() {
			continue
		}
		entryPrice, err := decimal.Parse(p.EntryPx)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
		}
		unrealized, err := decimal.Parse(p.UnrealizedPnl)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
		}
		marginUsed, err := decimal.Parse(p.MarginUsed)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
		}

		positions = append(positions, types.Position{
			Venue:         venueName,
			Pair:          types.TradingPair{Base: p.Coin, Quote: "USDC"},
			Size:          size,
			EntryPrice:    entryPrice,
			UnrealizedPnL: unrealized,
			Leverage:      p.Leverage.Value,
			MarginUsed:    marginUsed,
			UpdatedAt:     now,
		})
	}
	return positions, nil
}

// GetOpenOrders fetches every resting order for the account via openOrders.
// The endpoint reports remaining size rather than fills, so FilledSize is
// derived from origSz-sz and AvgFillPrice approximates to the limit price
// (openOrders carries no fill-weighted average).
func (a *Adapter) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	raw, err := a.client.GetOpenOrders(ctx, a.client.signer.Address().Hex())
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: get open orders: %w", err)
	}

	orders := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		limitPx, err := decimal.Parse(o.LimitPx)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get open orders: %w", err)
		}
		remaining, err := decimal.Parse(o.Sz)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get open orders: %w", err)
		}
		origSize, err := decimal.Parse(o.OrigSz)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: get open orders: %w", err)
		}
		filled := origSize.Sub(remaining)

		side := types.Sell
		if o.Side == "B" {
			side = types.Buy
		}
		state := types.OrderOpen
		if filled.IsPositive() {
			state = types.OrderPartiallyFilled
		}

		orders = append(orders, types.Order{
			VenueOrderID: fmt.Sprintf("%d", o.OrderID),
			Pair:         types.TradingPair{Base: o.Coin, Quote: "USDC"},
			Side:         side,
			Kind:         types.Limit,
			Size:         origSize,
			Price:        limitPx,
			State:        state,
			FilledSize:   filled,
			AvgFillPrice: limitPx,
			UpdatedAt:    types.Timestamp(o.Timestamp),
		})
	}
	return orders, nil
}

// GetSymbolMetadata resolves precision and sizing rules from the cached
// asset universe, fetching it first if needed.
func (a *Adapter) GetSymbolMetadata(ctx context.Context, pair types.TradingPair) (types.SymbolMetadata, error) {
	a.metaMu.RLock()
	m, ok := a.meta[pair]
	a.metaMu.RUnlock()
	if ok {
		return m, nil
	}

	universe, err := a.client.GetMeta(ctx)
	if err != nil {
		return types.SymbolMetadata{}, err
	}

	a.metaMu.Lock()
	defer a.metaMu.Unlock()
	for _, asset := range universe.Universe {
		p := types.TradingPair{Base: asset.Name, Quote: "USDC"}
		a.meta[p] = types.SymbolMetadata{
			Pair:          p,
			PriceDecimals: 6 - asset.SzDecimals,
			SizeDecimals:  asset.SzDecimals,
			MinSize:       decimal.Zero,
		}
	}

	m, ok = a.meta[pair]
	if !ok {
		return types.SymbolMetadata{}, fmt.Errorf("hyperliquid: unknown symbol %s", pair)
	}
	return m, nil
}

// SubmitOrder resolves the pair's asset index and submits a signed order
// action.
func (a *Adapter) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitAck, error) {
	if err := req.Validate(); err != nil {
		return types.SubmitAck{}, err
	}

	assetIdx, err := a.client.AssetIndex(req.Pair.Base)
	if err != nil {
		if _, metaErr := a.client.GetMeta(ctx); metaErr != nil {
			return types.SubmitAck{}, fmt.Errorf("hyperliquid: submit order: %w", metaErr)
		}
		assetIdx, err = a.client.AssetIndex(req.Pair.Base)
		if err != nil {
			return types.SubmitAck{}, err
		}
	}

	resp, err := a.client.SubmitOrder(ctx, req, assetIdx)
	if err != nil {
		return types.SubmitAck{}, err
	}
	if resp.Error != "" {
		return types.SubmitAck{}, fmt.Errorf("hyperliquid: submit order rejected: %s", resp.Error)
	}

	ack := types.SubmitAck{State: types.OrderPending, Timestamp: types.Now()}
	if resp.Resting != nil {
		ack.VenueOrderID = fmt.Sprintf("%d", resp.Resting.OrderID)
		ack.State = types.OrderOpen

		a.ordersMu.Lock()
		a.orderAsset[ack.VenueOrderID] = assetIdx
		a.ordersMu.Unlock()
	}
	return ack, nil
}

// CancelOrder cancels a single order. venueOrderID must be the decimal
// string form of the venue's uint64 order id, as returned in SubmitAck;
// the adapter resolves the asset index it recorded at submission time.
func (a *Adapter) CancelOrder(ctx context.Context, venueOrderID string) error {
	var orderID uint64
	if _, err := fmt.Sscanf(venueOrderID, "%d", &orderID); err != nil {
		return fmt.Errorf("hyperliquid: cancel order: invalid order id %q: %w", venueOrderID, err)
	}

	a.ordersMu.RLock()
	assetIdx, ok := a.orderAsset[venueOrderID]
	a.ordersMu.RUnlock()
	if !ok {
		return fmt.Errorf("hyperliquid: cancel order: unknown order id %q", venueOrderID)
	}

	if err := a.client.CancelOrder(ctx, assetIdx, orderID); err != nil {
		return err
	}
	a.ordersMu.Lock()
	delete(a.orderAsset, venueOrderID)
	a.ordersMu.Unlock()
	return nil
}

// CancelAllOrders cancels every resting order. pair == nil is encoded as an
// explicit null across both the asset index and order id fields.
func (a *Adapter) CancelAllOrders(ctx context.Context, pair *types.TradingPair) error {
	if pair == nil {
		return a.client.CancelAll(ctx)
	}
	assetIdx, err := a.client.AssetIndex(pair.Base)
	if err != nil {
		return err
	}
	return a.client.cancel(ctx, &assetIdx, nil)
}

func (a *Adapter) BookEvents() <-chan exchange.BookEvent   { return a.feed.BookEvents() }
func (a *Adapter) TradeEvents() <-chan exchange.TradeEvent { return a.feed.TradeEvents() }
func (a *Adapter) OrderEvents() <-chan types.Order         { return a.feed.OrderEvents() }
func (a *Adapter) FillEvents() <-chan types.Fill           { return a.feed.FillEvents() }

var _ exchange.Adapter = (*Adapter)(nil)
