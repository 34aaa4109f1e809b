// Package exchange defines the venue-agnostic Adapter interface the core
// consumes, plus the shared rate-limiting primitive every concrete
// adapter uses. Venue-specific implementations (wire format, signing,
// transport) live in subpackages such as internal/exchange/hyperliquid.
package exchange

import (
	"context"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// Channel identifies a subscribable market or account data stream.
type Channel string

const (
	ChannelBook    Channel = "book"
	ChannelTrades  Channel = "trades"
	ChannelOrders  Channel = "orders"
	ChannelFills   Channel = "fills"
)

// Adapter is the capability set the core requires from a venue connection.
// A concrete adapter owns its own transport, auth, and rate limiting; the
// core never observes the wire format.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Subscribe starts delivering the given channel for pair onto the
	// adapter's own event channels (BookEvents, TradeEvents, etc).
	Subscribe(ctx context.Context, channel Channel, pair types.TradingPair) error

	GetTicker(ctx context.Context, pair types.TradingPair) (types.Ticker, error)
	GetOrderbook(ctx context.Context, pair types.TradingPair, depth int) (types.OrderBookSnapshot, error)
	GetBalance(ctx context.Context) (types.Balance, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetOpenOrders(ctx context.Context) ([]types.Order, error)
	GetSymbolMetadata(ctx context.Context, pair types.TradingPair) (types.SymbolMetadata, error)

	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitAck, error)
	CancelOrder(ctx context.Context, venueOrderID string) error
	// CancelAllOrders cancels every resting order. pair == nil cancels
	// across all assets and must be encoded by the adapter as an explicit
	// null, not an omitted field.
	CancelAllOrders(ctx context.Context, pair *types.TradingPair) error

	// BookEvents, TradeEvents, OrderEvents, FillEvents expose the
	// adapter's typed streams for subscribed channels. Disconnect does not
	// close them; a consumer stops reading when its own context ends.
	BookEvents() <-chan BookEvent
	TradeEvents() <-chan TradeEvent
	OrderEvents() <-chan types.Order
	FillEvents() <-chan types.Fill
}

// BookEvent carries either a full snapshot or an incremental delta for one
// pair; exactly one of Snapshot/Delta fields (see internal/orderbook) is
// meaningful depending on IsSnapshot.
type BookEvent struct {
	Pair        types.TradingPair
	IsSnapshot  bool
	Bids        []types.PriceLevel
	Asks        []types.PriceLevel
	Sequence    uint64
	Timestamp   types.Timestamp
}

// TradeEvent is a public trade print (not necessarily ours).
type TradeEvent struct {
	Pair      types.TradingPair
	Side      types.Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp types.Timestamp
}
