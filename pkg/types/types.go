// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading runtime — trading
// pairs, orders, fills, positions, order book snapshots, and bars. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"errors"
	"fmt"
	"strings"

	"tradingd/pkg/decimal"
)

// ErrValidation wraps every error Validate returns, so callers (and the
// control plane's error-kind classifier) can recognize a malformed request
// without string-matching the message.
var ErrValidation = errors.New("order request: validation failed")

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderKind distinguishes limit from market orders.
type OrderKind string

const (
	Limit  OrderKind = "limit"
	Market OrderKind = "market"
)

// TimeInForce controls order persistence semantics.
type TimeInForce string

const (
	GTC TimeInForce = "GTC" // good-til-canceled
	IOC TimeInForce = "IOC" // immediate-or-cancel
	ALO TimeInForce = "ALO" // add-liquidity-only (post-only)
)

// OrderState is the client-side lifecycle state of an Order.
type OrderState string

const (
	OrderNew              OrderState = "NEW"
	OrderPending          OrderState = "PENDING"
	OrderOpen             OrderState = "OPEN"
	OrderPartiallyFilled  OrderState = "PARTIALLY_FILLED"
	OrderFilled           OrderState = "FILLED"
	OrderCanceling        OrderState = "CANCELING"
	OrderCanceled         OrderState = "CANCELED"
	OrderRejected         OrderState = "REJECTED"
	OrderUnknown          OrderState = "UNKNOWN"
)

// IsTerminal reports whether no further transitions are expected.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Trading pairs and symbols
// ————————————————————————————————————————————————————————————————————————

// TradingPair is a venue-agnostic (base, quote) pair, e.g. (BTC, USDC).
type TradingPair struct {
	Base  string
	Quote string
}

func (p TradingPair) String() string {
	return fmt.Sprintf("%s-%s", p.Base, p.Quote)
}

// ParseTradingPair parses the "BASE-QUOTE" form produced by String.
func ParseTradingPair(symbol string) (TradingPair, error) {
	base, quote, ok := strings.Cut(symbol, "-")
	if !ok || base == "" || quote == "" {
		return TradingPair{}, fmt.Errorf("%w: invalid symbol %q, want \"BASE-QUOTE\"", ErrValidation, symbol)
	}
	return TradingPair{Base: base, Quote: quote}, nil
}

// SymbolMapper translates between TradingPair and a venue's own symbol
// strings. Hyperliquid identifies perps by their base asset alone (e.g.
// "BTC"), so ToVenue typically drops the quote leg.
type SymbolMapper interface {
	ToVenue(pair TradingPair) string
	FromVenue(symbol string) (TradingPair, error)
}

// SymbolMetadata carries the per-symbol precision and sizing rules an
// adapter must enforce before submitting an order.
type SymbolMetadata struct {
	Pair           TradingPair
	PriceDecimals  int // max significant decimals accepted for price
	SizeDecimals   int // max significant decimals accepted for size
	MinSize        decimal.Decimal
	MaxLeverage    int
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is an immutable order intent produced by a strategy or the
// control plane. CorrelationID is caller-assigned and must be unique for
// the lifetime of the runtime; resubmitting the same CorrelationID is
// idempotent (see internal/ordermanager).
type OrderRequest struct {
	CorrelationID string
	Pair          TradingPair
	Side          Side
	Kind          OrderKind
	Size          decimal.Decimal
	Price         decimal.Decimal // required for Kind == Limit
	TimeInForce   TimeInForce
	ReduceOnly    bool
}

// Validate checks the structural invariants of a request before it reaches
// the exchange adapter.
func (r OrderRequest) Validate() error {
	if r.CorrelationID == "" {
		return fmt.Errorf("%w: correlation id required", ErrValidation)
	}
	if r.Side != Buy && r.Side != Sell {
		return fmt.Errorf("%w: invalid side %q", ErrValidation, r.Side)
	}
	if !r.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrValidation, r.Size)
	}
	if r.Kind == Limit && !r.Price.IsPositive() {
		return fmt.Errorf("%w: limit order requires a positive price", ErrValidation)
	}
	return nil
}

// Order is the mutable client-side record tracked by the order manager.
// VenueOrderID is empty until the venue acknowledges the submission.
type Order struct {
	CorrelationID string
	VenueOrderID  string
	Pair          TradingPair
	Side          Side
	Kind          OrderKind
	Size          decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   TimeInForce
	ReduceOnly    bool

	State         OrderState
	FilledSize    decimal.Decimal
	AvgFillPrice  decimal.Decimal
	CumulativeFee decimal.Decimal
	LastError     string

	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Remaining returns the unfilled portion of the order's size.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// SubmitAck is the venue's immediate response to an order submission,
// before any asynchronous fill or cancellation events arrive.
type SubmitAck struct {
	VenueOrderID string
	State        OrderState
	Timestamp    Timestamp
}

// Fill is a single execution against an order. FillID is unique per venue
// order and monotonically increasing; receivers must de-duplicate on it.
type Fill struct {
	FillID        string
	OrderCorrelationID string
	VenueOrderID  string
	Pair          TradingPair
	Side          Side
	Size          decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	Timestamp     Timestamp
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is the netted, signed-size holding for one (venue, pair). A
// positive Size is long, negative is short; zero means flat but the record
// is retained while RealizedPnL is non-zero history worth keeping.
type Position struct {
	Venue         string
	Pair          TradingPair
	Size          decimal.Decimal // signed: long > 0, short < 0
	EntryPrice    decimal.Decimal // size-weighted average of the open side
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	CumulativeFee decimal.Decimal
	Leverage      int
	MarginUsed    decimal.Decimal
	UpdatedAt     Timestamp
}

// IsFlat reports whether the position currently carries no size.
func (p Position) IsFlat() bool { return p.Size.IsZero() }

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single aggregated price level in an order book.
type PriceLevel struct {
	Price        decimal.Decimal
	Size         decimal.Decimal
	OrderCount   int
}

// OrderBookSnapshot is a point-in-time L2 view of one (venue, pair) book.
// Bids are sorted descending by price, asks ascending; both slices carry
// the best price at index 0.
type OrderBookSnapshot struct {
	Venue     string
	Pair      TradingPair
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  uint64
	Timestamp Timestamp
}

// Ticker is the latest traded/mark reference for a pair.
type Ticker struct {
	Venue         string
	Pair          TradingPair
	Mark          decimal.Decimal
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	LastTradeTime Timestamp
}

// Bar is a single OHLCV candle. OHLC fields are pointers so that "not yet
// observed" is distinguishable from "observed and exactly zero" — a
// distinction a zero-valued struct cannot express.
type Bar struct {
	Pair      TradingPair
	Open      *decimal.Decimal
	High      *decimal.Decimal
	Low       *decimal.Decimal
	Close     *decimal.Decimal
	Volume    *decimal.Decimal
	Timestamp Timestamp
}

// Balance is the free and used margin for the account, in the quote
// currency of the venue's settlement asset.
type Balance struct {
	Venue     string
	Asset     string
	Free      decimal.Decimal
	Used      decimal.Decimal
	UpdatedAt Timestamp
}
