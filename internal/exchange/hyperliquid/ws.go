// ws.go is the Hyperliquid WebSocket feed: JSON subscription envelopes per
// channel, reconnect with exponential backoff, and per-event-type dispatch,
// with a non-blocking dispatch-with-drop posture, targeting Hyperliquid's
// {l2Book, trades, orderUpdates, userFills} channel names.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

const (
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
	eventBufferSize  = 64
)

// wsSubscription is the subscribe/unsubscribe envelope Hyperliquid expects.
type wsSubscription struct {
	Type   string `json:"type"`
	Coin   string `json:"coin,omitempty"`
	User   string `json:"user,omitempty"`
}

type wsSubscribeMsg struct {
	Method       string         `json:"method"` // "subscribe" or "unsubscribe"
	Subscription wsSubscription `json:"subscription"`
}

// Feed manages one WebSocket connection, subscribing to book, trade, order
// and fill channels and dispatching typed events to the adapter.
type Feed struct {
	url  string
	user string // account address, required for order/fill subscriptions

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[wsSubscription]bool

	bookCh  chan exchange.BookEvent
	tradeCh chan exchange.TradeEvent
	orderCh chan types.Order
	fillCh  chan types.Fill

	logger *slog.Logger
}

// NewFeed creates a Hyperliquid WebSocket feed. user is the account
// address used for the authenticated order/fill channels; it may be empty
// if only public market data is needed.
func NewFeed(wsURL, user string, logger *slog.Logger) *Feed {
	return &Feed{
		url:        wsURL,
		user:       user,
		subscribed: make(map[wsSubscription]bool),
		bookCh:     make(chan exchange.BookEvent, bookBufferSize),
		tradeCh:    make(chan exchange.TradeEvent, bookBufferSize),
		orderCh:    make(chan types.Order, eventBufferSize),
		fillCh:     make(chan types.Fill, eventBufferSize),
		logger:     logger.With("component", "hyperliquid-ws"),
	}
}

func (f *Feed) BookEvents() <-chan exchange.BookEvent   { return f.bookCh }
func (f *Feed) TradeEvents() <-chan exchange.TradeEvent { return f.tradeCh }
func (f *Feed) OrderEvents() <-chan types.Order         { return f.orderCh }
func (f *Feed) FillEvents() <-chan types.Fill           { return f.fillCh }

// Run connects and maintains the connection with exponential backoff,
// blocking until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// SubscribeBook subscribes to the L2 book channel for a symbol.
func (f *Feed) SubscribeBook(symbol string) error {
	return f.subscribe(wsSubscription{Type: "l2Book", Coin: symbol})
}

// SubscribeTrades subscribes to the public trades channel for a symbol.
func (f *Feed) SubscribeTrades(symbol string) error {
	return f.subscribe(wsSubscription{Type: "trades", Coin: symbol})
}

// SubscribeOrders subscribes to order lifecycle updates for the account.
func (f *Feed) SubscribeOrders() error {
	return f.subscribe(wsSubscription{Type: "orderUpdates", User: f.user})
}

// SubscribeFills subscribes to fill notifications for the account.
func (f *Feed) SubscribeFills() error {
	return f.subscribe(wsSubscription{Type: "userFills", User: f.user})
}

func (f *Feed) subscribe(sub wsSubscription) error {
	f.subscribedMu.Lock()
	f.subscribed[sub] = true
	f.subscribedMu.Unlock()
	return f.writeJSON(wsSubscribeMsg{Method: "subscribe", Subscription: sub})
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	f.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) resubscribeAll() error {
	f.subscribedMu.RLock()
	subs := make([]wsSubscription, 0, len(f.subscribed))
	for s := range f.subscribed {
		subs = append(subs, s)
	}
	f.subscribedMu.RUnlock()

	for _, s := range subs {
		if err := f.writeJSON(wsSubscribeMsg{Method: "subscribe", Subscription: s}); err != nil {
			return err
		}
	}
	return nil
}

// wsEnvelope peeks at the channel name to route the payload.
type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func (f *Feed) dispatchMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch env.Channel {
	case "l2Book":
		f.dispatchBook(env.Data)
	case "trades":
		f.dispatchTrades(env.Data)
	case "orderUpdates":
		f.dispatchOrders(env.Data)
	case "userFills":
		f.dispatchFills(env.Data)
	case "pong", "subscriptionResponse":
		f.logger.Debug("ignoring control message", "channel", env.Channel)
	default:
		f.logger.Debug("unknown ws channel", "channel", env.Channel)
	}
}

type wireBookEvent struct {
	Coin   string          `json:"coin"`
	Levels [][]l2BookLevel `json:"levels"`
	Time   int64           `json:"time"`
}

func (f *Feed) dispatchBook(raw json.RawMessage) {
	var evt wireBookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		f.logger.Error("unmarshal book event", "error", err)
		return
	}
	if len(evt.Levels) != 2 {
		f.logger.Warn("unexpected book shape", "coin", evt.Coin)
		return
	}
	bids, err := toPriceLevels(evt.Levels[0])
	if err != nil {
		f.logger.Error("parse bid levels", "error", err)
		return
	}
	asks, err := toPriceLevels(evt.Levels[1])
	if err != nil {
		f.logger.Error("parse ask levels", "error", err)
		return
	}

	out := exchange.BookEvent{
		Pair:       types.TradingPair{Base: evt.Coin, Quote: "USDC"},
		IsSnapshot: true,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  types.Timestamp(evt.Time),
	}
	select {
	case f.bookCh <- out:
	default:
		f.logger.Warn("book channel full, dropping event", "coin", evt.Coin)
	}
}

type wireTrade struct {
	Coin string `json:"coin"`
	Side string `json:"side"` // "B" or "A"
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

func (f *Feed) dispatchTrades(raw json.RawMessage) {
	var trades []wireTrade
	if err := json.Unmarshal(raw, &trades); err != nil {
		f.logger.Error("unmarshal trades event", "error", err)
		return
	}
	for _, tr := range trades {
		price, err := decimal.Parse(tr.Px)
		if err != nil {
			f.logger.Error("parse trade price", "error", err)
			continue
		}
		size, err := decimal.Parse(tr.Sz)
		if err != nil {
			f.logger.Error("parse trade size", "error", err)
			continue
		}
		side := types.Buy
		if tr.Side == "A" {
			side = types.Sell
		}
		evt := exchange.TradeEvent{
			Pair:      types.TradingPair{Base: tr.Coin, Quote: "USDC"},
			Side:      side,
			Price:     price,
			Size:      size,
			Timestamp: types.Timestamp(tr.Time),
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "coin", tr.Coin)
		}
	}
}

func (f *Feed) dispatchOrders(raw json.RawMessage) {
	f.logger.Debug("order update received", "raw", string(raw))
	// Order updates (and, in dispatchFills, fills) are only logged: nothing
	// decodes them, so OrderEvents and FillEvents never carry a value from
	// this feed.
}

func (f *Feed) dispatchFills(raw json.RawMessage) {
	f.logger.Debug("fill received", "raw", string(raw))
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]string{"method": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
