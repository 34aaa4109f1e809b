// Package dataengine normalizes raw adapter callbacks into the internal
// event schema and fans them out to the EventBus, Cache, and per-pair
// OrderBooks. The routing table lives in its own package with one Engine
// per venue (one dispatch goroutine per adapter event channel),
// independent of any single strategy.
package dataengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tradingd/internal/cache"
	"tradingd/internal/eventbus"
	"tradingd/internal/exchange"
	"tradingd/internal/orderbook"
	"tradingd/pkg/types"
)

// Engine owns the Cache, EventBus, and OrderBooks for one venue connection
// and keeps them current from an exchange.Adapter's event channels.
type Engine struct {
	venue   string
	adapter exchange.Adapter
	bus     *eventbus.Bus
	cache   *cache.Cache
	logger  *slog.Logger

	booksMu sync.RWMutex
	books   map[types.TradingPair]*orderbook.Book

	wg sync.WaitGroup
}

// New creates a DataEngine bound to one venue's adapter, publishing
// normalized events onto bus and caching latest state in c.
func New(venue string, adapter exchange.Adapter, bus *eventbus.Bus, c *cache.Cache, logger *slog.Logger) *Engine {
	return &Engine{
		venue:   venue,
		adapter: adapter,
		bus:     bus,
		cache:   c,
		logger:  logger.With("component", "dataengine", "venue", venue),
		books:   make(map[types.TradingPair]*orderbook.Book),
	}
}

// Book returns (creating if absent) the local order book mirror for pair.
func (e *Engine) Book(pair types.TradingPair) *orderbook.Book {
	e.booksMu.RLock()
	b, ok := e.books[pair]
	e.booksMu.RUnlock()
	if ok {
		return b
	}

	e.booksMu.Lock()
	defer e.booksMu.Unlock()
	if b, ok := e.books[pair]; ok {
		return b
	}
	b = orderbook.New(e.venue, pair, e.publishResync)
	e.books[pair] = b
	return b
}

// Run dispatches adapter events until ctx is canceled. Call after the
// adapter has been connected and subscribed to the channels of interest.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(4)
	go e.dispatchBookEvents(ctx)
	go e.dispatchTradeEvents(ctx)
	go e.dispatchOrderEvents(ctx)
	go e.dispatchFillEvents(ctx)
	e.wg.Wait()
}

func (e *Engine) dispatchBookEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.adapter.BookEvents():
			if !ok {
				return
			}
			e.routeBookEvent(evt)
		}
	}
}

func (e *Engine) routeBookEvent(evt exchange.BookEvent) {
	book := e.Book(evt.Pair)

	if evt.IsSnapshot {
		book.ApplySnapshot(evt.Bids, evt.Asks, evt.Sequence, evt.Timestamp)
	} else {
		book.ApplyDelta(orderbook.Delta{
			Sequence:  evt.Sequence,
			Bids:      evt.Bids,
			Asks:      evt.Asks,
			Timestamp: evt.Timestamp,
		})
	}

	snapshot := book.Snapshot()
	e.cache.SetOrderBook(e.venue, evt.Pair, snapshot)

	topic := fmt.Sprintf("market.%s.%s.book", e.venue, evt.Pair)
	if err := e.bus.Publish(topic, snapshot); err != nil {
		e.logger.Warn("publish book event", "error", err, "topic", topic)
	}

	e.publishTicker(book, evt.Pair, evt.Timestamp)
}

// publishTicker derives a Ticker from the book's current top-of-book and
// publishes it. Neither the adapter interface nor the Hyperliquid feed
// streams a dedicated ticker channel, so this is the only source of
// market.<venue>.<pair>.ticker events.
func (e *Engine) publishTicker(book *orderbook.Book, pair types.TradingPair, ts types.Timestamp) {
	mid, ok := book.Mid()
	if !ok {
		return
	}
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()

	ticker := types.Ticker{
		Venue:         e.venue,
		Pair:          pair,
		Mark:          mid,
		Bid:           bid.Price,
		Ask:           ask.Price,
		LastTradeTime: ts,
	}
	e.cache.SetTicker(e.venue, pair, ticker)

	topic := fmt.Sprintf("market.%s.%s.ticker", e.venue, pair)
	if err := e.bus.Publish(topic, ticker); err != nil {
		e.logger.Warn("publish ticker event", "error", err, "topic", topic)
	}
}

func (e *Engine) dispatchTradeEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.adapter.TradeEvents():
			if !ok {
				return
			}
			e.routeTrade(evt)
		}
	}
}

func (e *Engine) routeTrade(evt exchange.TradeEvent) {
	topic := fmt.Sprintf("market.%s.%s.trade", e.venue, evt.Pair)
	if err := e.bus.Publish(topic, evt); err != nil {
		e.logger.Warn("publish trade event", "error", err, "topic", topic)
	}
}

func (e *Engine) dispatchOrderEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case order, ok := <-e.adapter.OrderEvents():
			if !ok {
				return
			}
			e.routeOrder(order)
		}
	}
}

func (e *Engine) routeOrder(order types.Order) {
	topic := fmt.Sprintf("account.%s.order", e.venue)
	if err := e.bus.Publish(topic, order); err != nil {
		e.logger.Warn("publish order event", "error", err, "topic", topic)
	}
}

func (e *Engine) dispatchFillEvents(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-e.adapter.FillEvents():
			if !ok {
				return
			}
			e.routeFill(fill)
		}
	}
}

func (e *Engine) routeFill(fill types.Fill) {
	topic := fmt.Sprintf("account.%s.fill", e.venue)
	if err := e.bus.Publish(topic, fill); err != nil {
		e.logger.Warn("publish fill event", "error", err, "topic", topic)
	}
}

func (e *Engine) publishResync(r orderbook.ResyncNeeded) {
	topic := fmt.Sprintf("market.%s.%s.book", e.venue, r.Pair)
	if err := e.bus.Publish(topic, r); err != nil {
		e.logger.Warn("publish resync event", "error", err, "topic", topic)
	}
	e.logger.Warn("sequence gap detected, resync requested", "pair", r.Pair, "have", r.Gap.Have, "want", r.Gap.Want)
}
