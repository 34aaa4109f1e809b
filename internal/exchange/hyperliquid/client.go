// client.go is the Hyperliquid REST client: JSON for queries, MessagePack
// signed actions for order placement and cancellation. Resty wiring, retry
// condition, dry-run short-circuit, and rate-limit gating target
// Hyperliquid's /info and /exchange endpoints.
package hyperliquid

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// Config configures the Hyperliquid adapter.
type Config struct {
	BaseURL       string
	WSURL         string
	PrivateKey    string
	ChainID       int64
	Testnet       bool
	DryRun        bool
	RateLimit     exchange.RateLimitConfig
}

// Client is the Hyperliquid REST API client.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *exchange.RateLimiter
	dryRun bool
	logger *slog.Logger

	assetsMu sync.RWMutex
	assetIdx map[string]int // venue symbol -> asset index, populated by GetMeta
}

// NewClient builds a REST client with rate limiting and retry.
func NewClient(cfg Config, signer *Signer, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		signer:   signer,
		rl:       exchange.NewRateLimiter(cfg.RateLimit),
		dryRun:   cfg.DryRun,
		logger:   logger.With("component", "hyperliquid-client"),
		assetIdx: make(map[string]int),
	}
}

// infoRequest is the common envelope for POST /info queries.
type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

// GetOrderBook fetches the L2 book for a symbol via POST /info {"type":"l2Book"}.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (l2BookResponse, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return l2BookResponse{}, err
	}

	var result l2BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(infoRequest{Type: "l2Book", Coin: symbol}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return l2BookResponse{}, fmt.Errorf("hyperliquid: get order book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return l2BookResponse{}, fmt.Errorf("hyperliquid: get order book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

type l2BookLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type l2BookResponse struct {
	Coin   string          `json:"coin"`
	Levels [][]l2BookLevel `json:"levels"` // [0] = bids, [1] = asks
	Time   int64           `json:"time"`
}

// meta is the /info {"type":"meta"} response: universe of tradable assets
// and their precision, used to resolve asset indices and symbol metadata.
type meta struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
	} `json:"universe"`
}

// GetMeta fetches and caches the asset universe.
func (c *Client) GetMeta(ctx context.Context) (meta, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return meta{}, err
	}
	var result meta
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(infoRequest{Type: "meta"}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return meta{}, fmt.Errorf("hyperliquid: get meta: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return meta{}, fmt.Errorf("hyperliquid: get meta: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.assetsMu.Lock()
	for i, a := range result.Universe {
		c.assetIdx[a.Name] = i
	}
	c.assetsMu.Unlock()

	return result, nil
}

// AssetIndex resolves a venue symbol to its integer asset index. Callers
// must have called GetMeta at least once.
func (c *Client) AssetIndex(symbol string) (int, error) {
	c.assetsMu.RLock()
	defer c.assetsMu.RUnlock()
	idx, ok := c.assetIdx[symbol]
	if !ok {
		return 0, fmt.Errorf("hyperliquid: unknown asset %q, call GetMeta first", symbol)
	}
	return idx, nil
}

// clearinghouseState is the /info {"type":"clearinghouseState"} response:
// margin summary and every open position for the account.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable    string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			MarginUsed    string `json:"marginUsed"`
			Leverage      struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// GetClearinghouseState fetches margin summary and open positions via
// POST /info {"type":"clearinghouseState"}.
func (c *Client) GetClearinghouseState(ctx context.Context, user string) (clearinghouseState, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return clearinghouseState{}, err
	}

	var result clearinghouseState
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(infoRequest{Type: "clearinghouseState", User: user}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return clearinghouseState{}, fmt.Errorf("hyperliquid: get clearinghouse state: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return clearinghouseState{}, fmt.Errorf("hyperliquid: get clearinghouse state: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// openOrder is a single resting order as returned by /info {"type":"openOrders"}.
type openOrder struct {
	Coin      string `json:"coin"`
	LimitPx   string `json:"limitPx"`
	OrderID   uint64 `json:"oid"`
	Side      string `json:"side"` // "B" = buy, "A" = sell
	Sz        string `json:"sz"`   // remaining size
	OrigSz    string `json:"origSz"`
	Timestamp int64  `json:"timestamp"`
}

// GetOpenOrders fetches every resting order for the account via
// POST /info {"type":"openOrders"}.
func (c *Client) GetOpenOrders(ctx context.Context, user string) ([]openOrder, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	var result []openOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(infoRequest{Type: "openOrders", User: user}).
		SetResult(&result).
		Post("/info")
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid: get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// signedExchangeRequest is the envelope every /exchange POST carries. The
// action is sent as its JSON form; the signature covers the msgpack-packed
// form of the same value, computed separately.
type signedExchangeRequest struct {
	Action    any       `json:"action"`
	Nonce     int64     `json:"nonce"`
	Signature Signature `json:"signature"`
}

// SubmitOrder signs and submits a single order action.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest, assetIdx int) (submitResponse, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would submit order", "pair", req.Pair, "side", req.Side, "size", req.Size)
		return submitResponse{Status: "ok", Resting: &restingOrder{OrderID: 0}}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return submitResponse{}, err
	}

	action := BuildPlaceAction(req, assetIdx)
	packed, err := PackForSigning(action)
	if err != nil {
		return submitResponse{}, err
	}

	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(actionHash(packed, nonce), nonce)
	if err != nil {
		return submitResponse{}, err
	}

	var result submitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(signedExchangeRequest{Action: action, Nonce: nonce, Signature: sig}).
		SetResult(&result).
		Post("/exchange")
	if err != nil {
		return submitResponse{}, fmt.Errorf("hyperliquid: submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return submitResponse{}, fmt.Errorf("hyperliquid: submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

type restingOrder struct {
	OrderID uint64 `json:"oid"`
}

type submitResponse struct {
	Status  string        `json:"status"`
	Resting *restingOrder `json:"resting,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// CancelOrder cancels a single order by asset index and order id.
func (c *Client) CancelOrder(ctx context.Context, assetIdx int, orderID uint64) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "order_id", orderID)
		return nil
	}
	return c.cancel(ctx, &assetIdx, &orderID)
}

// CancelAll cancels every resting order across every asset, encoding both
// the asset index and order id as explicit nulls.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel all orders")
		return nil
	}
	return c.cancel(ctx, nil, nil)
}

func (c *Client) cancel(ctx context.Context, assetIdx *int, orderID *uint64) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	action := BuildCancelAction(assetIdx, orderID)
	packed, err := PackForSigning(action)
	if err != nil {
		return err
	}

	nonce := time.Now().UnixMilli()
	sig, err := c.signer.SignAction(actionHash(packed, nonce), nonce)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(signedExchangeRequest{Action: action, Nonce: nonce, Signature: sig}).
		Post("/exchange")
	if err != nil {
		return fmt.Errorf("hyperliquid: cancel: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("hyperliquid: cancel: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Info("cancel submitted", "asset", assetIdx, "order_id", orderID)
	return nil
}

// actionHash is the connection-id payload the Agent typed-data message
// signs over: the packed action bytes followed by the big-endian nonce.
func actionHash(packed []byte, nonce int64) []byte {
	h := sha256.New()
	h.Write(packed)
	var nonceBytes [8]byte
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	h.Write(nonceBytes[:])
	return h.Sum(nil)
}

// toPriceLevels converts the venue's string-encoded book levels to
// Decimal-typed PriceLevel slices.
func toPriceLevels(levels []l2BookLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		price, err := decimal.Parse(lvl.Px)
		if err != nil {
			return nil, err
		}
		size, err := decimal.Parse(lvl.Sz)
		if err != nil {
			return nil, err
		}
		out = append(out, types.PriceLevel{Price: price, Size: size, OrderCount: lvl.N})
	}
	return out, nil
}
