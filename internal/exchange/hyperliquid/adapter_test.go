package hyperliquid

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradingd/internal/exchange"
	"tradingd/pkg/types"
)

func TestNewAdapterSatisfiesExchangeAdapter(t *testing.T) {
	a, err := NewAdapter(Config{
		BaseURL:   "http://127.0.0.1:0",
		WSURL:     "ws://127.0.0.1:0",
		PrivateKey: testPrivateKeyHex,
		ChainID:   421614,
		DryRun:    true,
		RateLimit: exchange.DefaultRateLimitConfig,
	}, discardLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	var _ exchange.Adapter = a
	if a.IsConnected() {
		t.Errorf("expected adapter to start disconnected")
	}
}

func TestCancelOrderUnknownIDErrors(t *testing.T) {
	a, err := NewAdapter(Config{
		BaseURL:    "http://127.0.0.1:0",
		WSURL:      "ws://127.0.0.1:0",
		PrivateKey: testPrivateKeyHex,
		ChainID:    421614,
		DryRun:     true,
		RateLimit:  exchange.DefaultRateLimitConfig,
	}, discardLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	err = a.CancelOrder(context.Background(), "999")
	if err == nil {
		t.Fatalf("expected error canceling an order id never recorded at submission")
	}
}

func TestGetBalanceReportsWithdrawableAndMarginUsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"marginSummary": {"accountValue": "10000", "totalMarginUsed": "250.5"},
			"withdrawable": "9749.5",
			"assetPositions": []
		}`)
	}))
	defer server.Close()

	a, err := NewAdapter(Config{
		BaseURL:    server.URL,
		WSURL:      "ws://127.0.0.1:0",
		PrivateKey: testPrivateKeyHex,
		ChainID:    421614,
		RateLimit:  exchange.DefaultRateLimitConfig,
	}, discardLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	bal, err := a.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Free.String() != "9749.5" {
		t.Errorf("expected free 9749.5, got %s", bal.Free.String())
	}
	if bal.Used.String() != "250.5" {
		t.Errorf("expected used 250.5, got %s", bal.Used.String())
	}
}

func TestGetPositionsSkipsZeroSizeAndParsesRest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"marginSummary": {"accountValue": "10000", "totalMarginUsed": "250.5"},
			"withdrawable": "9749.5",
			"assetPositions": [
				{"position": {"coin": "BTC", "szi": "0.5", "entryPx": "50000", "unrealizedPnl": "125", "marginUsed": "250.5", "leverage": {"value": 10}}},
				{"position": {"coin": "ETH", "szi": "0", "entryPx": "0", "unrealizedPnl": "0", "marginUsed": "0", "leverage": {"value": 1}}}
			]
		}`)
	}))
	defer server.Close()

	a, err := NewAdapter(Config{
		BaseURL:    server.URL,
		WSURL:      "ws://127.0.0.1:0",
		PrivateKey: testPrivateKeyHex,
		ChainID:    421614,
		RateLimit:  exchange.DefaultRateLimitConfig,
	}, discardLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	positions, err := a.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position (zero-size filtered out), got %d", len(positions))
	}
	if positions[0].Pair.Base != "BTC" || positions[0].Leverage != 10 {
		t.Errorf("unexpected position: %+v", positions[0])
	}
}

func TestGetOpenOrdersDerivesFilledSizeFromRemaining(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{
			"coin": "ETH", "limitPx": "3000", "oid": 42, "side": "B",
			"sz": "0.75", "origSz": "1", "timestamp": 1700000000000
		}]`)
	}))
	defer server.Close()

	a, err := NewAdapter(Config{
		BaseURL:    server.URL,
		WSURL:      "ws://127.0.0.1:0",
		PrivateKey: testPrivateKeyHex,
		ChainID:    421614,
		RateLimit:  exchange.DefaultRateLimitConfig,
	}, discardLogger())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	orders, err := a.GetOpenOrders(context.Background())
	if err != nil {
		t.Fatalf("get open orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].FilledSize.String() != "0.25" {
		t.Errorf("expected filled size 0.25, got %s", orders[0].FilledSize.String())
	}
	if orders[0].State != types.OrderPartiallyFilled {
		t.Errorf("expected partially filled state, got %s", orders[0].State)
	}
}
