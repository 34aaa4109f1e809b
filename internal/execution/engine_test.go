package execution

import (
	"context"
	"errors"
	"testing"

	"time"

	"tradingd/internal/cache"
	"tradingd/internal/ordermanager"
	"tradingd/internal/risk"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func testRequest(correlationID string) types.OrderRequest {
	return types.OrderRequest{
		CorrelationID: correlationID,
		Pair:          pair(),
		Side:          types.Buy,
		Kind:          types.Market,
		Size:          decimal.MustParse("1"),
	}
}

func TestSubmitRoutesThroughPaperExecutorAndFills(t *testing.T) {
	c := cache.New()
	seedBook(c, "hl")
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.Zero, decimal.Zero, testLogger())
	mgr := ordermanager.New(exec, testLogger())
	riskMgr := risk.New(risk.Config{}, testLogger())
	engine := New("hl", Paper, mgr, riskMgr, testLogger())

	order, err := engine.Submit(context.Background(), testRequest("c1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if order.State != types.OrderFilled {
		t.Errorf("expected FILLED from paper execution, got %s", order.State)
	}
}

func TestSubmitRejectedByRiskNeverReachesExecutor(t *testing.T) {
	c := cache.New()
	seedBook(c, "hl")
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.Zero, decimal.Zero, testLogger())
	mgr := ordermanager.New(exec, testLogger())
	riskMgr := risk.New(risk.Config{MaxOrderSize: decimal.MustParse("1")}, testLogger())
	engine := New("hl", Paper, mgr, riskMgr, testLogger())

	req := testRequest("c2")
	req.Price = decimal.MustParse("50000") // notional used for the risk check even on a market order

	_, err := engine.Submit(context.Background(), req)
	if !errors.Is(err, risk.ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected, got %v", err)
	}

	if _, ok := mgr.Get("c2"); ok {
		t.Error("expected a risk-rejected order to never reach the order manager")
	}
}

func TestSubmitRejectedWhileKillSwitchActive(t *testing.T) {
	c := cache.New()
	exec := NewSimulatedExecutor("hl", c, SlippageFixed, decimal.Zero, decimal.Zero, testLogger())
	mgr := ordermanager.New(exec, testLogger())
	riskMgr := risk.New(risk.Config{CooldownAfterKill: time.Minute}, testLogger())
	riskMgr.Trip("test halt")

	engine := New("hl", Paper, mgr, riskMgr, testLogger())
	_, err := engine.Submit(context.Background(), testRequest("c3"))
	if !errors.Is(err, risk.ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected while kill switch active, got %v", err)
	}
}
