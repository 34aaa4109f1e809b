package ordermanager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

type stubAdapter struct {
	exchange.Adapter // embed nil; only the methods below are exercised

	submitAck   types.SubmitAck
	submitErr   error
	submitCalls int

	cancelErr   error
	cancelCalls int

	openOrders []types.Order
}

func (s *stubAdapter) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitAck, error) {
	s.submitCalls++
	return s.submitAck, s.submitErr
}

func (s *stubAdapter) CancelOrder(ctx context.Context, venueOrderID string) error {
	s.cancelCalls++
	return s.cancelErr
}

func (s *stubAdapter) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	return s.openOrders, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest(correlationID string) types.OrderRequest {
	return types.OrderRequest{
		CorrelationID: correlationID,
		Pair:          types.TradingPair{Base: "BTC", Quote: "USDC"},
		Side:          types.Buy,
		Kind:          types.Limit,
		Size:          decimal.MustParse("1"),
		Price:         decimal.MustParse("50000"),
		TimeInForce:   types.GTC,
	}
}

func TestSubmitIsIdempotentOnCorrelationID(t *testing.T) {
	adapter := &stubAdapter{submitAck: types.SubmitAck{VenueOrderID: "100", State: types.OrderOpen}}
	mgr := New(adapter, testLogger())

	req := testRequest("c1")
	first, err := mgr.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := mgr.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	if adapter.submitCalls != 1 {
		t.Errorf("expected exactly 1 venue submission, got %d", adapter.submitCalls)
	}
	if first.VenueOrderID != second.VenueOrderID {
		t.Errorf("expected identical order record on resubmit")
	}
}

func TestSubmitRejectedSetsRejectedState(t *testing.T) {
	adapter := &stubAdapter{submitErr: errors.New("insufficient margin")}
	mgr := New(adapter, testLogger())

	_, err := mgr.Submit(context.Background(), testRequest("c1"))
	if err == nil {
		t.Fatal("expected error from rejected submission")
	}

	order, ok := mgr.Get("c1")
	if !ok {
		t.Fatal("expected order to be tracked even on rejection")
	}
	if order.State != types.OrderRejected {
		t.Errorf("expected REJECTED state, got %s", order.State)
	}
}

func TestCancelOnTerminalOrderIsNoOp(t *testing.T) {
	adapter := &stubAdapter{submitErr: errors.New("boom")}
	mgr := New(adapter, testLogger())

	mgr.Submit(context.Background(), testRequest("c1"))

	result, err := mgr.Cancel(context.Background(), "c1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.State != types.OrderRejected {
		t.Errorf("expected state unchanged at REJECTED, got %s", result.State)
	}
	if adapter.cancelCalls != 0 {
		t.Errorf("expected no venue cancel call against a terminal order")
	}
}

func TestApplyFillDeduplicatesByFillID(t *testing.T) {
	adapter := &stubAdapter{submitAck: types.SubmitAck{VenueOrderID: "200", State: types.OrderOpen}}
	mgr := New(adapter, testLogger())
	mgr.Submit(context.Background(), testRequest("c1"))

	fill := types.Fill{
		FillID:       "f1",
		VenueOrderID: "200",
		Size:         decimal.MustParse("0.5"),
		Price:        decimal.MustParse("50000"),
	}

	if err := mgr.ApplyFill(fill); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if err := mgr.ApplyFill(fill); err != nil {
		t.Fatalf("apply duplicate fill: %v", err)
	}

	order, _ := mgr.Get("c1")
	if !order.FilledSize.Equal(decimal.MustParse("0.5")) {
		t.Errorf("expected filled size 0.5 after duplicate is ignored, got %s", order.FilledSize)
	}
	if order.State != types.OrderPartiallyFilled {
		t.Errorf("expected PARTIALLY_FILLED, got %s", order.State)
	}
}

func TestApplyFillClampsOverFillToInconsistent(t *testing.T) {
	adapter := &stubAdapter{submitAck: types.SubmitAck{VenueOrderID: "300", State: types.OrderOpen}}
	mgr := New(adapter, testLogger())
	mgr.Submit(context.Background(), testRequest("c1")) // size = 1

	fill := types.Fill{
		FillID:       "f1",
		VenueOrderID: "300",
		Size:         decimal.MustParse("1.5"),
		Price:        decimal.MustParse("50000"),
	}

	err := mgr.ApplyFill(fill)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}

	order, _ := mgr.Get("c1")
	if !order.FilledSize.Equal(decimal.MustParse("1")) {
		t.Errorf("expected filled size clamped to order size 1, got %s", order.FilledSize)
	}
	if order.State != types.OrderFilled {
		t.Errorf("expected FILLED after clamp, got %s", order.State)
	}
}

func TestReconcileMarksMissingOrderTerminal(t *testing.T) {
	adapter := &stubAdapter{submitAck: types.SubmitAck{VenueOrderID: "400", State: types.OrderOpen}}
	mgr := New(adapter, testLogger())
	mgr.Submit(context.Background(), testRequest("c1"))

	adapter.openOrders = nil // venue no longer reports this order as open

	if err := mgr.Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	order, _ := mgr.Get("c1")
	if order.State != types.OrderCanceled {
		t.Errorf("expected CANCELED for an unfilled order missing from the venue, got %s", order.State)
	}
}
