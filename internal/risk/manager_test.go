package risk

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pair() types.TradingPair { return types.TradingPair{Base: "BTC", Quote: "USDC"} }

func testRequest() types.OrderRequest {
	return types.OrderRequest{
		CorrelationID: "c1",
		Pair:          pair(),
		Side:          types.Buy,
		Kind:          types.Limit,
		Size:          decimal.MustParse("1"),
		Price:         decimal.MustParse("50000"),
		TimeInForce:   types.GTC,
	}
}

func TestCheckOrderPassesWithNoLimitsConfigured(t *testing.T) {
	m := New(Config{}, testLogger())
	if err := m.CheckOrder("hl", testRequest()); err != nil {
		t.Fatalf("expected no limits to reject nothing, got %v", err)
	}
}

func TestCheckOrderRejectsOverMaxOrderSize(t *testing.T) {
	m := New(Config{MaxOrderSize: decimal.MustParse("10000")}, testLogger())
	if err := m.CheckOrder("hl", testRequest()); !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected for a 50000 notional order against a 10000 cap, got %v", err)
	}
}

func TestCheckOrderRejectsOverPerSymbolCap(t *testing.T) {
	m := New(Config{MaxPositionPerSymbol: decimal.MustParse("10000")}, testLogger())
	m.ReportPosition("hl", PositionReport{Pair: pair(), ExposureUSD: decimal.MustParse("9999")})

	if err := m.CheckOrder("hl", testRequest()); !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected per-symbol cap breach, got %v", err)
	}
}

func TestCheckOrderRejectsWhileKillSwitchActive(t *testing.T) {
	m := New(Config{CooldownAfterKill: time.Minute}, testLogger())
	m.Trip("manual halt")

	if err := m.CheckOrder("hl", testRequest()); !errors.Is(err, ErrRiskRejected) {
		t.Fatalf("expected kill switch to reject orders, got %v", err)
	}
}

func TestKillSwitchClearsAfterCooldown(t *testing.T) {
	m := New(Config{CooldownAfterKill: -time.Second}, testLogger())
	m.Trip("already expired")

	if m.IsKillSwitchActive() {
		t.Fatal("expected kill switch to auto-clear once cooldown has elapsed")
	}
}

func TestReportPositionTripsKillSwitchOnGlobalExposure(t *testing.T) {
	m := New(Config{KillSwitchEnabled: true, MaxGlobalExposure: decimal.MustParse("1000")}, testLogger())

	m.ReportPosition("hl", PositionReport{Pair: pair(), ExposureUSD: decimal.MustParse("1500")})

	select {
	case sig := <-m.KillCh():
		if sig.Reason == "" {
			t.Fatal("expected a non-empty kill reason")
		}
	default:
		t.Fatal("expected a kill signal to be emitted")
	}
	if !m.IsKillSwitchActive() {
		t.Fatal("expected kill switch to be active")
	}
}

func TestReportPositionTripsStopLoss(t *testing.T) {
	m := New(Config{KillSwitchEnabled: true, StopLossPct: decimal.MustParse("0.05")}, testLogger())

	m.ReportPosition("hl", PositionReport{
		Pair:          pair(),
		Size:          decimal.MustParse("1"),
		EntryPrice:    decimal.MustParse("50000"),
		UnrealizedPnL: decimal.MustParse("-3000"), // 6% of entry notional
	})

	if !m.IsKillSwitchActive() {
		t.Fatal("expected stop loss breach to trip the kill switch")
	}
}

func TestReportPositionIgnoresChecksWhenKillSwitchDisabled(t *testing.T) {
	m := New(Config{KillSwitchEnabled: false, MaxGlobalExposure: decimal.MustParse("1")}, testLogger())

	m.ReportPosition("hl", PositionReport{Pair: pair(), ExposureUSD: decimal.MustParse("1000000")})

	if m.IsKillSwitchActive() {
		t.Fatal("expected kill switch checks to be skipped when disabled")
	}
}

func TestRemainingBudgetIsMinOfSymbolAndGlobal(t *testing.T) {
	m := New(Config{
		MaxPositionPerSymbol: decimal.MustParse("500"),
		MaxGlobalExposure:    decimal.MustParse("10000"),
	}, testLogger())
	m.ReportPosition("hl", PositionReport{Pair: pair(), ExposureUSD: decimal.MustParse("100")})

	budget := m.RemainingBudget("hl", pair())
	if !budget.Equal(decimal.MustParse("400")) {
		t.Errorf("expected remaining budget 400 (symbol headroom binds), got %s", budget)
	}
}

func TestRemainingBudgetFloorsAtZero(t *testing.T) {
	m := New(Config{MaxPositionPerSymbol: decimal.MustParse("100")}, testLogger())
	m.ReportPosition("hl", PositionReport{Pair: pair(), ExposureUSD: decimal.MustParse("500")})

	budget := m.RemainingBudget("hl", pair())
	if !budget.IsZero() {
		t.Errorf("expected budget floored at zero, got %s", budget)
	}
}
