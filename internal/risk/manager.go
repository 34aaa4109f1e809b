// Package risk gates every order intent before it reaches the exchange and
// watches the venue's reported positions for conditions that should halt
// trading altogether.
//
// The ordered pre-trade checks (CheckOrder) run as a fixed gate list: each
// rule runs in sequence and the first failure wins. The kill-switch state
// machine (price anchor, cooldown, daily loss) tracks Decimal exposure
// keyed by (venue, pair), carried through pkg/types. A per-order size cap
// and a stop-loss-pct breach on any single open position are checked
// alongside it.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// ErrRiskRejected is returned by CheckOrder when any pre-trade rule vetoes
// the request. It is never retried by the caller.
var ErrRiskRejected = errors.New("risk: rejected")

// Config bounds the checks the Manager enforces. Zero-value numeric fields
// disable the corresponding check (a zero cap can never be breached
// meaningfully, so it is treated as "no limit").
type Config struct {
	MaxPositionPerSymbol decimal.Decimal // max absolute USD exposure in any one (venue, pair)
	MaxGlobalExposure    decimal.Decimal // max absolute USD exposure summed across all positions
	MaxOrderSize         decimal.Decimal // max notional (price * size) for a single order
	StopLossPct          decimal.Decimal // unrealized loss as a fraction of entry notional that trips the kill switch
	MaxDailyLoss         decimal.Decimal // max combined realized+unrealized loss before the kill switch fires
	KillSwitchEnabled    bool
	KillSwitchDropPct    decimal.Decimal // price move within KillSwitchWindow that trips the kill switch
	KillSwitchWindow     time.Duration
	CooldownAfterKill    time.Duration
}

// PositionReport is the latest mark-to-market snapshot for one (venue,
// pair), pushed by whatever holds the PositionTracker after every fill or
// mark update.
type PositionReport struct {
	Venue         string
	Pair          types.TradingPair
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MidPrice      decimal.Decimal
	ExposureUSD   decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Timestamp     types.Timestamp
}

// KillSignal notifies subscribers that trading should halt. An empty Pair
// means the kill is global; otherwise it is scoped to a single symbol.
type KillSignal struct {
	Venue  string
	Pair   types.TradingPair
	Reason string
}

type priceAnchor struct {
	price     decimal.Decimal
	timestamp time.Time
}

// Manager is the gatekeeper for order intents and the home of the
// kill-switch state machine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.Mutex
	positions        map[posKey]PositionReport
	totalExposure    decimal.Decimal
	totalRealizedPnL decimal.Decimal
	killSwitchActive bool
	killSwitchUntil  time.Time
	killReason       string
	priceAnchors     map[posKey]priceAnchor

	killCh chan KillSignal
}

type posKey struct {
	venue string
	pair  types.TradingPair
}

// New creates a Manager bound to cfg.
func New(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[posKey]PositionReport),
		priceAnchors: make(map[posKey]priceAnchor),
		killCh:       make(chan KillSignal, 1),
	}
}

// KillCh delivers kill signals as they are raised. The channel is buffered
// to 1 and always carries the most recently raised signal: a full channel is
// drained before the new signal is sent.
func (m *Manager) KillCh() <-chan KillSignal { return m.killCh }

// CheckOrder runs the ordered pre-trade gate against a candidate order. The
// first rule that fails determines the returned error; all wrap
// ErrRiskRejected.
func (m *Manager) CheckOrder(venue string, req types.OrderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killSwitchActive {
		if time.Now().Before(m.killSwitchUntil) {
			return fmt.Errorf("%w: kill switch active (%s)", ErrRiskRejected, m.killReason)
		}
		m.killSwitchActive = false
		m.logger.Info("kill switch cooldown expired")
	}

	if m.cfg.MaxOrderSize.IsPositive() {
		notional := req.Size.Mul(req.Price).Abs()
		if notional.GreaterOrEqual(m.cfg.MaxOrderSize) && !notional.Equal(m.cfg.MaxOrderSize) {
			return fmt.Errorf("%w: order notional %s exceeds per-order cap %s", ErrRiskRejected, notional, m.cfg.MaxOrderSize)
		}
	}

	if m.cfg.MaxPositionPerSymbol.IsPositive() {
		k := posKey{venue, req.Pair}
		current := m.positions[k].ExposureUSD.Abs()
		projected := current.Add(req.Size.Mul(req.Price).Abs())
		if projected.GreaterOrEqual(m.cfg.MaxPositionPerSymbol) && !projected.Equal(m.cfg.MaxPositionPerSymbol) {
			return fmt.Errorf("%w: projected exposure %s for %s exceeds per-symbol cap %s", ErrRiskRejected, projected, req.Pair, m.cfg.MaxPositionPerSymbol)
		}
	}

	if m.cfg.MaxGlobalExposure.IsPositive() {
		projected := m.totalExposure.Add(req.Size.Mul(req.Price).Abs())
		if projected.GreaterOrEqual(m.cfg.MaxGlobalExposure) && !projected.Equal(m.cfg.MaxGlobalExposure) {
			return fmt.Errorf("%w: projected global exposure %s exceeds cap %s", ErrRiskRejected, projected, m.cfg.MaxGlobalExposure)
		}
	}

	return nil
}

// ReportPosition records the latest snapshot for (venue, pos.Pair),
// recomputes aggregate exposure, and runs the kill-switch triggers
// (per-symbol/global exposure, stop-loss, daily loss, rapid price
// movement). Call this after every fill and every mark-to-market update.
func (m *Manager) ReportPosition(venue string, pos PositionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos.Venue = venue
	k := posKey{venue, pos.Pair}
	m.positions[k] = pos

	m.totalExposure = decimal.Zero
	m.totalRealizedPnL = decimal.Zero
	totalUnrealized := decimal.Zero
	for _, p := range m.positions {
		m.totalExposure = m.totalExposure.Add(p.ExposureUSD.Abs())
		m.totalRealizedPnL = m.totalRealizedPnL.Add(p.RealizedPnL)
		totalUnrealized = totalUnrealized.Add(p.UnrealizedPnL)
	}

	if !m.cfg.KillSwitchEnabled {
		return
	}

	if m.cfg.MaxPositionPerSymbol.IsPositive() && pos.ExposureUSD.Abs().GreaterOrEqual(m.cfg.MaxPositionPerSymbol) {
		m.emitKill(venue, pos.Pair, "per-symbol position limit breached")
	}

	if m.cfg.MaxGlobalExposure.IsPositive() && m.totalExposure.GreaterOrEqual(m.cfg.MaxGlobalExposure) {
		m.emitKill(venue, types.TradingPair{}, "global exposure limit breached")
	}

	if m.cfg.MaxDailyLoss.IsPositive() {
		totalPnL := m.totalRealizedPnL.Add(totalUnrealized)
		if totalPnL.IsNegative() && totalPnL.Abs().GreaterOrEqual(m.cfg.MaxDailyLoss) {
			m.emitKill(venue, types.TradingPair{}, "max daily loss breached")
		}
	}

	m.checkStopLoss(venue, pos)
	m.checkPriceMovement(venue, pos)
}

// checkStopLoss fires when a position's unrealized loss exceeds StopLossPct
// of its entry notional.
func (m *Manager) checkStopLoss(venue string, pos PositionReport) {
	if !m.cfg.StopLossPct.IsPositive() || pos.Size.IsZero() || !pos.UnrealizedPnL.IsNegative() {
		return
	}
	entryNotional := pos.EntryPrice.Mul(pos.Size.Abs())
	if !entryNotional.IsPositive() {
		return
	}
	lossPct, err := pos.UnrealizedPnL.Abs().DivRound(entryNotional, 8, decimal.HalfEven)
	if err != nil {
		return
	}
	if lossPct.GreaterOrEqual(m.cfg.StopLossPct) {
		m.emitKill(venue, pos.Pair, fmt.Sprintf("stop loss breached: %s unrealized loss", lossPct))
	}
}

// checkPriceMovement detects a rapid mid-price swing using a rolling
// anchor: if the anchor is older than KillSwitchWindow it resets, otherwise
// a move past KillSwitchDropPct trips the kill switch.
func (m *Manager) checkPriceMovement(venue string, pos PositionReport) {
	if m.cfg.KillSwitchWindow <= 0 || !m.cfg.KillSwitchDropPct.IsPositive() || !pos.MidPrice.IsPositive() {
		return
	}

	k := posKey{venue, pos.Pair}
	now := pos.Timestamp.Time()
	anchor, ok := m.priceAnchors[k]
	if !ok || now.Sub(anchor.timestamp) > m.cfg.KillSwitchWindow {
		m.priceAnchors[k] = priceAnchor{price: pos.MidPrice, timestamp: now}
		return
	}
	if !anchor.price.IsPositive() {
		return
	}

	pctChange, err := pos.MidPrice.Sub(anchor.price).Abs().DivRound(anchor.price, 8, decimal.HalfEven)
	if err != nil {
		return
	}
	if pctChange.GreaterOrEqual(m.cfg.KillSwitchDropPct) {
		m.emitKill(venue, pos.Pair, fmt.Sprintf("rapid price movement: %s within %s", pctChange, m.cfg.KillSwitchWindow))
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and
// delivers a KillSignal, dropping any stale undelivered signal first so the
// latest reason always reaches the subscriber.
func (m *Manager) emitKill(venue string, pair types.TradingPair, reason string) {
	m.killSwitchActive = true
	m.killReason = reason
	m.killSwitchUntil = time.Now().Add(m.cfg.CooldownAfterKill)

	m.logger.Error("kill switch engaged",
		"venue", venue,
		"pair", pair,
		"reason", reason,
		"cooldown_until", m.killSwitchUntil,
	)

	sig := KillSignal{Venue: venue, Pair: pair, Reason: reason}
	select {
	case m.killCh <- sig:
	default:
		select {
		case <-m.killCh:
		default:
		}
		m.killCh <- sig
	}
}

// IsKillSwitchActive reports whether the kill switch currently blocks
// trading, auto-clearing it once the cooldown has elapsed.
func (m *Manager) IsKillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killSwitchActive && time.Now().After(m.killSwitchUntil) {
		m.killSwitchActive = false
	}
	return m.killSwitchActive
}

// Trip engages the kill switch directly, bypassing the ordinary triggers —
// used by an operator-initiated kill-switch control-plane call.
func (m *Manager) Trip(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitKill("", types.TradingPair{}, reason)
}

// RemainingBudget returns the smaller of the per-symbol and global exposure
// headroom remaining for (venue, pair), floored at zero. A zero cap in
// Config means that dimension is unbounded and does not constrain the
// result; with neither cap set the result is zero.
func (m *Manager) RemainingBudget(venue string, pair types.TradingPair) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbolHeadroom := decimal.Zero
	hasSymbolCap := m.cfg.MaxPositionPerSymbol.IsPositive()
	if hasSymbolCap {
		current := m.positions[posKey{venue, pair}].ExposureUSD.Abs()
		symbolHeadroom = m.cfg.MaxPositionPerSymbol.Sub(current)
	}

	globalHeadroom := decimal.Zero
	hasGlobalCap := m.cfg.MaxGlobalExposure.IsPositive()
	if hasGlobalCap {
		globalHeadroom = m.cfg.MaxGlobalExposure.Sub(m.totalExposure)
	}

	var budget decimal.Decimal
	switch {
	case hasSymbolCap && hasGlobalCap:
		budget = decimal.Min(symbolHeadroom, globalHeadroom)
	case hasSymbolCap:
		budget = symbolHeadroom
	case hasGlobalCap:
		budget = globalHeadroom
	default:
		return decimal.Zero
	}
	if budget.IsNegative() {
		return decimal.Zero
	}
	return budget
}

// Snapshot is a point-in-time view of the risk engine's aggregate state,
// used by the control plane's status endpoint.
type Snapshot struct {
	TotalExposure    decimal.Decimal
	TotalRealizedPnL decimal.Decimal
	KillSwitchActive bool
	KillSwitchUntil  time.Time
	KillSwitchReason string
	PositionCount    int
}

// GetSnapshot returns the current aggregate risk state.
func (m *Manager) GetSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		TotalExposure:    m.totalExposure,
		TotalRealizedPnL: m.totalRealizedPnL,
		KillSwitchActive: m.killSwitchActive,
		KillSwitchUntil:  m.killSwitchUntil,
		KillSwitchReason: m.killReason,
		PositionCount:    len(m.positions),
	}
}

// RemovePosition drops a (venue, pair) from tracking, e.g. once a position
// is fully closed and its market is no longer traded.
func (m *Manager) RemovePosition(venue string, pair types.TradingPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := posKey{venue, pair}
	delete(m.positions, k)
	delete(m.priceAnchors, k)
}
