// Package ordermanager owns the client-side view of every order: state
// transitions, idempotent submission, fill de-duplication, and
// reconciliation against the venue's authoritative open-order set.
//
// The diff-based reconciliation approach generalizes a single-market
// reconcile-against-open-orders pattern to the full
// NEW→PENDING→OPEN→PARTIALLY_FILLED→FILLED/CANCELING→CANCELED/REJECTED/UNKNOWN
// machine.
package ordermanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradingd/internal/exchange"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// ErrInconsistent is returned (and logged) when a fill would drive an
// order's filled size past its requested size. The order is clamped to
// fully filled; ApplyFill does not start a reconciliation pass.
var ErrInconsistent = errors.New("ordermanager: fill would exceed order size")

// ErrUnknownOrder is returned by operations that reference a correlation id
// the manager has never seen.
var ErrUnknownOrder = errors.New("ordermanager: unknown order")

// PendingTimeout is the default bound on how long an order may sit in
// PENDING before being marked UNKNOWN, pending reconciliation. Override per
// Manager via WithPendingTimeout (config key pending_order_timeout_ms).
const PendingTimeout = 10 * time.Second

// Manager tracks every order submitted through it, keyed primarily by
// client correlation id with a secondary index by venue order id.
type Manager struct {
	adapter        exchange.Adapter
	logger         *slog.Logger
	pendingTimeout time.Duration

	mu            sync.RWMutex
	byCorrelation map[string]*types.Order
	byVenueID     map[string]string // venue order id -> correlation id

	// seenFills de-duplicates fills by (venue order id, fill id).
	seenFills map[string]map[string]struct{}
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithPendingTimeout overrides PendingTimeout for this Manager.
func WithPendingTimeout(d time.Duration) Option {
	return func(m *Manager) { m.pendingTimeout = d }
}

// New creates a Manager bound to adapter for order submission/cancellation.
func New(adapter exchange.Adapter, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		adapter:        adapter,
		logger:         logger.With("component", "ordermanager"),
		pendingTimeout: PendingTimeout,
		byCorrelation:  make(map[string]*types.Order),
		byVenueID:      make(map[string]string),
		seenFills:      make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit places a new order, or returns the existing record if this
// correlation id has already been submitted — submission is idempotent on
// CorrelationID, never issuing a second venue call for the same id.
func (m *Manager) Submit(ctx context.Context, req types.OrderRequest) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	m.mu.Lock()
	if existing, ok := m.byCorrelation[req.CorrelationID]; ok {
		o := *existing
		m.mu.Unlock()
		return o, nil
	}

	now := types.Now()
	order := &types.Order{
		CorrelationID: req.CorrelationID,
		Pair:          req.Pair,
		Side:          req.Side,
		Kind:          req.Kind,
		Size:          req.Size,
		Price:         req.Price,
		TimeInForce:   req.TimeInForce,
		ReduceOnly:    req.ReduceOnly,
		State:         types.OrderNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.byCorrelation[req.CorrelationID] = order
	m.mu.Unlock()

	m.setState(order, types.OrderPending)

	ack, err := m.adapter.SubmitOrder(ctx, req)
	if err != nil {
		m.mu.Lock()
		order.State = types.OrderRejected
		order.LastError = err.Error()
		order.UpdatedAt = types.Now()
		result := *order
		m.mu.Unlock()
		m.logger.Warn("order submission rejected", "correlation_id", req.CorrelationID, "error", err)
		return result, fmt.Errorf("ordermanager: submit: %w", err)
	}

	m.mu.Lock()
	order.VenueOrderID = ack.VenueOrderID
	order.State = ack.State
	order.UpdatedAt = ack.Timestamp
	if order.VenueOrderID != "" {
		m.byVenueID[order.VenueOrderID] = order.CorrelationID
	}
	result := *order
	m.mu.Unlock()

	return result, nil
}

// Get returns the current record for a correlation id.
func (m *Manager) Get(correlationID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byCorrelation[correlationID]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// Cancel requests cancellation of an order by correlation id. A cancel
// against a terminal order is a no-op that returns the current state.
func (m *Manager) Cancel(ctx context.Context, correlationID string) (types.Order, error) {
	m.mu.Lock()
	order, ok := m.byCorrelation[correlationID]
	if !ok {
		m.mu.Unlock()
		return types.Order{}, ErrUnknownOrder
	}
	if order.State.IsTerminal() {
		result := *order
		m.mu.Unlock()
		return result, nil
	}
	venueID := order.VenueOrderID
	order.State = types.OrderCanceling
	order.UpdatedAt = types.Now()
	m.mu.Unlock()

	if venueID == "" {
		// Never acknowledged by the venue; nothing to cancel remotely.
		m.mu.Lock()
		order.State = types.OrderCanceled
		order.UpdatedAt = types.Now()
		result := *order
		m.mu.Unlock()
		return result, nil
	}

	if err := m.adapter.CancelOrder(ctx, venueID); err != nil {
		return types.Order{}, fmt.Errorf("ordermanager: cancel: %w", err)
	}

	m.mu.RLock()
	result := *order
	m.mu.RUnlock()
	return result, nil
}

// ApplyFill records an execution against the order it belongs to,
// de-duplicating on (venue order id, fill id) and clamping any over-fill to
// ErrInconsistent rather than letting filled size exceed requested size.
func (m *Manager) ApplyFill(fill types.Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	correlationID, ok := m.byVenueID[fill.VenueOrderID]
	if !ok {
		return fmt.Errorf("%w: venue order %s", ErrUnknownOrder, fill.VenueOrderID)
	}
	order, ok := m.byCorrelation[correlationID]
	if !ok {
		return fmt.Errorf("%w: correlation %s", ErrUnknownOrder, correlationID)
	}

	seen := m.seenFills[fill.VenueOrderID]
	if seen == nil {
		seen = make(map[string]struct{})
		m.seenFills[fill.VenueOrderID] = seen
	}
	if _, dup := seen[fill.FillID]; dup {
		return nil
	}
	seen[fill.FillID] = struct{}{}

	newFilled := order.FilledSize.Add(fill.Size)
	var inconsistent bool
	if newFilled.GreaterOrEqual(order.Size) && !newFilled.Equal(order.Size) {
		inconsistent = true
		newFilled = order.Size
	}

	totalNotional := order.AvgFillPrice.Mul(order.FilledSize).Add(fill.Price.Mul(fill.Size))
	order.FilledSize = newFilled
	if !order.FilledSize.IsZero() {
		avg, err := totalNotional.DivRound(order.FilledSize, 8, decimal.HalfEven)
		if err == nil {
			order.AvgFillPrice = avg
		}
	}
	order.CumulativeFee = order.CumulativeFee.Add(fill.Fee)
	order.UpdatedAt = fill.Timestamp

	if order.FilledSize.Equal(order.Size) {
		order.State = types.OrderFilled
	} else if order.FilledSize.IsPositive() {
		order.State = types.OrderPartiallyFilled
	}

	if inconsistent {
		m.logger.Error("fill would exceed order size, clamped",
			"correlation_id", order.CorrelationID,
			"venue_order_id", fill.VenueOrderID,
			"fill_id", fill.FillID,
		)
		return ErrInconsistent
	}
	return nil
}

// ApplyOrderUpdate merges a venue-reported order state into the local
// record, used for direct order-channel events (e.g. a cancel ack) that
// don't carry fill information.
func (m *Manager) ApplyOrderUpdate(venueOrderID string, state types.OrderState, ts types.Timestamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	correlationID, ok := m.byVenueID[venueOrderID]
	if !ok {
		return fmt.Errorf("%w: venue order %s", ErrUnknownOrder, venueOrderID)
	}
	order := m.byCorrelation[correlationID]
	order.State = state
	order.UpdatedAt = ts
	return nil
}

// PendingTimeouts scans for orders stuck in PENDING past the configured
// pending-order timeout and marks them UNKNOWN so a reconciliation pass can
// resolve them.
func (m *Manager) PendingTimeouts(now time.Time) []types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	var timedOut []types.Order
	for _, order := range m.byCorrelation {
		if order.State != types.OrderPending {
			continue
		}
		if now.Sub(order.UpdatedAt.Time()) < m.pendingTimeout {
			continue
		}
		order.State = types.OrderUnknown
		order.UpdatedAt = types.FromTime(now)
		timedOut = append(timedOut, *order)
	}
	return timedOut
}

// Reconcile replaces the local open-order view with the venue's
// authoritative set. Orders known locally as open but absent from the
// venue are inferred terminal: FILLED if fully filled, CANCELED otherwise.
func (m *Manager) Reconcile(ctx context.Context) error {
	openOrders, err := m.adapter.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("ordermanager: reconcile: %w", err)
	}

	stillOpen := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		stillOpen[o.VenueOrderID] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, order := range m.byCorrelation {
		if order.State.IsTerminal() || order.VenueOrderID == "" {
			continue
		}
		if stillOpen[order.VenueOrderID] {
			continue
		}
		if order.FilledSize.Equal(order.Size) {
			order.State = types.OrderFilled
		} else {
			order.State = types.OrderCanceled
		}
		order.UpdatedAt = types.Now()
	}

	for _, venueOrder := range openOrders {
		correlationID, ok := m.byVenueID[venueOrder.VenueOrderID]
		if !ok {
			continue
		}
		local := m.byCorrelation[correlationID]
		local.State = venueOrder.State
		local.FilledSize = venueOrder.FilledSize
		local.AvgFillPrice = venueOrder.AvgFillPrice
		local.UpdatedAt = venueOrder.UpdatedAt
	}

	return nil
}

func (m *Manager) setState(order *types.Order, state types.OrderState) {
	m.mu.Lock()
	order.State = state
	order.UpdatedAt = types.Now()
	m.mu.Unlock()
}
