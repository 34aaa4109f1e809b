// Package examples supplies reference Strategy implementations built only
// on the Strategy/Context producer-consumer contract, registered by name
// so the control plane and the backtest determinism scenario can start
// them without any special-casing.
package examples

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func init() {
	strategy.Register("dual_ma", NewDualMA)
}

// DualMA is a fast/slow simple-moving-average crossover: it goes long when
// the fast SMA crosses above the slow SMA, and flat (closes the position)
// when it crosses back below. It carries no inventory skew or volatility
// model — a deliberately minimal producer of the OnBar contract used as the
// determinism scenario's reference strategy.
type DualMA struct {
	fastPeriod int
	slowPeriod int
	orderSize  decimal.Decimal

	closes []decimal.Decimal

	// fastAboveSlow is nil until both averages are known once, so the
	// first qualifying bar never fires a spurious crossover.
	fastAboveSlow *bool
	long          bool

	ctx *strategy.Context
}

// NewDualMA builds a DualMA from string params: "fast_period" (default 5),
// "slow_period" (default 20), "order_size" (default "1").
func NewDualMA(params map[string]string) (strategy.Strategy, error) {
	fast, err := intParam(params, "fast_period", 5)
	if err != nil {
		return nil, err
	}
	slow, err := intParam(params, "slow_period", 20)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("dual_ma: fast_period (%d) must be less than slow_period (%d)", fast, slow)
	}

	size := decimal.MustParse("1")
	if s, ok := params["order_size"]; ok {
		size, err = decimal.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("dual_ma: order_size: %w", err)
		}
	}

	return &DualMA{fastPeriod: fast, slowPeriod: slow, orderSize: size}, nil
}

func intParam(params map[string]string, key string, def int) (int, error) {
	s, ok := params[key]
	if !ok || s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("dual_ma: %s: %w", key, err)
	}
	return v, nil
}

func (d *DualMA) OnInit(ctx *strategy.Context) error {
	d.ctx = ctx
	return nil
}

func (d *DualMA) RequiredHistory() int    { return d.slowPeriod }
func (d *DualMA) WantsOrderbook() bool    { return false }
func (d *DualMA) OnTicker(types.Ticker) error               { return nil }
func (d *DualMA) OnOrderbook(types.OrderBookSnapshot) error { return nil }
func (d *DualMA) OnOrderUpdate(types.Order) error           { return nil }
func (d *DualMA) OnFill(types.Fill) error                   { return nil }
func (d *DualMA) OnStop() error                              { return nil }

// OnBar appends the bar's close to the rolling window and, once enough
// history has accumulated, checks for a crossover.
func (d *DualMA) OnBar(bar types.Bar) error {
	if bar.Close == nil {
		return nil
	}
	d.closes = append(d.closes, *bar.Close)
	if len(d.closes) > d.slowPeriod {
		d.closes = d.closes[len(d.closes)-d.slowPeriod:]
	}
	if len(d.closes) < d.slowPeriod {
		return nil
	}

	fast, err := sma(d.closes[len(d.closes)-d.fastPeriod:])
	if err != nil {
		return err
	}
	slow, err := sma(d.closes)
	if err != nil {
		return err
	}

	nowAbove := fast.GreaterThan(slow)
	defer func() { d.fastAboveSlow = &nowAbove }()

	if d.fastAboveSlow == nil {
		return nil
	}

	switch {
	case nowAbove && !*d.fastAboveSlow && !d.long:
		return d.submit(types.Buy, bar)
	case !nowAbove && *d.fastAboveSlow && d.long:
		return d.submit(types.Sell, bar)
	}
	return nil
}

func (d *DualMA) submit(side types.Side, bar types.Bar) error {
	req := types.OrderRequest{
		CorrelationID: uuid.NewString(),
		Pair:          d.ctx.Pair,
		Side:          side,
		Kind:          types.Market,
		Size:          d.orderSize,
		TimeInForce:   types.IOC,
	}
	if _, err := d.ctx.Orders.Submit(context.Background(), req); err != nil {
		return fmt.Errorf("dual_ma: submit: %w", err)
	}
	d.long = side == types.Buy
	return nil
}

// sma computes the arithmetic mean of values.
func sma(values []decimal.Decimal) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(values))), 8, decimal.HalfEven)
}
