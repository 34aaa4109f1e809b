package examples

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func init() {
	strategy.Register("grid", NewGrid)
}

// Grid lays a symmetric ladder of resting limit orders around the current
// mid price, spaced by a fixed step, and lays a fresh ladder around the new
// price once price drifts past its outer band; orders from the earlier
// ladder are not canceled. It carries no directional view — the
// ladder itself captures round-trip spread as price oscillates within the
// band.
type Grid struct {
	levels    int
	step      decimal.Decimal
	orderSize decimal.Decimal

	center decimal.Decimal
	ctx    *strategy.Context
}

// NewGrid builds a Grid from string params: "levels" (default 3), "step"
// (default "10"), "order_size" (default "1").
func NewGrid(params map[string]string) (strategy.Strategy, error) {
	levels, err := intParam(params, "levels", 3)
	if err != nil {
		return nil, err
	}
	if levels <= 0 {
		return nil, fmt.Errorf("grid: levels must be positive, got %d", levels)
	}

	step := decimal.MustParse("10")
	if s, ok := params["step"]; ok {
		step, err = decimal.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("grid: step: %w", err)
		}
	}

	size := decimal.MustParse("1")
	if s, ok := params["order_size"]; ok {
		size, err = decimal.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("grid: order_size: %w", err)
		}
	}

	return &Grid{levels: levels, step: step, orderSize: size, center: decimal.Zero}, nil
}

func (g *Grid) OnInit(ctx *strategy.Context) error {
	g.ctx = ctx
	return nil
}

func (g *Grid) RequiredHistory() int                      { return 0 }
func (g *Grid) WantsOrderbook() bool                      { return false }
func (g *Grid) OnBar(types.Bar) error                     { return nil }
func (g *Grid) OnOrderbook(types.OrderBookSnapshot) error { return nil }
func (g *Grid) OnOrderUpdate(types.Order) error           { return nil }
func (g *Grid) OnFill(types.Fill) error                   { return nil }
func (g *Grid) OnStop() error                             { return nil }

// OnTicker centers a ladder on the mark price the first time one is seen,
// and places another around the new mark whenever price has drifted past
// the outer band. It cancels none of the orders placed before.
func (g *Grid) OnTicker(t types.Ticker) error {
	if !t.Mark.IsPositive() {
		return nil
	}
	if g.center.IsZero() || g.needsRecenter(t.Mark) {
		g.center = t.Mark
		return g.placeLadder()
	}
	return nil
}

func (g *Grid) needsRecenter(mid decimal.Decimal) bool {
	band := g.step.Mul(decimal.NewFromInt(int64(g.levels)))
	return mid.Sub(g.center).Abs().GreaterThan(band)
}

func (g *Grid) placeLadder() error {
	for i := 1; i <= g.levels; i++ {
		offset := g.step.Mul(decimal.NewFromInt(int64(i)))
		if err := g.place(types.Buy, g.center.Sub(offset)); err != nil {
			return err
		}
		if err := g.place(types.Sell, g.center.Add(offset)); err != nil {
			return err
		}
	}
	return nil
}

func (g *Grid) place(side types.Side, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	req := types.OrderRequest{
		CorrelationID: uuid.NewString(),
		Pair:          g.ctx.Pair,
		Side:          side,
		Kind:          types.Limit,
		Price:         price,
		Size:          g.orderSize,
		TimeInForce:   types.GTC,
	}
	if _, err := g.ctx.Orders.Submit(context.Background(), req); err != nil {
		return fmt.Errorf("grid: submit: %w", err)
	}
	return nil
}
