package backtest

import (
	"math"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// Trade is one executed fill, recorded for the trade list in Report.
type Trade struct {
	Pair      types.TradingPair
	Side      types.Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Timestamp types.Timestamp
}

// EquityPoint is the mark-to-market portfolio value after one replayed bar.
type EquityPoint struct {
	Timestamp types.Timestamp
	Equity    decimal.Decimal
}

// Report is the performance summary emitted when a replay completes.
// CAGR, Sharpe, and Sortino are float64: each requires a square or nth
// root, which pkg/decimal does not provide, and they are reporting
// statistics rather than ledger state, so the precision pkg/decimal
// guarantees elsewhere does not apply to them.
type Report struct {
	InitialCapital decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalReturn    decimal.Decimal
	MaxDrawdown    decimal.Decimal
	WinRate        decimal.Decimal
	ProfitFactor   decimal.Decimal
	CAGR           float64
	Sharpe         float64
	Sortino        float64
	TradeCount     int
	EquityCurve    []EquityPoint
	Trades         []Trade
}

func computeReport(initial decimal.Decimal, equity []EquityPoint, trades []Trade, realizedDeltas []decimal.Decimal) Report {
	r := Report{
		InitialCapital: initial,
		FinalEquity:    initial,
		EquityCurve:    equity,
		Trades:         trades,
		TradeCount:     len(trades),
	}
	if len(equity) == 0 {
		return r
	}
	r.FinalEquity = equity[len(equity)-1].Equity

	if initial.IsPositive() {
		if tr, err := r.FinalEquity.Sub(initial).DivRound(initial, 8, decimal.HalfEven); err == nil {
			r.TotalReturn = tr
		}
	}

	r.MaxDrawdown = maxDrawdown(equity)
	r.Sharpe, r.Sortino = sharpeSortino(equity)
	r.WinRate, r.ProfitFactor = winRateAndProfitFactor(realizedDeltas)
	r.CAGR = cagr(initial, r.FinalEquity, equity)
	return r
}

func maxDrawdown(equity []EquityPoint) decimal.Decimal {
	peak := equity[0].Equity
	maxDD := decimal.Zero
	for _, p := range equity {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if !peak.IsPositive() {
			continue
		}
		dd, err := peak.Sub(p.Equity).DivRound(peak, 8, decimal.HalfEven)
		if err != nil {
			continue
		}
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeSortino computes the per-bar-return Sharpe and Sortino ratios,
// unannualized beyond a sqrt(N) scale, in float64.
func sharpeSortino(equity []EquityPoint) (float64, float64) {
	if len(equity) < 2 {
		return 0, 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity.Float64()
		cur := equity[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) == 0 {
		return 0, 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance, downsideSumSq float64
	var downsideCount int
	for _, r := range returns {
		d := r - mean
		variance += d * d
		if r < 0 {
			downsideSumSq += r * r
			downsideCount++
		}
	}
	variance /= float64(len(returns))

	n := math.Sqrt(float64(len(returns)))
	var sharpe float64
	if stddev := math.Sqrt(variance); stddev > 0 {
		sharpe = mean / stddev * n
	}

	var sortino float64
	if downsideCount > 0 {
		if downsideDev := math.Sqrt(downsideSumSq / float64(downsideCount)); downsideDev > 0 {
			sortino = mean / downsideDev * n
		}
	}

	return sharpe, sortino
}

func winRateAndProfitFactor(realizedDeltas []decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if len(realizedDeltas) == 0 {
		return decimal.Zero, decimal.Zero
	}

	wins := 0
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, d := range realizedDeltas {
		switch {
		case d.IsPositive():
			wins++
			grossProfit = grossProfit.Add(d)
		case d.IsNegative():
			grossLoss = grossLoss.Add(d.Abs())
		}
	}

	winRate, err := decimal.NewFromInt(int64(wins)).DivRound(decimal.NewFromInt(int64(len(realizedDeltas))), 8, decimal.HalfEven)
	if err != nil {
		winRate = decimal.Zero
	}

	profitFactor := decimal.Zero
	if grossLoss.IsPositive() {
		if pf, err := grossProfit.DivRound(grossLoss, 8, decimal.HalfEven); err == nil {
			profitFactor = pf
		}
	}

	return winRate, profitFactor
}

func cagr(initial, final decimal.Decimal, equity []EquityPoint) float64 {
	if len(equity) < 2 || !initial.IsPositive() {
		return 0
	}
	days := equity[len(equity)-1].Timestamp.Time().Sub(equity[0].Timestamp.Time()).Hours() / 24
	if days <= 0 {
		return 0
	}
	ratio := final.Float64() / initial.Float64()
	if ratio <= 0 {
		return 0
	}
	return math.Pow(ratio, 365/days) - 1
}
