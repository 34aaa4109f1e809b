package backtest

import (
	"fmt"

	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// VectorizedSignal is one crossover signal produced by RunVectorizedDualMA,
// identified by its index into the close-price slice that produced it.
type VectorizedSignal struct {
	Index int
	Side  types.Side
}

// RunVectorizedDualMA computes the same fast/slow SMA crossover sequence as
// examples.DualMA.OnBar, but over a pre-aligned close-price array using
// rolling prefix sums instead of re-summing each window on every bar: each
// window sum becomes an O(1) subtraction instead of an O(period) scan, the
// performance optimization the vectorized path exists for.
//
// This is the one strategy the replay's determinism scenario names for a
// vectorized path; no generic vectorized engine is implemented, since a
// pre-aligned-array contract does not exist for arbitrary Strategy
// implementations (most cannot be expressed as a single array pass at
// all). Results must match the scalar DualMA driven through Engine within
// a documented tolerance (here, exact equality, since both paths use the
// same decimal.DivRound rounding and rolling window).
func RunVectorizedDualMA(closes []decimal.Decimal, fastPeriod, slowPeriod int) ([]VectorizedSignal, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("backtest: fast_period must be positive and less than slow_period")
	}
	if len(closes) < slowPeriod {
		return nil, nil
	}

	prefix := make([]decimal.Decimal, len(closes)+1)
	for i, c := range closes {
		prefix[i+1] = prefix[i].Add(c)
	}
	windowMean := func(end, period int) (decimal.Decimal, error) {
		sum := prefix[end].Sub(prefix[end-period])
		return sum.DivRound(decimal.NewFromInt(int64(period)), 8, decimal.HalfEven)
	}

	var signals []VectorizedSignal
	var fastAboveSlow *bool
	long := false

	for i := slowPeriod; i <= len(closes); i++ {
		fast, err := windowMean(i, fastPeriod)
		if err != nil {
			return nil, err
		}
		slow, err := windowMean(i, slowPeriod)
		if err != nil {
			return nil, err
		}

		nowAbove := fast.GreaterThan(slow)
		idx := i - 1

		if fastAboveSlow != nil {
			switch {
			case nowAbove && !*fastAboveSlow && !long:
				signals = append(signals, VectorizedSignal{Index: idx, Side: types.Buy})
				long = true
			case !nowAbove && *fastAboveSlow && long:
				signals = append(signals, VectorizedSignal{Index: idx, Side: types.Sell})
				long = false
			}
		}
		fastAboveSlow = &nowAbove
	}

	return signals, nil
}
