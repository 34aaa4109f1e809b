package api

import (
	"fmt"

	"tradingd/internal/backtest"
	"tradingd/internal/enginemanager"
	"tradingd/internal/execution"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

// buildBacktestConfig translates a StartBacktestRequest into the
// backtest.Config, DataFeed, and symbol list StartBacktest needs.
func buildBacktestConfig(req StartBacktestRequest) (backtest.Config, backtest.DataFeed, []enginemanager.BacktestSymbol, error) {
	feeRate := decimal.Decimal{}
	if req.FeeRate != "" {
		parsed, err := decimal.Parse(req.FeeRate)
		if err != nil {
			return backtest.Config{}, nil, nil, fmt.Errorf("%w: fee_rate: %s", types.ErrValidation, err)
		}
		feeRate = parsed
	}

	slippage := decimal.Decimal{}
	if req.Slippage != "" {
		parsed, err := decimal.Parse(req.Slippage)
		if err != nil {
			return backtest.Config{}, nil, nil, fmt.Errorf("%w: slippage: %s", types.ErrValidation, err)
		}
		slippage = parsed
	}

	initial, err := decimal.Parse(req.InitialCapital)
	if err != nil {
		return backtest.Config{}, nil, nil, fmt.Errorf("%w: initial_capital: %s", types.ErrValidation, err)
	}

	model := execution.SlippageFixed
	if req.SlippageModel == string(execution.SlippageProportional) {
		model = execution.SlippageProportional
	}

	cfg := backtest.Config{
		Venue:          req.Venue,
		FeeRate:        feeRate,
		SlippageModel:  model,
		Slippage:       slippage,
		InitialCapital: initial,
	}

	bySymbol := make(map[string][]types.Bar, len(req.Symbols))
	symbols := make([]enginemanager.BacktestSymbol, 0, len(req.Symbols))
	for _, sym := range req.Symbols {
		pair, err := parsePair(sym.Symbol)
		if err != nil {
			return backtest.Config{}, nil, nil, err
		}
		bars, err := toBars(pair, sym.Bars)
		if err != nil {
			return backtest.Config{}, nil, nil, err
		}
		bySymbol[sym.Symbol] = bars
		symbols = append(symbols, enginemanager.BacktestSymbol{Pair: pair, Strategy: sym.Strategy, Params: sym.Params})
	}

	return cfg, backtest.NewSliceFeed(bySymbol), symbols, nil
}

func toBars(pair types.TradingPair, dtos []BarDTO) ([]types.Bar, error) {
	bars := make([]types.Bar, 0, len(dtos))
	for _, dto := range dtos {
		bar := types.Bar{Pair: pair, Timestamp: types.Timestamp(dto.Timestamp)}
		if err := setDecimalField(&bar.Open, dto.Open); err != nil {
			return nil, fmt.Errorf("%w: open: %s", types.ErrValidation, err)
		}
		if err := setDecimalField(&bar.High, dto.High); err != nil {
			return nil, fmt.Errorf("%w: high: %s", types.ErrValidation, err)
		}
		if err := setDecimalField(&bar.Low, dto.Low); err != nil {
			return nil, fmt.Errorf("%w: low: %s", types.ErrValidation, err)
		}
		if err := setDecimalField(&bar.Close, dto.Close); err != nil {
			return nil, fmt.Errorf("%w: close: %s", types.ErrValidation, err)
		}
		if err := setDecimalField(&bar.Volume, dto.Volume); err != nil {
			return nil, fmt.Errorf("%w: volume: %s", types.ErrValidation, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func setDecimalField(field **decimal.Decimal, raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := decimal.Parse(raw)
	if err != nil {
		return err
	}
	*field = &parsed
	return nil
}
