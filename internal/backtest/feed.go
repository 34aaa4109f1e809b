package backtest

import (
	"sort"

	"tradingd/pkg/types"
)

// DataFeed supplies bars to Engine in strict replay order, interleaved
// across symbols. A symbol is an external label for logging only: the
// engine keys internal state off bar.Pair, so symbol need not equal the
// pair's string form, but feeds should keep the two in sync for sane logs.
type DataFeed interface {
	// Next returns the next bar in replay order, or ok=false once the feed
	// is exhausted.
	Next() (symbol string, bar types.Bar, ok bool)
	// Reset rewinds the feed to its first bar.
	Reset()
}

type symbolBar struct {
	symbol string
	bar    types.Bar
}

// SliceFeed is an in-memory DataFeed built from pre-loaded bars, used for
// tests and the determinism scenario. Bars are ordered globally by
// timestamp; ties break on symbol in ascending lexical order, matching the
// engine's documented stable tie-break.
type SliceFeed struct {
	bars []symbolBar
	pos  int
}

// NewSliceFeed builds a SliceFeed from a symbol -> bars map, sorting the
// combined sequence by (timestamp, symbol).
func NewSliceFeed(bySymbol map[string][]types.Bar) *SliceFeed {
	var all []symbolBar
	for symbol, bars := range bySymbol {
		for _, b := range bars {
			all = append(all, symbolBar{symbol: symbol, bar: b})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].bar.Timestamp != all[j].bar.Timestamp {
			return all[i].bar.Timestamp < all[j].bar.Timestamp
		}
		return all[i].symbol < all[j].symbol
	})
	return &SliceFeed{bars: all}
}

func (f *SliceFeed) Next() (string, types.Bar, bool) {
	if f.pos >= len(f.bars) {
		return "", types.Bar{}, false
	}
	sb := f.bars[f.pos]
	f.pos++
	return sb.symbol, sb.bar, true
}

func (f *SliceFeed) Reset() { f.pos = 0 }

var _ DataFeed = (*SliceFeed)(nil)
