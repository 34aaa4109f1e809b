package examples

import (
	"testing"

	"tradingd/internal/strategy"
	"tradingd/pkg/decimal"
	"tradingd/pkg/types"
)

func newTestGrid(t *testing.T, sub *recordingSubmitter, levels int, step, size string) *Grid {
	t.Helper()
	s, err := NewGrid(map[string]string{
		"levels":     itoa(levels),
		"step":       step,
		"order_size": size,
	})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	g := s.(*Grid)
	if err := g.OnInit(&strategy.Context{Pair: testPair(), Logger: testLogger(), Orders: sub}); err != nil {
		t.Fatalf("OnInit: %v", err)
	}
	return g
}

func itoa(n int) string {
	digits := []byte{}
	if n == 0 {
		return "0"
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func tickerAt(mark string) types.Ticker {
	return types.Ticker{Venue: "hl", Pair: testPair(), Mark: decimal.MustParse(mark)}
}

func TestNewGridRejectsNonPositiveLevels(t *testing.T) {
	if _, err := NewGrid(map[string]string{"levels": "0"}); err == nil {
		t.Fatal("expected error for levels = 0")
	}
}

func TestGridPlacesLadderOnFirstTicker(t *testing.T) {
	sub := &recordingSubmitter{}
	g := newTestGrid(t, sub, 3, "10", "1")

	if err := g.OnTicker(tickerAt("100")); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	if sub.count() != 6 {
		t.Fatalf("orders placed = %d, want 6 (3 levels x 2 sides)", sub.count())
	}
}

func TestGridDoesNotRecenterWithinBand(t *testing.T) {
	sub := &recordingSubmitter{}
	g := newTestGrid(t, sub, 3, "10", "1")

	if err := g.OnTicker(tickerAt("100")); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	placed := sub.count()

	// band = step * levels = 30; a move to 110 stays within it.
	if err := g.OnTicker(tickerAt("110")); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	if sub.count() != placed {
		t.Fatalf("ladder replaced within band: before=%d after=%d", placed, sub.count())
	}
}

func TestGridRecentersPastOuterBand(t *testing.T) {
	sub := &recordingSubmitter{}
	g := newTestGrid(t, sub, 3, "10", "1")

	if err := g.OnTicker(tickerAt("100")); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	placed := sub.count()

	// band = 30; a move to 150 is well past it and must place a fresh ladder.
	if err := g.OnTicker(tickerAt("150")); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	if sub.count() != placed*2 {
		t.Fatalf("orders after recenter = %d, want %d", sub.count(), placed*2)
	}
}

func TestGridIgnoresNonPositiveMark(t *testing.T) {
	sub := &recordingSubmitter{}
	g := newTestGrid(t, sub, 3, "10", "1")

	if err := g.OnTicker(types.Ticker{Venue: "hl", Pair: testPair()}); err != nil {
		t.Fatalf("OnTicker: %v", err)
	}
	if sub.count() != 0 {
		t.Fatal("no orders should be placed for a zero mark price")
	}
}
