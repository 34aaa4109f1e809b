package eventbus

import (
	"log/slog"
	"testing"
	"time"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func TestPublishExactMatch(t *testing.T) {
	t.Parallel()

	b := newTestBus()
	sub := b.Subscribe("market.hl.BTC.ticker", SubscribeOpts{})
	defer b.Unsubscribe(sub)

	if err := b.Publish("market.hl.BTC.ticker", 42); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-sub.C():
		if evt.Payload != 42 {
			t.Errorf("payload = %v, want 42", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishWildcard(t *testing.T) {
	t.Parallel()

	b := newTestBus()
	sub := b.Subscribe("market.hl.*", SubscribeOpts{})
	defer b.Unsubscribe(sub)

	if err := b.Publish("market.hl.BTC.book", "delta"); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish("account.hl.order", "should not match"); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-sub.C():
		if evt.Topic != "market.hl.BTC.book" {
			t.Errorf("got topic %q", evt.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("unexpected second event: %+v", evt)
	default:
	}
}

func TestDropOldestOnFullQueue(t *testing.T) {
	t.Parallel()

	b := newTestBus()
	sub := b.Subscribe("x", SubscribeOpts{QueueSize: 1, Policy: DropOldest})
	defer b.Unsubscribe(sub)

	_ = b.Publish("x", "first")
	_ = b.Publish("x", "second")

	evt := <-sub.C()
	if evt.Payload != "second" {
		t.Errorf("expected drop-oldest to keep newest event, got %v", evt.Payload)
	}
}

func TestBlockPublisherBackpressure(t *testing.T) {
	t.Parallel()

	b := newTestBus()
	deadline := 50 * time.Millisecond
	sub := b.Subscribe("y", SubscribeOpts{QueueSize: 1, Policy: BlockPublisher, BlockDeadline: deadline})
	defer b.Unsubscribe(sub)

	if err := b.Publish("y", "first"); err != nil {
		t.Fatal(err)
	}
	// queue is full and nobody drains; second publish must time out.
	start := time.Now()
	err := b.Publish("y", "second")
	if err != ErrBackpressure {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < deadline {
		t.Errorf("returned before deadline: %v", elapsed)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := newTestBus()
	sub := b.Subscribe("z", SubscribeOpts{})
	b.Unsubscribe(sub)

	_, ok := <-sub.C()
	if ok {
		t.Fatal("expected channel to be closed")
	}

	// Unsubscribing twice must not panic.
	b.Unsubscribe(sub)
}
