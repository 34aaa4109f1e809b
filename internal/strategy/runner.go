package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradingd/internal/cache"
	"tradingd/internal/eventbus"
	"tradingd/pkg/types"
)

// State is a Runner's position in the init -> running <-> paused ->
// stopping -> stopped lifecycle. Transitions are driven by the control
// operations (Start, Pause, Resume, Stop) and observable via State and the
// strategy.status EventBus topic.
type State string

const (
	StateInit     State = "init"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Runner hosts one Strategy instance and feeds it market and account
// events from the EventBus for the duration of a live or paper run.
// Backtest bypasses the Runner's EventBus subscriptions entirely (the
// BacktestEngine calls OnBar directly) but still uses Runner for the
// pause/resume/stop bookkeeping and status reporting.
//
// A select loop over EventBus subscriptions drives any Strategy's full
// callback set, subscribed off topic patterns.
type Runner struct {
	id       string
	venue    string
	pair     types.TradingPair
	strategy Strategy
	bus      *eventbus.Bus
	logger   *slog.Logger
	strategyCtx *Context

	mu    sync.Mutex
	state State

	pauseCh chan bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRunner creates a Runner in state init. Call Start to begin delivering
// events.
func NewRunner(id, venue string, pair types.TradingPair, strat Strategy, bus *eventbus.Bus, c *cache.Cache, orders OrderSubmitter, params map[string]string, logger *slog.Logger) *Runner {
	logger = logger.With("component", "strategy_runner", "runner_id", id)
	return &Runner{
		id:       id,
		venue:    venue,
		pair:     pair,
		strategy: strat,
		bus:      bus,
		logger:   logger,
		strategyCtx: &Context{
			Venue:  venue,
			Pair:   pair,
			Cache:  c,
			Logger: logger,
			Orders: orders,
			Now:    time.Now,
			Params: params,
		},
		state:   StateInit,
		pauseCh: make(chan bool, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// ID returns the runner's identifier.
func (r *Runner) ID() string { return r.id }

// State reports the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	if err := r.bus.Publish("strategy.status", StatusEvent{RunnerID: r.id, State: s}); err != nil {
		r.logger.Warn("publish strategy status", "error", err)
	}
}

// StatusEvent is published to the strategy.status topic on every lifecycle
// transition.
type StatusEvent struct {
	RunnerID string
	State    State
}

// Start calls OnInit and begins the event-delivery goroutine. Start is not
// idempotent: call it exactly once per Runner.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.strategy.OnInit(r.strategyCtx); err != nil {
		return fmt.Errorf("strategy runner %s: init: %w", r.id, err)
	}
	r.setState(StateRunning)
	go r.loop(ctx)
	return nil
}

// Pause suspends event delivery to the strategy without tearing it down.
func (r *Runner) Pause() {
	if r.State() != StateRunning {
		return
	}
	r.setState(StatePaused)
	select {
	case r.pauseCh <- true:
	default:
	}
}

// Resume resumes event delivery after a Pause.
func (r *Runner) Resume() {
	if r.State() != StatePaused {
		return
	}
	r.setState(StateRunning)
	select {
	case r.pauseCh <- false:
	default:
	}
}

// Stop tears the runner down: it stops delivering events, calls OnStop, and
// blocks until the event loop has exited.
func (r *Runner) Stop() error {
	if r.State() == StateStopped {
		return nil
	}
	r.setState(StateStopping)
	close(r.stopCh)
	<-r.doneCh
	err := r.strategy.OnStop()
	r.setState(StateStopped)
	return err
}

// DeliverBar feeds a single bar directly to the strategy, bypassing the
// EventBus. Only the backtest replay loop calls this: it drives bars in a
// strict global order no bus subscription could guarantee. Respects pause
// state exactly like the live event loop's ticker/book delivery.
func (r *Runner) DeliverBar(bar types.Bar) error {
	if r.State() == StatePaused {
		return nil
	}
	return r.strategy.OnBar(bar)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneCh)

	tickerSub := r.bus.Subscribe(fmt.Sprintf("market.%s.%s.ticker", r.venue, r.pair), eventbus.SubscribeOpts{Policy: eventbus.DropOldest})
	defer r.bus.Unsubscribe(tickerSub)

	var bookSub *eventbus.Subscription
	if r.strategy.WantsOrderbook() {
		bookSub = r.bus.Subscribe(fmt.Sprintf("market.%s.%s.book", r.venue, r.pair), eventbus.SubscribeOpts{Policy: eventbus.DropOldest})
		defer r.bus.Unsubscribe(bookSub)
	}

	orderSub := r.bus.Subscribe(fmt.Sprintf("account.%s.order", r.venue), eventbus.SubscribeOpts{Policy: eventbus.BlockPublisher})
	defer r.bus.Unsubscribe(orderSub)

	fillSub := r.bus.Subscribe(fmt.Sprintf("account.%s.fill", r.venue), eventbus.SubscribeOpts{Policy: eventbus.BlockPublisher})
	defer r.bus.Unsubscribe(fillSub)

	paused := false
	var bookEvents <-chan eventbus.Event
	if bookSub != nil {
		bookEvents = bookSub.C()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case p := <-r.pauseCh:
			paused = p
		case evt, ok := <-tickerSub.C():
			if !ok {
				return
			}
			if paused {
				continue
			}
			r.dispatch(func() error {
				ticker, _ := evt.Payload.(types.Ticker)
				return r.strategy.OnTicker(ticker)
			})
		case evt, ok := <-bookEvents:
			if !ok {
				return
			}
			if paused {
				continue
			}
			r.dispatch(func() error {
				book, _ := evt.Payload.(types.OrderBookSnapshot)
				return r.strategy.OnOrderbook(book)
			})
		case evt, ok := <-orderSub.C():
			if !ok {
				return
			}
			r.dispatch(func() error {
				order, _ := evt.Payload.(types.Order)
				return r.strategy.OnOrderUpdate(order)
			})
		case evt, ok := <-fillSub.C():
			if !ok {
				return
			}
			r.dispatch(func() error {
				fill, _ := evt.Payload.(types.Fill)
				return r.strategy.OnFill(fill)
			})
		}
	}
}

func (r *Runner) dispatch(call func() error) {
	if err := call(); err != nil {
		r.logger.Error("strategy callback failed", "error", err)
	}
}
