package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"liquibot/internal/domain"
	"liquibot/internal/event"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakePriceSource struct {
	mu       sync.Mutex
	onPrice  func(domain.Price)
	fallback decimal.Decimal
	err      error
}

func (f *fakePriceSource) SubscribePriceUpdated(onPrice func(domain.Price)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPrice = onPrice
}

func (f *fakePriceSource) FetchFallbackPrice(context.Context) (domain.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fallback, f.err
}

func (f *fakePriceSource) setFallback(p decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = p
}

type fakeRegistry struct {
	mu         sync.Mutex
	onChange   func()
	snapshot   []domain.PositionID
	ratio      decimal.Decimal
	snapErr    error
	ratioErr   error
	snapCalls  int32
	ratioDelay time.Duration

	active     int32
	overlapped int32
}

func (f *fakeRegistry) SubscribePositionSetChanged(onChange func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = onChange
}

func (f *fakeRegistry) FetchSnapshot(context.Context, int) ([]domain.PositionID, error) {
	atomic.AddInt32(&f.snapCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.snapErr
}

func (f *fakeRegistry) CurrentRatio(context.Context, domain.PositionID, domain.Price) (domain.Ratio, error) {
	if n := atomic.AddInt32(&f.active, 1); n > 1 {
		atomic.StoreInt32(&f.overlapped, 1)
	}
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	delay := f.ratioDelay
	ratio, err := f.ratio, f.ratioErr
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return ratio, err
}

func (f *fakeRegistry) setRatio(r decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratio = r
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   [][]domain.PositionID
	outcome domain.Outcome
	err     error
}

func (f *fakeSubmitter) SubmitBatch(_ context.Context, ids []domain.PositionID) (domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]domain.PositionID, len(ids))
	copy(batch, ids)
	f.calls = append(f.calls, batch)
	return f.outcome, f.err
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Notify(message string, severity domain.Severity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, fmt.Sprintf("[%s] %s", severity, message))
}

func testConfig() Config {
	return Config{
		LiquidationThreshold: dec("1.1"),
		ProximityThreshold:   dec("1.3"),
		PollInterval:         time.Hour, // ticks never fire in tests
		SnapshotLimit:        50,
		CallTimeout:          5 * time.Second,
	}
}

func newTestController(reg *fakeRegistry, prices *fakePriceSource, sub *fakeSubmitter) *Controller {
	return New(testConfig(), prices, reg, sub, &fakeNotifier{}, nil)
}

func priceEvent(p decimal.Decimal) *event.PriceUpdateEvent {
	return &event.PriceUpdateEvent{
		BaseEvent: event.BaseEvent{Ts: time.Now().UnixMilli()},
		Price:     p,
		Source:    "feed",
	}
}

// Proximity is price/breakeven = ratio/threshold when a single safe trove
// anchors the breakeven. Ratio 1.65 -> proximity 1.5, 1.32 -> 1.2,
// 1.54 -> 1.4.
func TestModeTransitionSequence(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.65")}
	c := newTestController(reg, &fakePriceSource{}, &fakeSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.processEvent(ctx, priceEvent(dec("1.0")))
	if c.Mode() != ModeEventDriven {
		t.Fatalf("Proximity 1.5 should stay event driven, got %s", c.Mode())
	}

	reg.setRatio(dec("1.32"))
	c.processEvent(ctx, priceEvent(dec("1.0")))
	if c.Mode() != ModeActivePolling {
		t.Fatalf("Proximity 1.2 should enter active polling, got %s", c.Mode())
	}

	reg.setRatio(dec("1.54"))
	c.processEvent(ctx, priceEvent(dec("1.0")))
	if c.Mode() != ModeEventDriven {
		t.Fatalf("Proximity 1.4 should leave active polling, got %s", c.Mode())
	}

	if c.timersStarted != 1 {
		t.Errorf("Poll timer should be created exactly once, got %d", c.timersStarted)
	}
	if c.timersStopped != 1 {
		t.Errorf("Poll timer should be canceled exactly once, got %d", c.timersStopped)
	}
}

func TestNoEmptySubmission(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.65")}
	sub := &fakeSubmitter{}
	c := newTestController(reg, &fakePriceSource{}, sub)

	c.processEvent(context.Background(), priceEvent(dec("1.0")))

	if sub.callCount() != 0 {
		t.Errorf("SubmitBatch must never run for an empty batch, got %d calls", sub.callCount())
	}
}

func TestSubmitsLiquidatableBatch(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1", "0xa2"}, ratio: dec("1.0")}
	sub := &fakeSubmitter{outcome: domain.Outcome{Success: true, Confirmations: 1, TxRef: "0xtx"}}
	c := newTestController(reg, &fakePriceSource{}, sub)

	c.processEvent(context.Background(), priceEvent(dec("1.0")))

	if sub.callCount() != 1 {
		t.Fatalf("Expected one submission, got %d", sub.callCount())
	}
	if len(sub.calls[0]) != 2 {
		t.Errorf("Expected both troves in batch, got %v", sub.calls[0])
	}
	// Every trove liquidatable: breakeven undefined, no polling.
	if c.Mode() != ModeEventDriven {
		t.Errorf("Undefined breakeven should fall back to event driven, got %s", c.Mode())
	}
}

func TestSerialization(t *testing.T) {
	reg := &fakeRegistry{
		snapshot:   []domain.PositionID{"0xa1"},
		ratio:      dec("1.65"),
		ratioDelay: 30 * time.Millisecond,
	}
	c := newTestController(reg, &fakePriceSource{}, &fakeSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	// Three notifications land while the first evaluation is still in
	// flight; each must get its own pass, strictly one at a time.
	for i := 0; i < 3; i++ {
		c.Inbox() <- priceEvent(dec("1.0"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&reg.snapCalls) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 3 evaluations, got %d", atomic.LoadInt32(&reg.snapCalls))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if atomic.LoadInt32(&reg.overlapped) != 0 {
		t.Error("Evaluations must never run concurrently")
	}
}

func TestIdempotentModeEntry(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.32")}
	c := newTestController(reg, &fakePriceSource{}, &fakeSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.startPolling(ctx)
	c.startPolling(ctx)

	if c.Mode() != ModeActivePolling {
		t.Fatalf("Expected active polling, got %s", c.Mode())
	}
	if c.timersStarted != 1 {
		t.Errorf("Re-entering active polling must not create a second timer, got %d", c.timersStarted)
	}

	c.stopPolling()
	c.stopPolling()
	if c.timersStopped != 1 {
		t.Errorf("Timer must be canceled exactly once, got %d", c.timersStopped)
	}
}

func TestEvaluationErrorKeepsModeAndSkipsSubmission(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratioErr: errors.New("rpc down")}
	sub := &fakeSubmitter{}
	notifier := &fakeNotifier{}
	c := New(testConfig(), &fakePriceSource{}, reg, sub, notifier, nil)

	c.processEvent(context.Background(), priceEvent(dec("1.0")))

	if sub.callCount() != 0 {
		t.Error("Failed evaluation must not submit")
	}
	if c.Mode() != ModeEventDriven {
		t.Errorf("Mode must survive a failed pass, got %s", c.Mode())
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	found := false
	for _, m := range notifier.msgs {
		if strings.HasPrefix(m, "[WARN]") {
			found = true
		}
	}
	if !found {
		t.Error("Failed evaluation should be reported to the observer")
	}
}

func TestSubmissionFailureNotRetried(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.0")}
	sub := &fakeSubmitter{err: errors.New("relay rejected")}
	c := newTestController(reg, &fakePriceSource{}, sub)

	c.processEvent(context.Background(), priceEvent(dec("1.0")))

	if sub.callCount() != 1 {
		t.Errorf("Failed submission must not be retried within a pass, got %d calls", sub.callCount())
	}

	// The next natural trigger re-attempts.
	c.processEvent(context.Background(), priceEvent(dec("0.95")))
	if sub.callCount() != 2 {
		t.Errorf("Next trigger should re-attempt, got %d calls", sub.callCount())
	}
}

func TestStartEstablishesBaseline(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.32")}
	prices := &fakePriceSource{fallback: dec("1.0")}
	c := newTestController(reg, prices, &fakeSubmitter{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.stopPolling()

	if !c.LastPrice().Equal(dec("1.0")) {
		t.Errorf("Baseline price = %s, want 1.0", c.LastPrice())
	}
	if c.Mode() != ModeActivePolling {
		t.Errorf("Proximity 1.2 at startup should begin in active polling, got %s", c.Mode())
	}
	if prices.onPrice == nil || reg.onChange == nil {
		t.Error("Start must register both push subscriptions")
	}
}

func TestStartFailsWithoutInitialPrice(t *testing.T) {
	prices := &fakePriceSource{err: errors.New("oracle down")}
	c := newTestController(&fakeRegistry{}, prices, &fakeSubmitter{})

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("Start must fail when the initial price cannot be fetched")
	}
}

func TestPollTickTriggersEvaluationBelowBreakeven(t *testing.T) {
	reg := &fakeRegistry{snapshot: []domain.PositionID{"0xa1"}, ratio: dec("1.32")}
	prices := &fakePriceSource{fallback: dec("1.0")}
	sub := &fakeSubmitter{outcome: domain.Outcome{Success: true, Confirmations: 1}}
	c := newTestController(reg, prices, sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Establish a breakeven: price 1.0, ratio 1.32 -> breakeven 0.8333...
	c.processEvent(ctx, priceEvent(dec("1.0")))
	if c.breakeven == nil {
		t.Fatal("Breakeven should be set")
	}
	snapBefore := atomic.LoadInt32(&reg.snapCalls)

	// Tick with fallback price above breakeven: no evaluation.
	prices.setFallback(dec("0.9"))
	c.processEvent(ctx, event.PollTickEvent{})
	if atomic.LoadInt32(&reg.snapCalls) != snapBefore {
		t.Error("Tick above breakeven must not trigger an evaluation")
	}

	// Tick with fallback price at the breakeven: full re-evaluation, and
	// at that price the trove is liquidatable.
	reg.setRatio(dec("1.05"))
	prices.setFallback(dec("0.83"))
	c.processEvent(ctx, event.PollTickEvent{})
	if atomic.LoadInt32(&reg.snapCalls) != snapBefore+1 {
		t.Error("Tick at or below breakeven must trigger a full evaluation")
	}
	if sub.callCount() != 1 {
		t.Errorf("Liquidatable trove on poll path should be submitted, got %d calls", sub.callCount())
	}

	c.stopPolling()
}
