package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"liquibot/internal/domain"
	"liquibot/internal/event"
	"liquibot/internal/infra"
	"liquibot/internal/risk"

	"github.com/shopspring/decimal"
)

// Mode is the controller's monitoring mode.
type Mode int32

const (
	// ModeEventDriven re-evaluates only on push notifications.
	ModeEventDriven Mode = iota + 1
	// ModeActivePolling additionally polls the fallback oracle on a timer
	// because the market sits close to a liquidation event.
	ModeActivePolling
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeEventDriven:
		return "EVENT_DRIVEN"
	case ModeActivePolling:
		return "ACTIVE_POLLING"
	default:
		return "UNKNOWN"
	}
}

// Config carries the controller's protocol parameters.
type Config struct {
	LiquidationThreshold decimal.Decimal // ICR below this is liquidatable (default 1.1)
	ProximityThreshold   decimal.Decimal // price/breakeven below this enters polling (default 1.3)
	PollInterval         time.Duration   // active-polling tick (default 10s)
	SnapshotLimit        int             // trove page size (default 50)
	CallTimeout          time.Duration   // bound on each adapter call (default 15s)
	FullScan             bool            // opt-in: scan past the first safe trove
}

// Controller is the single-threaded liquidation trigger. External workers
// push events into its inbox; the Run loop processes them strictly one at a
// time, so mode, price, snapshot and breakeven need no locking on the
// hotpath. This MUST be the only goroutine touching those fields.
type Controller struct {
	cfg   Config
	inbox chan event.Event

	prices    domain.PriceSource
	registry  domain.PositionRegistry
	submitter domain.LiquidationSubmitter
	notifier  domain.Notifier
	store     domain.AttemptStore // optional, may be nil

	// Owned state. Written only from the Run goroutine (and Start, which
	// runs before the loop).
	price     decimal.Decimal
	snapshot  []domain.PositionID
	breakeven *decimal.Decimal
	mode      Mode

	pollCancel context.CancelFunc
	pollWG     sync.WaitGroup

	// timer lifecycle counters, kept for the mode-transition invariants
	timersStarted int
	timersStopped int

	mu sync.RWMutex // used only for external reads (status queries)
}

// New creates a controller. store may be nil to disable attempt history.
func New(cfg Config, prices domain.PriceSource, registry domain.PositionRegistry, submitter domain.LiquidationSubmitter, notifier domain.Notifier, store domain.AttemptStore) *Controller {
	return &Controller{
		cfg:       cfg,
		inbox:     make(chan event.Event, 256),
		prices:    prices,
		registry:  registry,
		submitter: submitter,
		notifier:  notifier,
		store:     store,
		mode:      ModeEventDriven,
	}
}

// Inbox returns the event channel. External workers send events here.
func (c *Controller) Inbox() chan<- event.Event {
	return c.inbox
}

// Mode returns the current monitoring mode (external read).
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// LastPrice returns the most recently evaluated price (external read).
func (c *Controller) LastPrice() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.price
}

// Start wires the push subscriptions and performs the initial synchronous
// evaluation from a freshly pulled fallback price, establishing the baseline
// mode and breakeven before Run serves the inbox.
func (c *Controller) Start(ctx context.Context) error {
	c.prices.SubscribePriceUpdated(func(p domain.Price) {
		ev := event.AcquirePriceUpdateEvent()
		ev.Ts = time.Now().UnixMilli()
		ev.Price = p
		ev.Source = "feed"
		select {
		case c.inbox <- ev:
		default: // inbox full: drop, the next update supersedes it anyway
			event.ReleasePriceUpdateEvent(ev)
		}
	})

	c.registry.SubscribePositionSetChanged(func() {
		select {
		case c.inbox <- event.TroveSetChangedEvent{BaseEvent: event.BaseEvent{Ts: time.Now().UnixMilli()}}:
		default:
		}
	})

	c.notifier.Notify("Starting with fallback oracle price...", domain.SeverityInfo)

	price, err := c.fetchFallbackPrice(ctx)
	if err != nil {
		return fmt.Errorf("initial price fetch: %w", err)
	}
	c.setPrice(price)
	c.recordObservation("fallback")
	c.evaluateAndAct(ctx)

	c.notifier.Notify(fmt.Sprintf("Baseline established at price %s, mode %s", c.price, c.mode), domain.SeverityInfo)
	return nil
}

// Run serves the inbox. This MUST be run in a single goroutine. Events are
// processed one at a time in arrival order; a notification arriving while an
// evaluation is in flight waits its turn.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("Trigger controller started", slog.String("mode", c.mode.String()))

	for {
		select {
		case <-ctx.Done():
			c.stopPolling()
			slog.Info("Trigger controller stopping...")
			return
		case ev := <-c.inbox:
			c.processEvent(ctx, ev)
		}
	}
}

func (c *Controller) processEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case *event.PriceUpdateEvent:
		c.handlePriceUpdate(ctx, e)
		event.ReleasePriceUpdateEvent(e)
	case event.TroveSetChangedEvent:
		c.handleTroveSetChanged(ctx)
	case event.PollTickEvent:
		c.handlePollTick(ctx)
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

func (c *Controller) handlePriceUpdate(ctx context.Context, e *event.PriceUpdateEvent) {
	c.notifier.Notify(fmt.Sprintf("New price from feed: %s", e.Price), domain.SeverityInfo)

	if e.Price.IsNegative() {
		c.reportError("price update", fmt.Errorf("%w: negative price %s", domain.ErrInvariant, e.Price))
		return
	}

	c.setPrice(e.Price)
	c.recordObservation(e.Source)
	c.evaluateAndAct(ctx)
}

func (c *Controller) handleTroveSetChanged(ctx context.Context) {
	slog.Debug("Trove set changed, re-evaluating")
	c.evaluateAndAct(ctx)
}

// handlePollTick pulls the fallback price and re-evaluates only when it has
// crossed the stored breakeven. A full evaluation on every tick would hammer
// the registry for nothing while the market hovers above the line.
func (c *Controller) handlePollTick(ctx context.Context) {
	price, err := c.fetchFallbackPrice(ctx)
	if err != nil {
		c.reportError("poll tick", err)
		return
	}

	c.mu.RLock()
	be := c.breakeven
	c.mu.RUnlock()
	if be == nil {
		return
	}

	slog.Debug("Poll tick",
		slog.String("price", price.String()),
		slog.String("breakeven", be.String()))

	if price.LessThanOrEqual(*be) {
		c.notifier.Notify(
			fmt.Sprintf("Fallback price %s at or below breakeven %s", price, be),
			domain.SeverityWarn)
		c.setPrice(price)
		c.recordObservation("fallback")
		c.evaluateAndAct(ctx)
	}
}

// evaluateAndAct runs one full pass: fresh snapshot, risk evaluation,
// submission of a non-empty batch, then the mode transition. Any failure is
// reported and abandons the pass; the controller keeps its mode and waits
// for the next trigger.
func (c *Controller) evaluateAndAct(ctx context.Context) {
	started := time.Now()

	snapshot, err := c.fetchSnapshot(ctx)
	if err != nil {
		c.reportError("snapshot", err)
		return
	}
	c.snapshot = snapshot

	var opts []risk.Option
	if c.cfg.FullScan {
		opts = append(opts, risk.WithFullScan())
	}

	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	evaluation, err := risk.Evaluate(evalCtx, c.registry, snapshot, c.price, c.cfg.LiquidationThreshold, opts...)
	cancel()
	if err != nil {
		c.reportError("evaluation", err)
		return
	}
	infra.GlobalMetrics.RecordEvaluation(time.Since(started).Nanoseconds())

	c.mu.Lock()
	c.breakeven = evaluation.Breakeven
	c.mu.Unlock()

	if len(evaluation.Batch) > 0 {
		c.submitBatch(ctx, evaluation.Batch)
	}

	c.updateMode(ctx)
}

// submitBatch sends the batch to the relay and records the attempt. Failures
// are reported, never retried here: liquidatable troves resurface on the
// next pass.
func (c *Controller) submitBatch(ctx context.Context, batch []domain.PositionID) {
	c.notifier.Notify(fmt.Sprintf("Trying to liquidate %d trove(s)...", len(batch)), domain.SeverityWarn)

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	outcome, err := c.submitter.SubmitBatch(callCtx, batch)
	cancel()

	c.recordAttempt(batch, outcome, err)

	switch {
	case err != nil:
		c.reportError("submission", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err))
	case !outcome.Success:
		c.reportError("submission", fmt.Errorf("%w: unconfirmed (confirmations=%d)", domain.ErrSubmissionFailed, outcome.Confirmations))
	default:
		infra.GlobalMetrics.RecordBatchSubmitted(len(batch))
		c.notifier.Notify(
			fmt.Sprintf("Successfully liquidated %d trove(s), tx %s", len(batch), outcome.TxRef),
			domain.SeverityInfo)
	}
}

// updateMode applies the proximity rule. With no breakeven (every trove was
// liquidatable) there is nothing for a poll tick to compare against, so the
// controller falls back to event-driven monitoring.
func (c *Controller) updateMode(ctx context.Context) {
	c.mu.RLock()
	be := c.breakeven
	c.mu.RUnlock()

	if be == nil || be.IsZero() {
		c.stopPolling()
		return
	}

	proximity := c.price.Div(*be)
	if proximity.LessThan(c.cfg.ProximityThreshold) {
		c.startPolling(ctx)
	} else {
		c.stopPolling()
	}
}

// startPolling enters ACTIVE_POLLING. Idempotent: entering while already
// polling leaves the existing timer alone.
func (c *Controller) startPolling(ctx context.Context) {
	if c.Mode() == ModeActivePolling {
		return
	}
	c.setMode(ModeActivePolling)
	infra.GlobalMetrics.SetActivePolling(true)
	c.notifier.Notify("Market close to liquidation range, switching to active polling", domain.SeverityWarn)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.timersStarted++

	c.pollWG.Add(1)
	go func() {
		defer c.pollWG.Done()
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				tick := event.PollTickEvent{BaseEvent: event.BaseEvent{Ts: time.Now().UnixMilli()}}
				select {
				case c.inbox <- tick:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()
}

// stopPolling returns to EVENT_DRIVEN, cancelling the timer exactly once.
// No-op when already event driven.
func (c *Controller) stopPolling() {
	if c.Mode() != ModeActivePolling {
		return
	}
	c.setMode(ModeEventDriven)
	infra.GlobalMetrics.SetActivePolling(false)

	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
		c.timersStopped++
	}
	c.pollWG.Wait()
	c.notifier.Notify("Back to event-driven monitoring", domain.SeverityInfo)
}

func (c *Controller) fetchFallbackPrice(ctx context.Context) (domain.Price, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	price, err := c.prices.FetchFallbackPrice(callCtx)
	if err != nil {
		return decimal.Zero, domain.NewQueryError("price", "", err)
	}
	return price, nil
}

func (c *Controller) fetchSnapshot(ctx context.Context) ([]domain.PositionID, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	snapshot, err := c.registry.FetchSnapshot(callCtx, c.cfg.SnapshotLimit)
	if err != nil {
		return nil, domain.NewQueryError("snapshot", "", err)
	}
	return snapshot, nil
}

func (c *Controller) setPrice(p decimal.Decimal) {
	c.mu.Lock()
	c.price = p
	c.mu.Unlock()
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// reportError routes a pass failure to the observer with its phase. The
// controller never crashes on a recoverable error; it stays in its current
// mode and waits for the next trigger.
func (c *Controller) reportError(phase string, err error) {
	infra.GlobalMetrics.RecordError()

	severity := domain.SeverityWarn
	if errors.Is(err, domain.ErrInvariant) {
		severity = domain.SeverityError
	}
	c.notifier.Notify(
		fmt.Sprintf("%s failed at price %s: %v", phase, c.price, err),
		severity)
}

func (c *Controller) recordAttempt(batch []domain.PositionID, outcome domain.Outcome, submitErr error) {
	if c.store == nil {
		return
	}

	ids := make([]string, len(batch))
	for i, id := range batch {
		ids[i] = string(id)
	}
	attempt := &domain.LiquidationAttempt{
		IdempotencyKey: outcome.IdempotencyKey,
		Price:          c.price.String(),
		Troves:         strings.Join(ids, ","),
		TroveCount:     len(batch),
		Success:        submitErr == nil && outcome.Success,
		Confirmations:  outcome.Confirmations,
		TxRef:          outcome.TxRef,
	}
	if submitErr != nil {
		attempt.Error = submitErr.Error()
	}
	if err := c.store.RecordAttempt(attempt); err != nil {
		slog.Warn("Failed to record liquidation attempt", slog.Any("error", err))
	}
}

func (c *Controller) recordObservation(source string) {
	if c.store == nil {
		return
	}

	obs := &domain.PriceObservation{
		Price:  c.price.String(),
		Source: source,
	}
	c.mu.RLock()
	if c.breakeven != nil {
		obs.Breakeven = c.breakeven.String()
	}
	c.mu.RUnlock()

	if err := c.store.RecordObservation(obs); err != nil {
		slog.Warn("Failed to record price observation", slog.Any("error", err))
	}
}
