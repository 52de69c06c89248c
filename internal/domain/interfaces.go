package domain

import "context"

// PriceSource supplies the reference collateral price, both push and pull.
type PriceSource interface {
	// SubscribePriceUpdated registers a callback fired whenever the on-chain
	// reference price changes. Callbacks may fire from any goroutine.
	SubscribePriceUpdated(onPrice func(Price))

	// FetchFallbackPrice pulls the current price from the secondary oracle.
	// Used at startup and while actively polling.
	FetchFallbackPrice(ctx context.Context) (Price, error)
}

// PositionRegistry supplies the open trove set and per-trove ratios.
type PositionRegistry interface {
	// SubscribePositionSetChanged registers a callback fired when troves are
	// added, removed, or reordered.
	SubscribePositionSetChanged(onChange func())

	// FetchSnapshot returns up to limit trove ids.
	// Precondition: the registry orders the page riskiest-first (ascending
	// collateral ratio). The evaluator's early-exit scan depends on it.
	FetchSnapshot(ctx context.Context, limit int) ([]PositionID, error)

	// CurrentRatio computes the trove's collateral ratio at the given price.
	// Never cached by callers; ratios go stale the moment the price moves.
	CurrentRatio(ctx context.Context, id PositionID, price Price) (Ratio, error)
}

// LiquidationSubmitter submits a liquidation batch and awaits confirmation.
type LiquidationSubmitter interface {
	// SubmitBatch must never be called with an empty ids slice.
	SubmitBatch(ctx context.Context, ids []PositionID) (Outcome, error)
}

// Notifier is the human-facing side channel. All steady-state reporting goes
// through it; the core never terminates the process on a recoverable failure.
type Notifier interface {
	Notify(message string, severity Severity)
}

// AttemptStore persists evaluation and submission history for post-mortems.
type AttemptStore interface {
	RecordAttempt(attempt *LiquidationAttempt) error
	RecordObservation(obs *PriceObservation) error
}
