package risk

import (
	"context"
	"fmt"
	"log/slog"

	"liquibot/internal/domain"

	"github.com/shopspring/decimal"
)

// RatioSource is the slice of the position registry the evaluator needs.
type RatioSource interface {
	CurrentRatio(ctx context.Context, id domain.PositionID, price domain.Price) (domain.Ratio, error)
}

// Evaluation is the result of one scan over a trove snapshot.
type Evaluation struct {
	// Batch holds the troves found liquidatable, in scan order.
	Batch []domain.PositionID

	// Breakeven is the price at which the first safe trove encountered
	// would itself become liquidatable. Nil when every scanned trove was
	// liquidatable (undefined). Stale as soon as a new price or snapshot
	// arrives.
	Breakeven *decimal.Decimal
}

type options struct {
	fullScan bool
}

// Option configures an evaluation.
type Option func(*options)

// WithFullScan disables the early-exit at the first safe trove and scans the
// whole snapshot. The default early-exit reproduces the protocol bot's
// behavior and assumes a riskiest-first snapshot; out-of-order entries can
// then be skipped. Full scan trades extra ratio queries for not missing
// those. Opt-in only.
func WithFullScan() Option {
	return func(o *options) { o.fullScan = true }
}

// Evaluate scans troves in the given order at price and classifies each as
// liquidatable (ratio strictly below threshold) or safe. Ratios are queried
// per trove and never cached. On any query failure the whole evaluation
// fails; no partial batch is returned.
func Evaluate(ctx context.Context, src RatioSource, troves []domain.PositionID, price domain.Price, threshold domain.Ratio, opts ...Option) (Evaluation, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if price.IsNegative() {
		return Evaluation{}, fmt.Errorf("%w: negative price %s", domain.ErrInvariant, price)
	}
	if !threshold.IsPositive() {
		return Evaluation{}, fmt.Errorf("%w: non-positive threshold %s", domain.ErrInvariant, threshold)
	}

	var ev Evaluation
	for i, id := range troves {
		if !id.Valid() {
			return Evaluation{}, fmt.Errorf("%w: empty trove id at index %d", domain.ErrInvariant, i)
		}

		ratio, err := src.CurrentRatio(ctx, id, price)
		if err != nil {
			return Evaluation{}, domain.NewQueryError("ratio", id, err)
		}
		slog.Debug("trove checked",
			slog.String("trove", string(id)),
			slog.String("icr", ratio.String()))

		if ratio.LessThan(threshold) {
			ev.Batch = append(ev.Batch, id)
			continue
		}

		// First safe trove: the snapshot is riskiest-first, so everything
		// after it is assumed safe too. Its ratio anchors the breakeven.
		if ev.Breakeven == nil {
			be := price.Mul(threshold).Div(ratio)
			ev.Breakeven = &be
		}
		if !o.fullScan {
			break
		}
	}

	return ev, nil
}
