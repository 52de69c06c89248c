package domain

import "errors"

var (
	// ErrDataUnavailable is returned when a price or ratio query failed or
	// timed out. The evaluation pass that hit it is abandoned whole; no
	// partial batch is ever applied.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrSubmissionFailed is returned when the submitter reported a
	// non-success outcome (rejected, reverted, or unconfirmed in time).
	// Not retried automatically; the next natural trigger re-evaluates.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrInvariant is returned on defensive checks (negative price, empty
	// trove id). Fatal to the pass, never to the process.
	ErrInvariant = errors.New("invariant violation")
)

// QueryError wraps a failed adapter query with the trove it concerned.
type QueryError struct {
	ID  PositionID // empty for snapshot/price-level failures
	Op  string     // "ratio", "snapshot", "price"
	Err error
}

func (e *QueryError) Error() string {
	if e.ID != "" {
		return e.Op + " query for " + string(e.ID) + ": " + e.Err.Error()
	}
	return e.Op + " query: " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is makes every QueryError match ErrDataUnavailable.
func (e *QueryError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// NewQueryError wraps err as a DataUnavailable condition.
func NewQueryError(op string, id PositionID, err error) *QueryError {
	return &QueryError{ID: id, Op: op, Err: err}
}
