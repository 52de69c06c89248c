package domain

import "github.com/shopspring/decimal"

// Price is a collateral price observation in debt-token terms.
// The protocol publishes 18-decimal fixed point; decimal.Decimal keeps the
// exact value without float drift.
type Price = decimal.Decimal

// Ratio is an individual collateral ratio (collateral value / debt value)
// computed by the registry at a given price.
type Ratio = decimal.Decimal

// PositionID identifies an open trove. It is an opaque address-like string
// assigned by the protocol; the bot never parses it.
type PositionID string

// Valid reports whether the identifier is usable. The registry must never
// hand out an empty id; an empty id in a snapshot is an invariant violation.
func (id PositionID) Valid() bool {
	return id != ""
}

// Outcome is the result of a batch liquidation submission.
// Success is only true once the required confirmation count was reached.
type Outcome struct {
	Success        bool
	Confirmations  int
	TxRef          string // relay-assigned reference, for diagnostics
	IdempotencyKey string // key the submitter attached to the request
}

// Severity classifies human-facing notifications.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarn
	SeverityError
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
