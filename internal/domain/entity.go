package domain

import (
	"time"
)

// LiquidationAttempt records one submission of a liquidation batch.
type LiquidationAttempt struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IdempotencyKey string    `gorm:"index" json:"idempotency_key"`
	Price          string    `json:"price"`  // decimal string, exact
	Troves         string    `json:"troves"` // comma-joined trove ids
	TroveCount     int       `json:"trove_count"`
	Success        bool      `gorm:"index" json:"success"`
	Confirmations  int       `json:"confirmations"`
	TxRef          string    `json:"tx_ref"`
	Error          string    `json:"error"`
	CreatedAt      time.Time `json:"created_at"`
}

// PriceObservation records a price the controller evaluated against.
type PriceObservation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Price     string    `json:"price"`
	Source    string    `gorm:"index" json:"source"` // "feed" or "fallback"
	Breakeven string    `json:"breakeven"`           // empty when undefined
	CreatedAt time.Time `json:"created_at"`
}
