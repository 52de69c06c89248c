package event

import (
	"github.com/shopspring/decimal"
)

// Type defines the type of event.
type Type uint16

const (
	EvPriceUpdate Type = iota + 1
	EvTroveSetChanged
	EvPollTick
)

// Event is the interface for all controller mailbox events.
type Event interface {
	GetTs() int64
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Ts int64 `json:"ts"` // unix millis at enqueue time
}

func (e BaseEvent) GetTs() int64 { return e.Ts }

// PriceUpdateEvent represents a reference price change pushed by the feed.
type PriceUpdateEvent struct {
	BaseEvent
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"` // "feed" or "fallback"
}

func (e PriceUpdateEvent) GetType() Type { return EvPriceUpdate }

// TroveSetChangedEvent signals that troves were added, removed, or reordered.
// It carries no payload; the controller refetches the snapshot either way.
type TroveSetChangedEvent struct {
	BaseEvent
}

func (e TroveSetChangedEvent) GetType() Type { return EvTroveSetChanged }

// PollTickEvent is emitted by the active-polling ticker.
type PollTickEvent struct {
	BaseEvent
}

func (e PollTickEvent) GetType() Type { return EvPollTick }
