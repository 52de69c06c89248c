package event

import (
	"sync"

	"github.com/shopspring/decimal"
)

// priceUpdatePool recycles PriceUpdateEvent allocations. Price updates are
// the only high-frequency event the feed produces; trove-set changes and
// poll ticks are rare enough to allocate directly.
//
// Usage:
//
//	ev := AcquirePriceUpdateEvent()
//	ev.Price = p
//	// ... hand to the controller inbox ...
//	ReleasePriceUpdateEvent(ev)  // controller releases after processing
var priceUpdatePool = sync.Pool{
	New: func() interface{} {
		return &PriceUpdateEvent{}
	},
}

// AcquirePriceUpdateEvent gets a PriceUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceUpdateEvent() *PriceUpdateEvent {
	return priceUpdatePool.Get().(*PriceUpdateEvent)
}

// ReleasePriceUpdateEvent returns a PriceUpdateEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleasePriceUpdateEvent(ev *PriceUpdateEvent) {
	if ev == nil {
		return
	}
	ev.Ts = 0
	ev.Price = decimal.Decimal{}
	ev.Source = ""

	priceUpdatePool.Put(ev)
}
