package price

import (
	"context"

	"spotmm/internal/bus"
)

// Run subscribes to market-data events on the bus and feeds them into the
// estimator, publishing a PriceUpdate whenever Observe accepts a sample.
// It is the single task (per §5) that owns mutation of the sample ring.
func (e *Estimator) Run(ctx context.Context, b *bus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-b.MarketTrade:
			if pu, ok := e.Observe(SampleFromTrade(trade)); ok {
				b.PublishPriceUpdate(pu)
			}
		case book := <-b.BookUpdate:
			if pu, ok := e.Observe(SampleFromBook(book)); ok {
				b.PublishPriceUpdate(pu)
			}
		}
	}
}
