// Package bus implements the in-process typed publish/subscribe event bus
// that every engine component communicates through. Most event kinds have
// exactly one consumer and get a single buffered channel; publishing to them
// is non-blocking and, where droppable, overflows are counted and surfaced
// as a BusOverflow event rather than blocking the publisher. A few event
// kinds (PriceUpdate, OrderStateChanged, Fill, EmergencyStop) are fanned
// out via Subscribe so every subscriber gets its own independent copy
// instead of racing for one shared queue.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spotmm/pkg/types"
)

// fanout delivers a copy of every published value of type T to each
// currently-registered subscriber channel. A full subscriber buffer drops
// that subscriber's copy without affecting the others.
type fanout[T any] struct {
	mu   sync.Mutex
	subs []chan T
	buf  int
}

func newFanout[T any](buf int) *fanout[T] {
	return &fanout[T]{buf: buf}
}

// Subscribe registers a new independent receiver.
func (f *fanout[T]) Subscribe() <-chan T {
	ch := make(chan T, f.buf)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

// Publish fans v out to every subscriber, non-blocking per subscriber.
// Returns the number of subscribers whose buffer was full.
func (f *fanout[T]) Publish(v T) int {
	f.mu.Lock()
	subs := make([]chan T, len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	dropped := 0
	for _, ch := range subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Bus wires together the event channels every component communicates
// through. Market-data channels (MarketTrade, BookUpdate) are never
// dropped, per the bus's delivery contract.
type Bus struct {
	logger *slog.Logger

	MarketTrade      chan types.MarketTrade
	BookUpdate       chan types.BookUpdate
	Decision         chan types.Decision
	ApprovedDecision chan types.Decision
	OrderAck         chan types.OrderAck
	OrderReject      chan types.OrderReject
	AmendAck         chan types.AmendAck
	AmendReject      chan types.AmendReject
	CancelAck        chan types.CancelAck
	CancelReject     chan types.CancelReject
	ResetTick        chan types.ResetTick
	RiskAlert        chan types.RiskAlert
	Overflow         chan types.BusOverflow

	priceUpdate       *fanout[types.PriceUpdate]
	orderStateChanged *fanout[types.OrderStateChanged]
	fill              *fanout[types.Fill]
	emergencyStop     *fanout[types.EmergencyStop]

	mu      sync.Mutex
	dropped map[string]int
}

// Sizes configures the buffer depth for each channel. Zero values fall
// back to sensible defaults.
type Sizes struct {
	MarketData int // MarketTrade, BookUpdate
	PriceData  int // PriceUpdate (per subscriber)
	Decision   int
	Ack        int // Order/Amend/Cancel acks+rejects, Fill (per subscriber)
	Control    int // OrderStateChanged (per subscriber), ResetTick, RiskAlert, EmergencyStop (per subscriber), Overflow
}

func defaultSizes(s Sizes) Sizes {
	if s.MarketData <= 0 {
		s.MarketData = 1024
	}
	if s.PriceData <= 0 {
		s.PriceData = 256
	}
	if s.Decision <= 0 {
		s.Decision = 256
	}
	if s.Ack <= 0 {
		s.Ack = 256
	}
	if s.Control <= 0 {
		s.Control = 64
	}
	return s
}

// New constructs a Bus with the given buffer sizes.
func New(sizes Sizes, logger *slog.Logger) *Bus {
	sizes = defaultSizes(sizes)
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:            logger.With("component", "bus"),
		MarketTrade:       make(chan types.MarketTrade, sizes.MarketData),
		BookUpdate:        make(chan types.BookUpdate, sizes.MarketData),
		Decision:          make(chan types.Decision, sizes.Decision),
		ApprovedDecision:  make(chan types.Decision, sizes.Decision),
		OrderAck:          make(chan types.OrderAck, sizes.Ack),
		OrderReject:       make(chan types.OrderReject, sizes.Ack),
		AmendAck:          make(chan types.AmendAck, sizes.Ack),
		AmendReject:       make(chan types.AmendReject, sizes.Ack),
		CancelAck:         make(chan types.CancelAck, sizes.Ack),
		CancelReject:      make(chan types.CancelReject, sizes.Ack),
		ResetTick:         make(chan types.ResetTick, sizes.Control),
		RiskAlert:         make(chan types.RiskAlert, sizes.Control),
		Overflow:          make(chan types.BusOverflow, sizes.Control),
		priceUpdate:       newFanout[types.PriceUpdate](sizes.PriceData),
		orderStateChanged: newFanout[types.OrderStateChanged](sizes.Control),
		fill:              newFanout[types.Fill](sizes.Ack),
		emergencyStop:     newFanout[types.EmergencyStop](sizes.Control),
		dropped:           make(map[string]int),
	}
}

// SubscribePriceUpdate registers an independent PriceUpdate receiver.
func (b *Bus) SubscribePriceUpdate() <-chan types.PriceUpdate { return b.priceUpdate.Subscribe() }

// SubscribeOrderStateChanged registers an independent OrderStateChanged receiver.
func (b *Bus) SubscribeOrderStateChanged() <-chan types.OrderStateChanged {
	return b.orderStateChanged.Subscribe()
}

// SubscribeFill registers an independent Fill receiver.
func (b *Bus) SubscribeFill() <-chan types.Fill { return b.fill.Subscribe() }

// SubscribeEmergencyStop registers an independent EmergencyStop receiver.
func (b *Bus) SubscribeEmergencyStop() <-chan types.EmergencyStop { return b.emergencyStop.Subscribe() }

// PublishMarketTrade sends blocking — market-data channels are never
// dropped, per the bus's delivery contract, so a full buffer applies
// backpressure to the publisher instead of discarding the event.
func (b *Bus) PublishMarketTrade(ctx context.Context, e types.MarketTrade) {
	select {
	case b.MarketTrade <- e:
	case <-ctx.Done():
	}
}

// PublishBookUpdate blocks rather than drop, matching PublishMarketTrade.
func (b *Bus) PublishBookUpdate(ctx context.Context, e types.BookUpdate) {
	select {
	case b.BookUpdate <- e:
	case <-ctx.Done():
	}
}

// PublishDecision is a droppable, non-blocking publish.
func (b *Bus) PublishDecision(e types.Decision) {
	select {
	case b.Decision <- e:
	default:
		b.recordDrop("decision")
	}
}

// PublishApprovedDecision is a droppable, non-blocking publish used by the
// risk gate to forward a Decision it has cleared on to the execution engine.
func (b *Bus) PublishApprovedDecision(e types.Decision) {
	select {
	case b.ApprovedDecision <- e:
	default:
		b.recordDrop("approved_decision")
	}
}

// PublishPriceUpdate fans out to every PriceUpdate subscriber.
func (b *Bus) PublishPriceUpdate(e types.PriceUpdate) {
	if n := b.priceUpdate.Publish(e); n > 0 {
		b.recordDropN("price_update", n)
	}
}

// PublishOrderAck is a droppable, non-blocking publish.
func (b *Bus) PublishOrderAck(e types.OrderAck) {
	select {
	case b.OrderAck <- e:
	default:
		b.recordDrop("order_ack")
	}
}

// PublishOrderReject is a droppable, non-blocking publish.
func (b *Bus) PublishOrderReject(e types.OrderReject) {
	select {
	case b.OrderReject <- e:
	default:
		b.recordDrop("order_reject")
	}
}

// PublishAmendAck is a droppable, non-blocking publish.
func (b *Bus) PublishAmendAck(e types.AmendAck) {
	select {
	case b.AmendAck <- e:
	default:
		b.recordDrop("amend_ack")
	}
}

// PublishAmendReject is a droppable, non-blocking publish.
func (b *Bus) PublishAmendReject(e types.AmendReject) {
	select {
	case b.AmendReject <- e:
	default:
		b.recordDrop("amend_reject")
	}
}

// PublishCancelAck is a droppable, non-blocking publish.
func (b *Bus) PublishCancelAck(e types.CancelAck) {
	select {
	case b.CancelAck <- e:
	default:
		b.recordDrop("cancel_ack")
	}
}

// PublishCancelReject is a droppable, non-blocking publish.
func (b *Bus) PublishCancelReject(e types.CancelReject) {
	select {
	case b.CancelReject <- e:
	default:
		b.recordDrop("cancel_reject")
	}
}

// PublishFill fans out to every Fill subscriber (the order manager, which
// applies the fill to the order, and the risk gate, which tracks position).
func (b *Bus) PublishFill(e types.Fill) {
	if n := b.fill.Publish(e); n > 0 {
		b.recordDropN("fill", n)
	}
}

// PublishOrderStateChanged fans out to every OrderStateChanged subscriber
// (the strategy engine, which re-evaluates).
func (b *Bus) PublishOrderStateChanged(e types.OrderStateChanged) {
	if n := b.orderStateChanged.Publish(e); n > 0 {
		b.recordDropN("order_state_changed", n)
	}
}

// PublishResetTick is a droppable, non-blocking publish: a tick is dropped
// only when the ResetTick buffer is full. Whether the cancellations
// triggered by an earlier tick are still in flight is not tracked, so a
// tick is not skipped on that account.
func (b *Bus) PublishResetTick(e types.ResetTick) {
	select {
	case b.ResetTick <- e:
	default:
		b.recordDrop("reset_tick")
	}
}

// PublishRiskAlert is a droppable, non-blocking publish.
func (b *Bus) PublishRiskAlert(e types.RiskAlert) {
	select {
	case b.RiskAlert <- e:
	default:
		b.recordDrop("risk_alert")
	}
}

// PublishEmergencyStop fans out to every EmergencyStop subscriber (the
// strategy engine, which stops emitting anything but cancels, and the
// execution engine, which stops dispatching new places/amends).
func (b *Bus) PublishEmergencyStop(e types.EmergencyStop) {
	if n := b.emergencyStop.Publish(e); n > 0 {
		b.recordDropN("emergency_stop", n)
	}
}

// recordDrop increments the per-channel drop counter and emits a
// BusOverflow event (itself non-blocking, so overflow reporting can never
// deadlock the publisher it is warning about).
func (b *Bus) recordDrop(channel string) {
	b.recordDropN(channel, 1)
}

func (b *Bus) recordDropN(channel string, n int) {
	b.mu.Lock()
	b.dropped[channel] += n
	total := b.dropped[channel]
	b.mu.Unlock()

	b.logger.Warn("bus channel full, dropping event", "channel", channel, "dropped", n, "total_dropped", total)

	select {
	case b.Overflow <- types.BusOverflow{Channel: channel, Dropped: total, Timestamp: time.Now()}:
	default:
	}
}

// DroppedCounts returns a snapshot of per-channel drop counts, for metrics.
func (b *Bus) DroppedCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.dropped))
	for k, v := range b.dropped {
		out[k] = v
	}
	return out
}
