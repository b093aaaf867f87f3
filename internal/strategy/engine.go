// Package strategy implements the band-based quoting algorithm: given the
// latest reference price and the order manager's live-order view, it
// emits Place/Amend/Cancel decisions that keep a fixed number of orders
// resting inside [min_spread, max_spread] on each side.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/internal/metrics"
	"spotmm/internal/ordermgr"
	"spotmm/pkg/types"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)
)

// Engine is the strategy engine. It is pure over its inputs — it never
// retries a rejected decision itself; a reappearing OrderStateChanged or
// *Reject simply re-triggers the next evaluation cycle.
type Engine struct {
	cfg config.StrategyConfig
	om  *ordermgr.Manager
	bus *bus.Bus

	priceCh     <-chan types.PriceUpdate
	stateCh     <-chan types.OrderStateChanged
	emergencyCh <-chan types.EmergencyStop

	logger *slog.Logger

	mu             sync.Mutex
	lastPrice      types.PriceUpdate
	havePrice      bool
	lastCycleTime  time.Time
	emergencyStop  bool
	resetPending   bool
}

// New builds a strategy engine instance.
func New(cfg config.StrategyConfig, om *ordermgr.Manager, b *bus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		om:          om,
		bus:         b,
		priceCh:     b.SubscribePriceUpdate(),
		stateCh:     b.SubscribeOrderStateChanged(),
		emergencyCh: b.SubscribeEmergencyStop(),
		logger:      logger.With("component", "strategy"),
	}
}

// Run drives the strategy's reaction to PriceUpdate, OrderStateChanged,
// ResetTick, and EmergencyStop events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pu := <-e.priceCh:
			e.onPriceUpdate(pu)
		case sc := <-e.stateCh:
			e.onOrderStateChanged(sc)
		case <-e.bus.ResetTick:
			e.onResetTick()
		case stop := <-e.emergencyCh:
			e.logger.Error("emergency stop received", "reason", stop.Reason)
			e.mu.Lock()
			e.emergencyStop = true
			e.mu.Unlock()
			e.cancelEverything()
		}
	}
}

func (e *Engine) onPriceUpdate(pu types.PriceUpdate) {
	e.mu.Lock()
	drift := e.driftMagnitude(pu)
	e.lastPrice = pu
	e.havePrice = true
	e.mu.Unlock()

	e.maybeEvaluate(drift)
}

// driftMagnitude computes the fractional move since the last accepted
// price, used to decide whether rebalance_interval should be overridden.
// Caller must hold e.mu.
func (e *Engine) driftMagnitude(pu types.PriceUpdate) decimal.Decimal {
	if !e.havePrice || e.lastPrice.Value.IsZero() {
		return decimal.Zero
	}
	return pu.Value.Sub(e.lastPrice.Value).Abs().Div(e.lastPrice.Value)
}

func (e *Engine) onOrderStateChanged(sc types.OrderStateChanged) {
	// Re-evaluate whenever an order drops out of terminal status cover —
	// i.e. any transition at all, since the strategy must top back up
	// after a terminal outcome and may need to react to an amend/cancel
	// reject by re-planning.
	e.maybeEvaluate(decimal.Zero)
}

func (e *Engine) onResetTick() {
	e.mu.Lock()
	e.resetPending = true
	e.mu.Unlock()
	e.evaluateNow()
}

// maybeEvaluate enforces the rebalance rate limit: two consecutive cycles
// must be separated by rebalance_interval, unless drift exceeds
// drift_threshold, per the spec's drift-takes-precedence resolution.
func (e *Engine) maybeEvaluate(drift decimal.Decimal) {
	e.mu.Lock()
	sinceLast := time.Since(e.lastCycleTime)
	driftOverride := drift.GreaterThan(decimal.NewFromFloat(e.cfg.DriftThreshold))
	ready := driftOverride || e.lastCycleTime.IsZero() || sinceLast >= e.cfg.RebalanceInterval
	e.mu.Unlock()

	if !ready {
		return
	}
	e.evaluateNow()
}

func (e *Engine) evaluateNow() {
	e.mu.Lock()
	if !e.havePrice {
		e.mu.Unlock()
		return
	}
	price := e.lastPrice.Value
	resetPending := e.resetPending
	e.resetPending = false
	stopped := e.emergencyStop
	e.lastCycleTime = time.Now()
	e.mu.Unlock()

	if resetPending {
		e.cancelEverything()
		return
	}

	if stopped {
		return // only cancels are permitted once stopped; nothing more to top up
	}

	e.evaluateSide(types.Sell, price)
	e.evaluateSide(types.Buy, price)
}

func (e *Engine) cancelEverything() {
	for _, side := range []types.Side{types.Buy, types.Sell} {
		for _, o := range e.om.LiveOrders(e.cfg.Symbol, side) {
			if o.Status.Terminal() {
				continue
			}
			e.publishDecision(types.NewCancelDecision(o.ClientOrderID, "reset_tick"))
		}
	}
}

// publishDecision forwards a Decision onto the bus and counts it by kind.
func (e *Engine) publishDecision(d types.Decision) {
	metrics.DecisionsTotal.WithLabelValues(d.Kind.String()).Inc()
	e.bus.PublishDecision(d)
}

// evaluateSide implements §4.2's per-side decision algorithm.
func (e *Engine) evaluateSide(side types.Side, ref decimal.Decimal) {
	desiredPrice := e.desiredPrice(side, ref)
	desiredQty := e.desiredQuantity(desiredPrice)

	live := e.om.LiveOrders(e.cfg.Symbol, side)
	filled := 0

	for _, o := range live {
		if o.Status == types.StatusPendingAmend || o.Status == types.StatusPendingCancel {
			// one modification already outstanding; let it resolve
			filled++
			continue
		}

		deviation := o.Price.Sub(desiredPrice).Abs().Div(desiredPrice)
		switch {
		case deviation.LessThanOrEqual(decimal.NewFromFloat(e.cfg.ModifyThreshold)):
			filled++
		case deviation.LessThanOrEqual(decimal.NewFromFloat(e.cfg.MaxModifyDeviation)):
			e.publishDecision(types.NewAmendDecision(o.ClientOrderID, desiredPrice, desiredQty, "drift_within_tolerance"))
			filled++
		default:
			e.publishDecision(types.NewCancelDecision(o.ClientOrderID, "drift_exceeds_tolerance"))
		}
	}

	for i := filled; i < e.cfg.TargetOrdersPerSide; i++ {
		e.publishDecision(types.NewPlaceDecision(side, desiredPrice, desiredQty, "top_up"))
	}
}

// desiredPrice computes the single-slot band price for a side: the sell
// price sits at the midpoint of [min_spread, max_spread] above the
// reference, the buy price mirrors it below, rounded to the tick.
func (e *Engine) desiredPrice(side types.Side, ref decimal.Decimal) decimal.Decimal {
	bandMid := decimal.NewFromFloat(e.cfg.MinSpread).Add(decimal.NewFromFloat(e.cfg.MaxSpread)).Mul(half)
	var raw decimal.Decimal
	if side == types.Sell {
		raw = ref.Mul(one.Add(bandMid))
	} else {
		raw = ref.Mul(one.Sub(bandMid))
	}
	return roundToTick(raw, e.cfg.TickSize)
}

// desiredQuantity sizes an order so price*qty >= min_order_value, rounded
// to 8 decimal places and bumped by one unit if rounding took it under.
func (e *Engine) desiredQuantity(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	minValue := decimal.NewFromFloat(e.cfg.MinOrderValue)
	qty := minValue.Div(price).Round(8)
	if price.Mul(qty).LessThan(minValue) {
		qty = qty.Add(decimal.New(1, -8))
	}
	return qty
}

func roundToTick(v decimal.Decimal, tick float64) decimal.Decimal {
	if tick <= 0 {
		return v
	}
	tickD := decimal.NewFromFloat(tick)
	return v.Div(tickD).Round(0).Mul(tickD)
}
