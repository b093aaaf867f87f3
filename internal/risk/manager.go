// Package risk implements the risk gate: it intercepts every raw Decision
// the strategy engine emits and either forwards it to the execution engine
// unchanged, drops it, or escalates to a RiskAlert/EmergencyStop. It tracks
// net position and realized PnL itself from Fill events — there is no
// upstream component that already computes those for it.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/internal/metrics"
	"spotmm/internal/ordermgr"
	"spotmm/pkg/types"
)

// Manager is the risk gate. One check-loop goroutine owns all of its
// state; no separate lock is needed because Run is its sole mutator.
type Manager struct {
	cfg    config.RiskConfig
	symbol string
	om     *ordermgr.Manager
	bus    *bus.Bus
	logger *slog.Logger

	fillCh  <-chan types.Fill
	priceCh <-chan types.PriceUpdate

	position         decimal.Decimal // net signed base-asset quantity
	avgEntryPrice    decimal.Decimal
	dailyRealizedPnL decimal.Decimal

	currentPrice    decimal.Decimal
	haveCurrentPrice bool
	lastCheckPrice   decimal.Decimal
	haveCheckPrice   bool

	consecutivePriceBreaches int
	emergencyActive          bool
}

// New builds a risk gate for a single symbol.
func New(cfg config.RiskConfig, symbol string, om *ordermgr.Manager, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:    cfg,
		symbol: symbol,
		om:     om,
		bus:    b,
		logger: logger.With("component", "risk"),
	}
	if b != nil {
		m.fillCh = b.SubscribeFill()
		m.priceCh = b.SubscribePriceUpdate()
	}
	return m
}

// Run is the risk check loop: a single goroutine that gates decisions,
// tracks fills and price for exposure/PnL/movement checks, and runs the
// periodic price-movement check on cfg.CheckInterval.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.bus.Decision:
			m.gate(d)
		case f := <-m.fillCh:
			m.applyFill(f)
		case pu := <-m.priceCh:
			m.currentPrice = pu.Value
			m.haveCurrentPrice = true
		case <-ticker.C:
			m.checkPriceMovement()
		}
	}
}

// gate applies §4.6's rules 1-2 to a raw Decision: cancels always pass;
// once an emergency stop is active nothing else passes; otherwise
// exposure-reducing amends pass and everything else is vetted against
// the position cap and the live order-count cap before being forwarded.
func (m *Manager) gate(d types.Decision) {
	if d.Kind == types.DecisionCancel {
		m.bus.PublishApprovedDecision(d)
		return
	}

	if m.emergencyActive {
		m.logger.Warn("dropping decision, emergency stop active", "kind", d.Kind)
		return
	}

	if d.Kind == types.DecisionAmend {
		if m.isReducingAmend(d) {
			m.bus.PublishApprovedDecision(d)
			return
		}
	}

	if m.wouldBreachPosition(d) {
		m.logger.Warn("dropping decision, would breach max_position", "kind", d.Kind, "position", m.position)
		return
	}

	if d.Kind == types.DecisionPlace && m.liveOrderCount() >= m.cfg.MaxOrderCount {
		m.logger.Warn("dropping place, max_order_count reached", "max_order_count", m.cfg.MaxOrderCount)
		return
	}

	m.bus.PublishApprovedDecision(d)
}

// isReducingAmend reports whether an Amend would shrink the order's
// remaining quantity, which always reduces exposure and is therefore
// exempt from the position cap.
func (m *Manager) isReducingAmend(d types.Decision) bool {
	o, ok := m.om.Get(d.ClientOrderID)
	if !ok {
		return false
	}
	return d.NewQuantity.LessThan(o.Remaining())
}

// wouldBreachPosition projects the position if a Place (or a non-reducing
// Amend) fully fills, and rejects only if that projection moves the
// position further from zero than it already is and past max_position.
func (m *Manager) wouldBreachPosition(d types.Decision) bool {
	side, qty := m.projectedFill(d)
	if qty.IsZero() {
		return false
	}
	signed := qty
	if side == types.Sell {
		signed = qty.Neg()
	}
	projected := m.position.Add(signed)

	increasesExposure := projected.Abs().GreaterThan(m.position.Abs())
	if !increasesExposure {
		return false
	}
	return projected.Abs().GreaterThan(decimal.NewFromFloat(m.cfg.MaxPosition))
}

func (m *Manager) projectedFill(d types.Decision) (types.Side, decimal.Decimal) {
	switch d.Kind {
	case types.DecisionPlace:
		return d.Side, d.Quantity
	case types.DecisionAmend:
		o, ok := m.om.Get(d.ClientOrderID)
		if !ok {
			return types.Buy, decimal.Zero
		}
		return o.Side, d.NewQuantity
	default:
		return types.Buy, decimal.Zero
	}
}

func (m *Manager) liveOrderCount() int {
	return len(m.om.LiveOrders(m.symbol, types.Buy)) + len(m.om.LiveOrders(m.symbol, types.Sell))
}

// applyFill updates net position and realized PnL using average-cost
// accounting: a fill that extends the position re-weights the average
// entry price, one that reduces or flips it realizes PnL on the closed
// portion.
func (m *Manager) applyFill(f types.Fill) {
	o, ok := m.om.Get(f.ClientOrderID)
	if !ok {
		return
	}

	qty := f.FillQuantity
	signed := qty
	if o.Side == types.Sell {
		signed = qty.Neg()
	}

	switch {
	case m.position.IsZero() || sameSign(m.position, signed):
		totalCost := m.avgEntryPrice.Mul(m.position.Abs()).Add(f.FillPrice.Mul(qty))
		totalQty := m.position.Abs().Add(qty)
		if !totalQty.IsZero() {
			m.avgEntryPrice = totalCost.Div(totalQty)
		}
	default:
		closedQty := qty
		if m.position.Abs().LessThan(closedQty) {
			closedQty = m.position.Abs()
		}
		var pnlPerUnit decimal.Decimal
		if m.position.IsPositive() {
			pnlPerUnit = f.FillPrice.Sub(m.avgEntryPrice)
		} else {
			pnlPerUnit = m.avgEntryPrice.Sub(f.FillPrice)
		}
		m.dailyRealizedPnL = m.dailyRealizedPnL.Add(pnlPerUnit.Mul(closedQty))
		if qty.GreaterThan(m.position.Abs()) {
			m.avgEntryPrice = f.FillPrice // flipped through zero, new side opens here
		}
	}
	m.position = m.position.Add(signed)

	m.checkDailyLoss()
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// checkDailyLoss implements §4.6 rule 4: daily_realized_loss <=
// max_daily_loss, breach raises EmergencyStop directly (no warning tier).
func (m *Manager) checkDailyLoss() {
	if m.dailyRealizedPnL.LessThan(decimal.NewFromFloat(-m.cfg.MaxDailyLoss)) {
		m.raiseEmergencyStop(fmt.Sprintf("daily realized loss %s exceeds max_daily_loss %.2f", m.dailyRealizedPnL.String(), m.cfg.MaxDailyLoss))
	}
}

// checkPriceMovement implements §4.6 rule 3: a breach over check_interval
// raises a RiskAlert; two consecutive breaches escalate to EmergencyStop.
func (m *Manager) checkPriceMovement() {
	if !m.haveCurrentPrice {
		return
	}
	cur := m.currentPrice
	prev := m.lastCheckPrice
	havePrev := m.haveCheckPrice
	m.lastCheckPrice = cur
	m.haveCheckPrice = true

	if !havePrev || prev.IsZero() {
		return
	}

	change := cur.Sub(prev).Abs().Div(prev)
	if !change.GreaterThan(decimal.NewFromFloat(m.cfg.MaxPriceChange)) {
		m.consecutivePriceBreaches = 0
		return
	}

	m.consecutivePriceBreaches++
	pct, _ := change.Mul(decimal.NewFromInt(100)).Float64()

	if m.consecutivePriceBreaches >= 2 {
		m.raiseEmergencyStop(fmt.Sprintf("sustained price movement: %.3f%% over consecutive %s checks", pct, m.cfg.CheckInterval))
		return
	}
	m.raiseRiskAlert(fmt.Sprintf("price movement %.3f%% exceeds max_price_change", pct), types.RiskWarning)
}

func (m *Manager) raiseRiskAlert(reason string, severity types.RiskAlertSeverity) {
	m.logger.Warn("risk alert", "reason", reason, "severity", severity)
	metrics.RiskAlertsTotal.WithLabelValues(string(severity)).Inc()
	m.bus.PublishRiskAlert(types.RiskAlert{Reason: reason, Severity: severity, Timestamp: time.Now()})
}

func (m *Manager) raiseEmergencyStop(reason string) {
	if m.emergencyActive {
		return
	}
	m.emergencyActive = true
	m.logger.Error("emergency stop", "reason", reason)
	metrics.EmergencyStopsTotal.Inc()
	m.bus.PublishEmergencyStop(types.EmergencyStop{Reason: reason, Timestamp: time.Now()})
}
