// Package ordermgr is the single source of truth for order lifecycle. It
// owns every types.Order, applies the state machine in statemachine.go,
// and hands out read-only snapshots to every other component.
package ordermgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/pkg/types"
)

const defaultHistoryCapacity = 1024

// secondaryKey indexes orders by (symbol, side, status) for O(k) range
// queries, in addition to the O(1) primary index by client_order_id.
type secondaryKey struct {
	symbol string
	side   types.Side
	status types.OrderStatus
}

// Manager is the order manager. All mutation of an Order happens inside
// its lock and runs to completion without suspending, so no intermediate
// state is ever observable by a reader (per the engine's non-suspending
// mutation-path guarantee).
type Manager struct {
	mu sync.RWMutex

	cfg    config.OrderMgmtConfig
	bus    *bus.Bus
	logger *slog.Logger

	primary   map[string]*types.Order      // client_order_id -> order
	secondary map[secondaryKey]map[string]bool // (symbol,side,status) -> set of client_order_ids

	pendingModifications int // global amends-in-flight, capped at cfg.MaxPendingModifications

	history     []*types.Order
	historyCap  int

	fillCh <-chan types.Fill
}

// New constructs an order manager. bus may be nil in tests that only
// exercise the mutation path directly.
func New(cfg config.OrderMgmtConfig, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:        cfg,
		bus:        b,
		logger:     logger.With("component", "order_manager"),
		primary:    make(map[string]*types.Order),
		secondary:  make(map[secondaryKey]map[string]bool),
		historyCap: defaultHistoryCapacity,
	}
	if b != nil {
		m.fillCh = b.SubscribeFill()
	}
	return m
}

func (m *Manager) indexLocked(o *types.Order) {
	k := secondaryKey{o.Symbol, o.Side, o.Status}
	set, ok := m.secondary[k]
	if !ok {
		set = make(map[string]bool)
		m.secondary[k] = set
	}
	set[o.ClientOrderID] = true
}

func (m *Manager) unindexLocked(o *types.Order, status types.OrderStatus) {
	k := secondaryKey{o.Symbol, o.Side, status}
	if set, ok := m.secondary[k]; ok {
		delete(set, o.ClientOrderID)
		if len(set) == 0 {
			delete(m.secondary, k)
		}
	}
}

// CreateOrder registers a new order in PendingNew, per the ownership rule
// that an Order is created once a Place decision is accepted into the
// exchange dispatcher.
func (m *Manager) CreateOrder(clientOrderID, symbol string, side types.Side, price, qty decimal.Decimal) *types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	o := &types.Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		OriginalQty:   qty,
		Status:        types.StatusPendingNew,
		CreateTime:    now,
		UpdateTime:    now,
		LastEventTime: now,
	}
	m.primary[clientOrderID] = o
	m.indexLocked(o)
	return o.Clone()
}

// Get returns a read-only snapshot of an order by client_order_id.
func (m *Manager) Get(clientOrderID string) (*types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.primary[clientOrderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// Query returns snapshots of every order matching (symbol, side, status).
func (m *Manager) Query(symbol string, side types.Side, status types.OrderStatus) []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.secondary[secondaryKey{symbol, side, status}]
	out := make([]*types.Order, 0, len(set))
	for id := range set {
		if o, ok := m.primary[id]; ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

// LiveOrders returns every non-terminal order on (symbol, side) — the view
// the strategy engine reconciles its desired slots against.
func (m *Manager) LiveOrders(symbol string, side types.Side) []*types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Order, 0)
	for _, status := range []types.OrderStatus{types.StatusPendingNew, types.StatusActive, types.StatusPendingAmend, types.StatusPendingCancel} {
		set := m.secondary[secondaryKey{symbol, side, status}]
		for id := range set {
			if o, ok := m.primary[id]; ok {
				out = append(out, o.Clone())
			}
		}
	}
	return out
}

// PendingModificationCount returns the current global amends-in-flight
// count, for property P4 and for the execution engine's admission check.
func (m *Manager) PendingModificationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingModifications
}

// transition applies a single state-machine edge under lock, reindexes the
// order, and returns the snapshot to publish as OrderStateChanged. It is
// the only place mutation of an existing order happens.
func (m *Manager) transition(clientOrderID string, event eventKind, mutate func(*types.Order)) (*types.Order, types.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.primary[clientOrderID]
	if !ok {
		return nil, "", fmt.Errorf("unknown client_order_id %q", clientOrderID)
	}

	to, ok := next(o.Status, event)
	if !ok {
		return nil, "", fmt.Errorf("illegal transition: status=%s event=%d", o.Status, event)
	}

	from := o.Status
	m.unindexLocked(o, from)

	if from == types.StatusPendingAmend {
		m.pendingModifications--
	}
	if to == types.StatusPendingAmend {
		m.pendingModifications++
	}

	if mutate != nil {
		mutate(o)
	}
	o.Status = to
	now := time.Now()
	o.UpdateTime = now
	o.LastEventTime = now

	m.indexLocked(o)

	if to.Terminal() {
		m.archiveLocked(o)
	}

	return o.Clone(), from, nil
}

// publishTransition emits OrderStateChanged for a completed transition.
func (m *Manager) publishTransition(o *types.Order, from types.OrderStatus) {
	if m.bus == nil || o == nil {
		return
	}
	m.bus.PublishOrderStateChanged(types.OrderStateChanged{
		ClientOrderID: o.ClientOrderID,
		OrderID:       o.OrderID,
		From:          from,
		To:            o.Status,
		Order:         o,
		Timestamp:     o.UpdateTime,
	})
}

// HandleOrderAck advances PendingNew -> Active.
func (m *Manager) HandleOrderAck(ack types.OrderAck) error {
	o, from, err := m.transition(ack.ClientOrderID, eventOrderAck, func(o *types.Order) {
		o.OrderID = ack.OrderID
	})
	if err != nil {
		m.logger.Error("invariant violation on OrderAck", "client_order_id", ack.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// HandleOrderReject advances PendingNew -> Rejected.
func (m *Manager) HandleOrderReject(rej types.OrderReject) error {
	o, from, err := m.transition(rej.ClientOrderID, eventOrderReject, nil)
	if err != nil {
		m.logger.Error("invariant violation on OrderReject", "client_order_id", rej.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// AcceptAmend is the order manager's concurrency guard: it admits an amend
// attempt only if the order is Active (no amend/cancel already
// outstanding) and the global pending-modification cap has room. On
// success the order moves to PendingAmend carrying the target tuple.
func (m *Manager) AcceptAmend(clientOrderID string, targetPrice, targetQty decimal.Decimal) (*types.Order, bool) {
	m.mu.Lock()
	o, ok := m.primary[clientOrderID]
	if !ok || o.Status != types.StatusActive {
		m.mu.Unlock()
		return nil, false
	}
	if m.pendingModifications >= m.cfg.MaxPendingModifications {
		m.mu.Unlock()
		return nil, false
	}
	m.mu.Unlock()

	out, from, err := m.transition(clientOrderID, eventAmendAccepted, func(o *types.Order) {
		o.PendingModify = &types.PendingModification{TargetPrice: targetPrice, TargetQuantity: targetQty}
	})
	if err != nil {
		return nil, false
	}
	m.publishTransition(out, from)
	return out, true
}

// AcceptCancel is the concurrency guard for cancels: admits only from
// Active, refusing a second outstanding cancel/amend on the same order.
func (m *Manager) AcceptCancel(clientOrderID string) (*types.Order, bool) {
	m.mu.RLock()
	o, ok := m.primary[clientOrderID]
	admissible := ok && o.Status == types.StatusActive
	m.mu.RUnlock()
	if !admissible {
		return nil, false
	}

	out, from, err := m.transition(clientOrderID, eventCancelAccepted, nil)
	if err != nil {
		return nil, false
	}
	m.publishTransition(out, from)
	return out, true
}

// HandleAmendAck resolves PendingAmend -> Active with the new price/qty
// applied and amend_count incremented (per the design note: any
// successful amend counts, whether it touched price, quantity, or both).
func (m *Manager) HandleAmendAck(ack types.AmendAck) error {
	o, from, err := m.transition(ack.ClientOrderID, eventAmendAck, func(o *types.Order) {
		o.Price = ack.NewPrice
		o.OriginalQty = ack.NewQuantity
		o.AmendCount++
		o.LastAmendTime = ack.Timestamp
		o.PendingModify = nil
	})
	if err != nil {
		m.logger.Error("invariant violation on AmendAck", "client_order_id", ack.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// HandleAmendReject resolves PendingAmend -> Active, discarding the
// pending tuple. If a partial fill landed while the amend was in flight,
// the fill stands — the reject is a no-op on executed_quantity.
func (m *Manager) HandleAmendReject(rej types.AmendReject) error {
	o, from, err := m.transition(rej.ClientOrderID, eventAmendReject, func(o *types.Order) {
		o.PendingModify = nil
	})
	if err != nil {
		m.logger.Error("invariant violation on AmendReject", "client_order_id", rej.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// HandleCancelAck resolves PendingCancel -> Cancelled.
func (m *Manager) HandleCancelAck(ack types.CancelAck) error {
	o, from, err := m.transition(ack.ClientOrderID, eventCancelAck, nil)
	if err != nil {
		m.logger.Error("invariant violation on CancelAck", "client_order_id", ack.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// HandleCancelReject resolves PendingCancel -> Active (e.g. already
// filled on the exchange before the cancel landed).
func (m *Manager) HandleCancelReject(rej types.CancelReject) error {
	o, from, err := m.transition(rej.ClientOrderID, eventCancelReject, nil)
	if err != nil {
		m.logger.Error("invariant violation on CancelReject", "client_order_id", rej.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// HandleFill applies an execution report. It is valid from Active or
// PendingAmend (amend is not atomic on the exchange; a fill can land in
// the window between submitting an amend and its ack) and from
// PendingCancel (a fill can race an in-flight cancel too).
func (m *Manager) HandleFill(f types.Fill) error {
	event := eventFillPartial
	if f.Complete {
		event = eventFillComplete
	}
	o, from, err := m.transition(f.ClientOrderID, event, func(o *types.Order) {
		o.ExecutedQty = o.ExecutedQty.Add(f.FillQuantity)
		if o.ExecutedQty.GreaterThan(o.OriginalQty) {
			o.ExecutedQty = o.OriginalQty
		}
	})
	if err != nil {
		m.logger.Error("invariant violation on Fill", "client_order_id", f.ClientOrderID, "error", err)
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// ForceCancel promotes a stale amend/cancel to a forced cancel path, used
// when modification_timeout elapses on an order still PendingAmend or
// PendingCancel.
func (m *Manager) ForceCancel(clientOrderID string) error {
	o, from, err := m.transition(clientOrderID, eventForceCancel, nil)
	if err != nil {
		return err
	}
	m.publishTransition(o, from)
	return nil
}

// archiveLocked moves a terminal order into the bounded history ring.
// Caller must hold m.mu. Per the ownership rule the order is only
// destroyed (removed from the primary index) by the cleanup sweep, not
// immediately on reaching terminal status, so downstream consumers have
// at least one event cycle to observe it.
func (m *Manager) archiveLocked(o *types.Order) {
	m.history = append(m.history, o)
	if len(m.history) > m.historyCap {
		m.history = m.history[len(m.history)-m.historyCap:]
	}
}

// Sweep removes terminal orders older than olderThan from the primary and
// secondary indices, freeing their slots. Run periodically by the engine
// at cfg.CleanupInterval.
func (m *Manager) Sweep(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, o := range m.primary {
		if o.Status.Terminal() && o.UpdateTime.Before(cutoff) {
			m.unindexLocked(o, o.Status)
			delete(m.primary, id)
			removed++
		}
	}
	return removed
}

// ConsumeAcks drains the execution engine's response channels and applies
// them to the relevant order, until ctx is cancelled. This is the only path
// by which the order manager learns of exchange-side outcomes — it has no
// direct reference to the execution engine.
func (m *Manager) ConsumeAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-m.bus.OrderAck:
			_ = m.HandleOrderAck(a)
		case r := <-m.bus.OrderReject:
			_ = m.HandleOrderReject(r)
		case a := <-m.bus.AmendAck:
			_ = m.HandleAmendAck(a)
		case r := <-m.bus.AmendReject:
			_ = m.HandleAmendReject(r)
		case a := <-m.bus.CancelAck:
			_ = m.HandleCancelAck(a)
		case r := <-m.bus.CancelReject:
			_ = m.HandleCancelReject(r)
		case f := <-m.fillCh:
			_ = m.HandleFill(f)
		}
	}
}

// Run drives the periodic cleanup sweep and the modification_timeout
// watcher until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(m.cfg.CleanupInterval)
	defer sweepTicker.Stop()

	var staleCh <-chan time.Time
	if m.cfg.ModificationTimeout > 0 {
		interval := m.cfg.ModificationTimeout / 4
		if interval <= 0 {
			interval = m.cfg.ModificationTimeout
		}
		staleTicker := time.NewTicker(interval)
		defer staleTicker.Stop()
		staleCh = staleTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			if n := m.Sweep(m.cfg.CleanupInterval); n > 0 {
				m.logger.Debug("swept terminal orders into history", "count", n)
			}
		case <-staleCh:
			m.forceCancelStale()
		}
	}
}

// forceCancelStale promotes any order still PendingAmend or PendingCancel
// past cfg.ModificationTimeout to a forced cancel. It re-publishes a Cancel
// decision onto the approved-decision pipeline so the exchange call is
// actually retried, rather than only flipping the state-machine bookkeeping.
func (m *Manager) forceCancelStale() {
	cutoff := time.Now().Add(-m.cfg.ModificationTimeout)
	m.mu.RLock()
	var stale []string
	for id, o := range m.primary {
		if (o.Status == types.StatusPendingAmend || o.Status == types.StatusPendingCancel) && o.LastEventTime.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.ForceCancel(id); err != nil {
			m.logger.Error("force-cancel of stale modification failed", "client_order_id", id, "error", err)
			continue
		}
		m.logger.Warn("modification_timeout exceeded, forcing cancel", "client_order_id", id)
		if m.bus != nil {
			m.bus.PublishApprovedDecision(types.NewCancelDecision(id, "modification_timeout"))
		}
	}
}
