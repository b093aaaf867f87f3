// Package types defines the shared data vocabulary for the market-making
// engine — orders, decisions, price samples, and the event payloads carried
// on the bus. It has no dependency on any internal package so it can be
// imported from every layer without creating cycles.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is a state in the order lifecycle machine.
type OrderStatus string

const (
	StatusPendingNew    OrderStatus = "PendingNew"
	StatusActive        OrderStatus = "Active"
	StatusPendingAmend  OrderStatus = "PendingAmend"
	StatusPendingCancel OrderStatus = "PendingCancel"
	StatusFilled        OrderStatus = "Filled"
	StatusCancelled     OrderStatus = "Cancelled"
	StatusRejected      OrderStatus = "Rejected"
)

// Terminal reports whether the status is a lifecycle end state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// ————————————————————————————————————————————————————————————————————————
// Order
// ————————————————————————————————————————————————————————————————————————

// PendingModification is the (target_price, target_quantity) tuple an order
// carries while it sits in PendingAmend, awaiting resolution.
type PendingModification struct {
	TargetPrice    decimal.Decimal
	TargetQuantity decimal.Decimal
}

// Order is the engine's authoritative record of a resting or in-flight
// order. Only the order manager mutates an Order; every other component
// holds a read-only copy obtained via a snapshot.
type Order struct {
	OrderID         string // exchange-assigned; empty until acked
	ClientOrderID   string // locally-unique, stable across amendments
	Symbol          string
	Side            Side
	Price           decimal.Decimal
	OriginalQty     decimal.Decimal
	ExecutedQty     decimal.Decimal
	Status          OrderStatus
	CreateTime      time.Time
	UpdateTime      time.Time
	LastEventTime   time.Time
	LastAmendTime   time.Time
	AmendCount      int
	PendingModify   *PendingModification
}

// Clone returns a deep copy safe to hand to readers outside the order
// manager's lock.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.PendingModify != nil {
		pm := *o.PendingModify
		cp.PendingModify = &pm
	}
	return &cp
}

// Remaining returns the quantity still unexecuted.
func (o *Order) Remaining() decimal.Decimal {
	return o.OriginalQty.Sub(o.ExecutedQty)
}

// ————————————————————————————————————————————————————————————————————————
// Decision — tagged variant (Place | Amend | Cancel)
// ————————————————————————————————————————————————————————————————————————

// DecisionKind discriminates the Decision sum type.
type DecisionKind int

const (
	DecisionPlace DecisionKind = iota
	DecisionAmend
	DecisionCancel
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionPlace:
		return "Place"
	case DecisionAmend:
		return "Amend"
	case DecisionCancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// Decision is the strategy engine's sole output vocabulary. It is a tagged
// variant dispatched on Kind, not a family of subtypes — only the fields
// relevant to Kind are populated.
type Decision struct {
	Kind DecisionKind

	// Place
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal

	// Amend / Cancel
	ClientOrderID string
	NewPrice      decimal.Decimal
	NewQuantity   decimal.Decimal

	// provenance, useful for metrics/debugging — not semantically required
	Reason string
}

// NewPlaceDecision builds a Place decision.
func NewPlaceDecision(side Side, price, qty decimal.Decimal, reason string) Decision {
	return Decision{Kind: DecisionPlace, Side: side, Price: price, Quantity: qty, Reason: reason}
}

// NewAmendDecision builds an Amend decision.
func NewAmendDecision(clientOrderID string, newPrice, newQty decimal.Decimal, reason string) Decision {
	return Decision{Kind: DecisionAmend, ClientOrderID: clientOrderID, NewPrice: newPrice, NewQuantity: newQty, Reason: reason}
}

// NewCancelDecision builds a Cancel decision.
func NewCancelDecision(clientOrderID string, reason string) Decision {
	return Decision{Kind: DecisionCancel, ClientOrderID: clientOrderID, Reason: reason}
}

// ————————————————————————————————————————————————————————————————————————
// Reference price
// ————————————————————————————————————————————————————————————————————————

// PriceMethod selects the reference-price estimation algorithm.
type PriceMethod string

const (
	MethodTWAP   PriceMethod = "twap"
	MethodVWAP   PriceMethod = "vwap"
	MethodEMA    PriceMethod = "ema"
	MethodHybrid PriceMethod = "hybrid"
)

// PriceSample is one observation fed into the estimator, derived from a
// trade print or a book mid quote.
type PriceSample struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal // zero for book-derived mids
	Timestamp time.Time
}

// PriceUpdate is the estimator's filtered output.
type PriceUpdate struct {
	Value     decimal.Decimal
	Timestamp time.Time
	Method    PriceMethod
}

// ————————————————————————————————————————————————————————————————————————
// Market data events
// ————————————————————————————————————————————————————————————————————————

// MarketTrade is a single executed trade print from the exchange feed.
type MarketTrade struct {
	Symbol    string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      Side // taker side
	Timestamp time.Time
}

// BookUpdate carries the current best bid/ask.
type BookUpdate struct {
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	Timestamp time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Execution responses
// ————————————————————————————————————————————————————————————————————————

// FailureClass distinguishes retryable from permanent exchange failures.
type FailureClass int

const (
	FailureTransient FailureClass = iota
	FailurePermanent
	FailureRateLimited
)

// OrderAck confirms a Place was accepted by the exchange.
type OrderAck struct {
	ClientOrderID string
	OrderID       string
	Timestamp     time.Time
}

// OrderReject reports a Place was refused.
type OrderReject struct {
	ClientOrderID string
	Reason        string
	Class         FailureClass
	Timestamp     time.Time
}

// AmendAck confirms an Amend was applied.
type AmendAck struct {
	ClientOrderID string
	NewPrice      decimal.Decimal
	NewQuantity   decimal.Decimal
	Timestamp     time.Time
}

// AmendReject reports an Amend was refused; the order's prior state stands.
type AmendReject struct {
	ClientOrderID string
	Reason        string
	Class         FailureClass
	Timestamp     time.Time
}

// CancelAck confirms a Cancel completed.
type CancelAck struct {
	ClientOrderID string
	Timestamp     time.Time
}

// CancelReject reports a Cancel was refused (e.g. already filled).
type CancelReject struct {
	ClientOrderID string
	Reason        string
	Class         FailureClass
	Timestamp     time.Time
}

// Fill reports an exchange-reported execution against a resting order.
type Fill struct {
	ClientOrderID string
	FillQuantity  decimal.Decimal
	FillPrice     decimal.Decimal
	Complete      bool // true if this fill exhausts the remaining quantity
	Timestamp     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order-manager / control events
// ————————————————————————————————————————————————————————————————————————

// OrderStateChanged is published by the order manager after every
// successful state-machine transition.
type OrderStateChanged struct {
	ClientOrderID string
	OrderID       string
	From          OrderStatus
	To            OrderStatus
	Order         *Order // point-in-time snapshot, safe to read
	Timestamp     time.Time
}

// ResetTick is emitted by the reset scheduler on a fixed cadence.
type ResetTick struct {
	Timestamp time.Time
}

// RiskAlertSeverity grades a RiskAlert.
type RiskAlertSeverity string

const (
	RiskWarning   RiskAlertSeverity = "warning"
	RiskSustained RiskAlertSeverity = "sustained"
)

// RiskAlert is raised by the risk gate on a threshold breach that has not
// yet escalated to EmergencyStop.
type RiskAlert struct {
	Reason    string
	Severity  RiskAlertSeverity
	Timestamp time.Time
}

// EmergencyStop halts all non-cancel trading activity.
type EmergencyStop struct {
	Reason    string
	Timestamp time.Time
}

// BusOverflow is published when a bounded, droppable bus channel discards
// an event because its buffer was exhausted.
type BusOverflow struct {
	Channel   string
	Dropped   int
	Timestamp time.Time
}
