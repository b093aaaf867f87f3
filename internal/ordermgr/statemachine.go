package ordermgr

import "spotmm/pkg/types"

// eventKind discriminates the inputs the state machine reacts to. It is
// deliberately narrower than the bus event types — it names only the
// state-machine-relevant occurrence, not the full event payload.
type eventKind int

const (
	eventPlaceAccepted eventKind = iota
	eventOrderAck
	eventOrderReject
	eventAmendAccepted
	eventCancelAccepted
	eventFillPartial
	eventFillComplete
	eventAmendAck
	eventAmendReject
	eventCancelAck
	eventCancelReject
	eventForceCancel
)

type transitionKey struct {
	from  types.OrderStatus
	event eventKind
}

// transitions is the order lifecycle machine expressed as data — a table
// keyed by (status, event_kind) — rather than scattered conditionals, so
// every edge is independently testable.
var transitions = map[transitionKey]types.OrderStatus{
	{types.StatusPendingNew, eventOrderAck}:    types.StatusActive,
	{types.StatusPendingNew, eventOrderReject}: types.StatusRejected,

	{types.StatusActive, eventAmendAccepted}:  types.StatusPendingAmend,
	{types.StatusActive, eventCancelAccepted}: types.StatusPendingCancel,
	{types.StatusActive, eventFillPartial}:    types.StatusActive,
	{types.StatusActive, eventFillComplete}:   types.StatusFilled,

	// An amend can also be rejected before it ever left Active, when the
	// dispatcher refuses to admit it (global pending-modification cap
	// reached). This self-loop has no state to resolve — it exists so the
	// rejection still reaches the strategy engine as an OrderStateChanged,
	// the same nudge a real PendingAmend rejection gives it.
	{types.StatusActive, eventAmendReject}: types.StatusActive,

	{types.StatusPendingAmend, eventAmendAck}:     types.StatusActive,
	{types.StatusPendingAmend, eventAmendReject}:  types.StatusActive,
	{types.StatusPendingAmend, eventFillPartial}:  types.StatusPendingAmend,
	{types.StatusPendingAmend, eventFillComplete}: types.StatusFilled,

	{types.StatusPendingCancel, eventCancelAck}:     types.StatusCancelled,
	{types.StatusPendingCancel, eventCancelReject}:  types.StatusActive,
	{types.StatusPendingCancel, eventFillPartial}:   types.StatusPendingCancel,
	{types.StatusPendingCancel, eventFillComplete}:  types.StatusFilled,

	// modification_timeout escalation: Active, PendingAmend and
	// PendingCancel may be force-cancelled when an amend/cancel goes stale;
	// PendingNew has no force-cancel edge.
	{types.StatusActive, eventForceCancel}:        types.StatusPendingCancel,
	{types.StatusPendingAmend, eventForceCancel}:  types.StatusPendingCancel,
	{types.StatusPendingCancel, eventForceCancel}: types.StatusPendingCancel,
}

// next looks up the transition edge for (from, event). ok is false if the
// edge does not exist in the table, which callers treat as an invariant
// violation (logged, order quarantined) rather than a panic.
func next(from types.OrderStatus, event eventKind) (types.OrderStatus, bool) {
	to, ok := transitions[transitionKey{from, event}]
	return to, ok
}
