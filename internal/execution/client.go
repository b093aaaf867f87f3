package execution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"spotmm/pkg/types"
)

// Client is the exchange adapter contract the execution engine dispatches
// against. Implementations own HMAC signing, retries below the engine's own
// retry loop (if any), and rate-limit response translation into a
// ClassifiedError so the engine can decide whether to retry.
//
// This mirrors the shape of a generic OrderExecutor: submit, cancel, modify.
type Client interface {
	// PlaceOrder submits a new resting order and returns the exchange's
	// assigned order id on success.
	PlaceOrder(ctx context.Context, symbol string, side types.Side, price, qty decimal.Decimal) (orderID string, err error)

	// AmendOrder changes the price and/or quantity of a live order.
	AmendOrder(ctx context.Context, orderID string, newPrice, newQty decimal.Decimal) error

	// CancelOrder cancels a live order.
	CancelOrder(ctx context.Context, orderID string) error
}

// ClassifiedError tags an exchange-adapter error with the failure class the
// execution engine needs to decide whether a retry is worthwhile. Adapters
// that don't wrap their errors this way are treated as permanent failures —
// a conservative default, since retrying a misclassified permanent failure
// wastes a rate-limit budget.
type ClassifiedError struct {
	Class types.FailureClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

func classify(err error) types.FailureClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return types.FailurePermanent
}
