package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want Sell", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want Buy", Sell.Opposite())
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{StatusPendingNew, false},
		{StatusActive, false},
		{StatusPendingAmend, false},
		{StatusPendingCancel, false},
		{StatusFilled, true},
		{StatusCancelled, true},
		{StatusRejected, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("OrderStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOrderCloneIsIndependent(t *testing.T) {
	t.Parallel()

	o := &Order{
		ClientOrderID: "c1",
		Price:         decimal.NewFromInt(100),
		OriginalQty:   decimal.NewFromInt(10),
		Status:        StatusPendingAmend,
		PendingModify: &PendingModification{
			TargetPrice:    decimal.NewFromInt(101),
			TargetQuantity: decimal.NewFromInt(10),
		},
	}

	cp := o.Clone()
	cp.PendingModify.TargetPrice = decimal.NewFromInt(999)

	if o.PendingModify.TargetPrice.Equal(decimal.NewFromInt(999)) {
		t.Error("mutating clone's PendingModify affected the original")
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	o := &Order{
		OriginalQty: decimal.NewFromInt(10),
		ExecutedQty: decimal.NewFromInt(4),
	}

	want := decimal.NewFromInt(6)
	if got := o.Remaining(); !got.Equal(want) {
		t.Errorf("Remaining() = %v, want %v", got, want)
	}
}

func TestDecisionConstructors(t *testing.T) {
	t.Parallel()

	p := NewPlaceDecision(Buy, decimal.NewFromInt(100), decimal.NewFromInt(1), "top-up")
	if p.Kind != DecisionPlace || p.Side != Buy {
		t.Errorf("NewPlaceDecision produced %+v", p)
	}

	a := NewAmendDecision("c1", decimal.NewFromInt(101), decimal.NewFromInt(2), "drift")
	if a.Kind != DecisionAmend || a.ClientOrderID != "c1" {
		t.Errorf("NewAmendDecision produced %+v", a)
	}

	c := NewCancelDecision("c1", "reset")
	if c.Kind != DecisionCancel || c.ClientOrderID != "c1" {
		t.Errorf("NewCancelDecision produced %+v", c)
	}
}

func TestDecisionKindString(t *testing.T) {
	t.Parallel()

	if DecisionPlace.String() != "Place" {
		t.Errorf("DecisionPlace.String() = %q", DecisionPlace.String())
	}
	if DecisionKind(99).String() != "Unknown" {
		t.Errorf("unknown kind should stringify to Unknown")
	}
}

func TestPriceUpdateCarriesMethod(t *testing.T) {
	t.Parallel()

	pu := PriceUpdate{
		Value:     decimal.NewFromFloat(30000.5),
		Timestamp: time.Now(),
		Method:    MethodHybrid,
	}
	if pu.Method != MethodHybrid {
		t.Errorf("PriceUpdate.Method = %v, want %v", pu.Method, MethodHybrid)
	}
}
