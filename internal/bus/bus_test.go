package bus

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotmm/pkg/types"
)

func TestPublishDecisionDelivers(t *testing.T) {
	t.Parallel()
	b := New(Sizes{}, nil)

	d := types.NewPlaceDecision(types.Buy, decimal.NewFromInt(100), decimal.NewFromInt(1), "test")
	b.PublishDecision(d)

	select {
	case got := <-b.Decision:
		if got.Kind != types.DecisionPlace {
			t.Errorf("got kind %v, want Place", got.Kind)
		}
	default:
		t.Fatal("expected decision on channel")
	}
}

func TestPublishDecisionDropsOnFullBuffer(t *testing.T) {
	t.Parallel()
	b := New(Sizes{Decision: 1}, nil)

	b.PublishDecision(types.NewCancelDecision("c1", "fill"))
	b.PublishDecision(types.NewCancelDecision("c2", "fill")) // buffer full, should drop

	counts := b.DroppedCounts()
	if counts["decision"] != 1 {
		t.Errorf("dropped[decision] = %d, want 1", counts["decision"])
	}

	select {
	case overflow := <-b.Overflow:
		if overflow.Channel != "decision" {
			t.Errorf("overflow.Channel = %q, want decision", overflow.Channel)
		}
	default:
		t.Error("expected a BusOverflow event")
	}
}

func TestPublishMarketTradeBlocksUntilConsumedOrCancelled(t *testing.T) {
	t.Parallel()
	b := New(Sizes{MarketData: 1}, nil)

	b.MarketTrade <- types.MarketTrade{Symbol: "x"} // fill the single slot

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	b.PublishMarketTrade(ctx, types.MarketTrade{Symbol: "y"})
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("PublishMarketTrade returned early (%v), want it to block until ctx timeout", elapsed)
	}
}

func TestPublishMarketTradeNeverDropsSilently(t *testing.T) {
	t.Parallel()
	b := New(Sizes{MarketData: 1}, nil)
	ctx := context.Background()

	b.PublishMarketTrade(ctx, types.MarketTrade{Symbol: "a"})

	drained := <-b.MarketTrade
	if drained.Symbol != "a" {
		t.Fatalf("got %q, want a", drained.Symbol)
	}

	// second publish now has room and must not be reported as dropped
	b.PublishMarketTrade(ctx, types.MarketTrade{Symbol: "b"})
	if counts := b.DroppedCounts(); counts["market_trade"] != 0 {
		t.Errorf("market trade channel should never record drops, got %v", counts)
	}
}

func TestPublishOrderStateChangedFansOutToEverySubscriber(t *testing.T) {
	t.Parallel()
	b := New(Sizes{}, nil)

	sub1 := b.SubscribeOrderStateChanged()
	sub2 := b.SubscribeOrderStateChanged()

	b.PublishOrderStateChanged(types.OrderStateChanged{ClientOrderID: "c1"})

	select {
	case got := <-sub1:
		if got.ClientOrderID != "c1" {
			t.Errorf("sub1 got %q, want c1", got.ClientOrderID)
		}
	default:
		t.Fatal("expected sub1 to receive the event")
	}
	select {
	case got := <-sub2:
		if got.ClientOrderID != "c1" {
			t.Errorf("sub2 got %q, want c1", got.ClientOrderID)
		}
	default:
		t.Fatal("expected sub2 to receive the event independently of sub1")
	}
}

func TestPublishFillDropsOnlyTheFullSubscriberBuffer(t *testing.T) {
	t.Parallel()
	b := New(Sizes{Ack: 1}, nil)

	full := b.SubscribeFill()
	b.PublishFill(types.Fill{ClientOrderID: "pre-fill"}) // fills "full"'s single slot
	fresh := b.SubscribeFill()

	b.PublishFill(types.Fill{ClientOrderID: "c1"})

	select {
	case got := <-fresh:
		if got.ClientOrderID != "c1" {
			t.Errorf("fresh subscriber got %q, want c1", got.ClientOrderID)
		}
	default:
		t.Fatal("expected the non-full subscriber to receive the event")
	}

	if counts := b.DroppedCounts(); counts["fill"] != 1 {
		t.Errorf("dropped[fill] = %d, want 1 (only the full subscriber)", counts["fill"])
	}
	<-full // drain so the earlier assertion's slot isn't mistaken for a leak
}
