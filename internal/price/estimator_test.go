package price

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotmm/internal/config"
	"spotmm/pkg/types"
)

func testConfig(method string) config.PriceConfig {
	return config.PriceConfig{
		Method:           method,
		WindowSize:       5,
		SmoothingFactor:  0.5,
		ChangeThreshold:  0.001,
		AnomalyThreshold: 0.2,
	}
}

func sampleAt(price float64, qty float64, t time.Time) types.PriceSample {
	return types.PriceSample{Price: decimal.NewFromFloat(price), Quantity: decimal.NewFromFloat(qty), Timestamp: t}
}

func TestNoEmissionBeforeTwoSamples(t *testing.T) {
	t.Parallel()
	e := New(testConfig("twap"), nil)

	_, ok := e.Observe(sampleAt(100, 1, time.Now()))
	if ok {
		t.Error("expected no emission on first sample")
	}
}

func TestTWAPEmitsMeanOfWindow(t *testing.T) {
	t.Parallel()
	e := New(testConfig("twap"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	pu, ok := e.Observe(sampleAt(102, 1, now.Add(time.Second)))
	if !ok {
		t.Fatal("expected emission on second sample")
	}
	want := decimal.NewFromFloat(101)
	if !pu.Value.Equal(want) {
		t.Errorf("TWAP = %v, want %v", pu.Value, want)
	}
}

func TestVWAPWeightsByQuantity(t *testing.T) {
	t.Parallel()
	e := New(testConfig("vwap"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	pu, ok := e.Observe(sampleAt(110, 3, now.Add(time.Second)))
	if !ok {
		t.Fatal("expected emission")
	}
	// (100*1 + 110*3) / 4 = 107.5
	want := decimal.NewFromFloat(107.5)
	if !pu.Value.Equal(want) {
		t.Errorf("VWAP = %v, want %v", pu.Value, want)
	}
}

func TestEMAEmitsOnEverySample(t *testing.T) {
	t.Parallel()
	e := New(testConfig("ema"), nil)
	now := time.Now()

	if _, ok := e.Observe(sampleAt(100, 1, now)); ok {
		t.Fatal("EMA should not emit before the window holds two samples")
	}
	pu, ok := e.Observe(sampleAt(100.0001, 1, now.Add(time.Millisecond)))
	if !ok {
		t.Fatal("EMA should emit on every accepted sample, even a tiny move")
	}
	if pu.Method != types.MethodEMA {
		t.Errorf("Method = %v, want EMA", pu.Method)
	}
}

func TestOutlierRejected(t *testing.T) {
	t.Parallel()
	e := New(testConfig("twap"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	e.Observe(sampleAt(101, 1, now.Add(time.Second)))

	// 50% jump exceeds anomaly_threshold=0.2 relative to current TWAP (~100.5)
	_, ok := e.Observe(sampleAt(151, 1, now.Add(2*time.Second)))
	if ok {
		t.Error("expected outlier sample to be rejected")
	}
}

func TestOutOfOrderTimestampRejected(t *testing.T) {
	t.Parallel()
	e := New(testConfig("twap"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	e.Observe(sampleAt(101, 1, now.Add(time.Second)))

	_, ok := e.Observe(sampleAt(100.5, 1, now.Add(-time.Minute)))
	if ok {
		t.Error("expected out-of-order sample to be rejected")
	}
}

func TestChatterSuppressedBelowChangeThreshold(t *testing.T) {
	t.Parallel()
	e := New(testConfig("twap"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	e.Observe(sampleAt(100, 1, now.Add(time.Second)))

	// third sample barely moves the mean — below change_threshold=0.001
	_, ok := e.Observe(sampleAt(100.01, 1, now.Add(2*time.Second)))
	if ok {
		t.Error("expected emission to be suppressed by change_threshold")
	}
}

func TestHybridBlendsTWAPAndVWAP(t *testing.T) {
	t.Parallel()
	e := New(testConfig("hybrid"), nil)
	now := time.Now()

	e.Observe(sampleAt(100, 1, now))
	pu, ok := e.Observe(sampleAt(110, 3, now.Add(time.Second)))
	if !ok {
		t.Fatal("expected emission")
	}
	// TWAP = 105, VWAP = 107.5 -> 0.6*105 + 0.4*107.5 = 106.0
	want := decimal.NewFromFloat(106.0)
	if !pu.Value.Equal(want) {
		t.Errorf("Hybrid = %v, want %v", pu.Value, want)
	}
}
