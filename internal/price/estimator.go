// Package price implements the reference-price estimator: it consumes
// trade prints and book mid quotes and emits a filtered, outlier-resistant
// PriceUpdate whenever the smoothed value has moved enough to matter.
//
// The estimator owns a bounded ring of recent samples and is the sole
// writer of that ring; the strategy engine only ever reads its published
// PriceUpdate events, per the copy-on-read convention used throughout the
// engine.
package price

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"spotmm/internal/config"
	"spotmm/internal/metrics"
	"spotmm/pkg/types"
)

var (
	half      = decimal.NewFromFloat(0.5)
	twapWeight = decimal.NewFromFloat(0.6)
	vwapWeight = decimal.NewFromFloat(0.4)
)

// Estimator computes a smoothed reference price from a sliding window of
// samples using the configured method (TWAP, VWAP, EMA or Hybrid).
type Estimator struct {
	mu sync.Mutex

	method           types.PriceMethod
	windowSize       int
	smoothingFactor  decimal.Decimal
	changeThreshold  decimal.Decimal
	anomalyThreshold decimal.Decimal

	samples   []types.PriceSample
	lastTS    int64 // unix nano of the most recent accepted sample
	ema       decimal.Decimal
	haveEMA   bool
	lastEmit  decimal.Decimal
	haveEmit  bool

	logger *slog.Logger
}

// New builds an Estimator from the price section of the engine config.
func New(cfg config.PriceConfig, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	windowSize := cfg.WindowSize
	if windowSize < 2 {
		windowSize = 2
	}
	return &Estimator{
		method:           types.PriceMethod(cfg.Method),
		windowSize:       windowSize,
		smoothingFactor:  decimal.NewFromFloat(cfg.SmoothingFactor),
		changeThreshold:  decimal.NewFromFloat(cfg.ChangeThreshold),
		anomalyThreshold: decimal.NewFromFloat(cfg.AnomalyThreshold),
		logger:           logger.With("component", "price_estimator"),
	}
}

// Observe feeds one sample (from a trade or a book mid) into the
// estimator and returns the PriceUpdate to publish, if the smoothing and
// chatter-suppression rules allow an emission on this sample.
func (e *Estimator) Observe(sample types.PriceSample) (types.PriceUpdate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := sample.Timestamp.UnixNano()
	if e.lastTS != 0 && ts < e.lastTS {
		e.logger.Warn("dropping out-of-order sample", "ts", sample.Timestamp)
		return types.PriceUpdate{}, false
	}

	if current, ok := e.currentEstimateLocked(); ok {
		deviation := sample.Price.Sub(current).Abs().Div(current)
		if deviation.GreaterThan(e.anomalyThreshold) {
			e.logger.Warn("dropping outlier sample", "price", sample.Price, "current", current, "deviation", deviation)
			metrics.PriceAnomalyRejectionsTotal.Inc()
			return types.PriceUpdate{}, false
		}
	}

	e.lastTS = ts
	e.samples = append(e.samples, sample)
	if len(e.samples) > e.windowSize {
		e.samples = e.samples[len(e.samples)-e.windowSize:]
	}

	if e.method == types.MethodEMA {
		if !e.haveEMA {
			e.ema = sample.Price
			e.haveEMA = true
		} else {
			e.ema = e.smoothingFactor.Mul(sample.Price).Add(decimal.NewFromInt(1).Sub(e.smoothingFactor).Mul(e.ema))
		}
	}

	if len(e.samples) < 2 {
		return types.PriceUpdate{}, false
	}

	value, ok := e.currentEstimateLocked()
	if !ok {
		return types.PriceUpdate{}, false
	}

	// EMA emits on every accepted sample once warmed up (matches P5's
	// carve-out); other methods suppress chatter below change_threshold.
	if e.method != types.MethodEMA && e.haveEmit {
		moved := value.Sub(e.lastEmit).Abs().Div(e.lastEmit)
		if moved.LessThan(e.changeThreshold) {
			return types.PriceUpdate{}, false
		}
	}

	e.lastEmit = value
	e.haveEmit = true

	return types.PriceUpdate{
		Value:     value,
		Timestamp: sample.Timestamp,
		Method:    e.method,
	}, true
}

// currentEstimateLocked computes the estimate under the configured method
// from the samples currently in the window. Caller must hold e.mu.
func (e *Estimator) currentEstimateLocked() (decimal.Decimal, bool) {
	switch e.method {
	case types.MethodEMA:
		if !e.haveEMA {
			return decimal.Zero, false
		}
		return e.ema, true
	case types.MethodVWAP:
		return vwap(e.samples)
	case types.MethodHybrid:
		t, ok := twap(e.samples)
		if !ok {
			return decimal.Zero, false
		}
		v, ok := vwap(e.samples)
		if !ok {
			return t, true
		}
		return twapWeight.Mul(t).Add(vwapWeight.Mul(v)), true
	default: // TWAP
		return twap(e.samples)
	}
}

func twap(samples []types.PriceSample) (decimal.Decimal, bool) {
	if len(samples) == 0 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s.Price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples)))), true
}

func vwap(samples []types.PriceSample) (decimal.Decimal, bool) {
	sumPQ := decimal.Zero
	sumQ := decimal.Zero
	for _, s := range samples {
		if s.Quantity.IsZero() {
			continue
		}
		sumPQ = sumPQ.Add(s.Price.Mul(s.Quantity))
		sumQ = sumQ.Add(s.Quantity)
	}
	if sumQ.IsZero() {
		return twap(samples)
	}
	return sumPQ.Div(sumQ), true
}

// SampleFromTrade converts a MarketTrade into an estimator sample.
func SampleFromTrade(t types.MarketTrade) types.PriceSample {
	return types.PriceSample{Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp}
}

// SampleFromBook converts a BookUpdate's mid quote into an estimator sample.
func SampleFromBook(b types.BookUpdate) types.PriceSample {
	mid := b.BestBid.Add(b.BestAsk).Mul(half)
	return types.PriceSample{Price: mid, Quantity: decimal.Zero, Timestamp: b.Timestamp}
}
