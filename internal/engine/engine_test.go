package engine

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"spotmm/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	return config.Config{
		DryRun: true,
		Strategy: config.StrategyConfig{
			Symbol:              "BTC-USDT",
			TickSize:            0.01,
			MinSpread:           0.001,
			MaxSpread:           0.003,
			MinOrderValue:       10,
			TargetOrdersPerSide: 1,
			DriftThreshold:      0.01,
			RebalanceInterval:   time.Minute,
			ModifyThreshold:     0.0005,
			MaxModifyDeviation:  0.002,
		},
		OrderMgmt: config.OrderMgmtConfig{
			ResetInterval:           time.Hour,
			MaxPendingModifications: 10,
			ModificationTimeout:     time.Minute,
			CleanupInterval:         time.Minute,
		},
		Price: config.PriceConfig{
			Method:           "twap",
			WindowSize:       5,
			SmoothingFactor:  0.3,
			ChangeThreshold:  0.0005,
			AnomalyThreshold: 0.2,
		},
		Execution: config.ExecutionConfig{
			WorkerCount:       1,
			BatchSize:         8,
			RateLimit:         10,
			MaxRetries:        1,
			RetryDelay:        10 * time.Millisecond,
			ModifyWorkerCount: 1,
			ModifyRateLimit:   10,
		},
		Risk: config.RiskConfig{
			MaxPosition:    100,
			MaxOrderCount:  10,
			MaxDailyLoss:   1000,
			MaxPriceChange: 0.5,
			CheckInterval:  time.Minute,
		},
		API: config.APIConfig{
			BaseURL: "http://127.0.0.1:0",
			WSURL:   "ws://127.0.0.1:0",
		},
	}
}

// TestNewWiresEveryComponent exercises the happy path of New: it must not
// panic and every field it constructs must be non-nil.
func TestNewWiresEveryComponent(t *testing.T) {
	e := New(testConfig(), testLogger())
	if e.bus == nil || e.om == nil || e.priceEst == nil || e.strategy == nil ||
		e.execution == nil || e.riskMgr == nil || e.reset == nil ||
		e.client == nil || e.marketFeed == nil || e.userFeed == nil {
		t.Fatal("New left a component nil")
	}
}

// TestStartStopIsClean starts every goroutine against an unreachable
// exchange (dry-run, loopback URLs that refuse connections) and verifies
// Stop returns promptly rather than hanging on a goroutine that never
// observes ctx cancellation.
func TestStartStopIsClean(t *testing.T) {
	e := New(testConfig(), testLogger())
	e.Start()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return in time, a goroutine is likely leaked")
	}
}
