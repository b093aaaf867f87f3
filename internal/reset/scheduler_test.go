package reset

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"spotmm/internal/bus"
	"spotmm/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunEmitsResetTickOnInterval(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.Sizes{}, testLogger())
	s := New(config.OrderMgmtConfig{ResetInterval: 10 * time.Millisecond}, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case tick := <-b.ResetTick:
		if tick.Timestamp.IsZero() {
			t.Error("expected a non-zero tick timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ResetTick within one second")
	}
}

func TestRunDoesNothingWhenIntervalNotPositive(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.Sizes{}, testLogger())
	s := New(config.OrderMgmtConfig{ResetInterval: 0}, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately when reset_interval is not positive")
	}

	select {
	case tick := <-b.ResetTick:
		t.Fatalf("expected no tick, got %+v", tick)
	default:
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	b := bus.New(bus.Sizes{}, testLogger())
	s := New(config.OrderMgmtConfig{ResetInterval: time.Hour}, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return promptly after ctx is cancelled")
	}
}
