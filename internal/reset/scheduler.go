// Package reset implements the periodic reset scheduler: a fixed-interval
// ticker that emits ResetTick onto the bus. The scheduler itself never
// touches an order — it is the strategy engine's job to react to a
// ResetTick by cancelling and re-quoting.
package reset

import (
	"context"
	"log/slog"
	"time"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/pkg/types"
)

// Scheduler drives the reset cadence.
type Scheduler struct {
	interval time.Duration
	bus      *bus.Bus
	logger   *slog.Logger
}

// New builds a reset scheduler from the order-management config's
// reset_interval.
func New(cfg config.OrderMgmtConfig, b *bus.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: cfg.ResetInterval,
		bus:      b,
		logger:   logger.With("component", "reset"),
	}
}

// Run ticks on the configured interval until ctx is cancelled, publishing a
// ResetTick on every fire. Run does no buffering or coalescing of its own;
// PublishResetTick drops a tick only when the ResetTick buffer is full, and
// does not skip a tick because an earlier tick's cancellations are still
// in flight.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Error("reset_interval is not positive, scheduler disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.logger.Debug("reset tick")
			s.bus.PublishResetTick(types.ResetTick{Timestamp: t})
		}
	}
}
