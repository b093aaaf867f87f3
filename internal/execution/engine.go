package execution

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/internal/metrics"
	"spotmm/internal/ordermgr"
	"spotmm/pkg/types"
)

// Engine drains ApprovedDecision events through two independent worker
// pools — transactional (Place, Cancel) and amend — each behind its own
// rate limiter, so a burst of amends can never starve a pending cancel or
// vice versa. Responses are reconciled back into the order manager by
// publishing the corresponding ack/reject event, never by calling it
// directly: the order manager is the only thing that may mutate an Order.
type Engine struct {
	cfg    config.ExecutionConfig
	symbol string
	client Client
	om     *ordermgr.Manager
	bus    *bus.Bus
	logger *slog.Logger

	txBucket    *TokenBucket
	amendBucket *TokenBucket

	emergencyCh <-chan types.EmergencyStop
	stopped     atomic.Bool
}

// New builds an execution engine for a single symbol.
func New(cfg config.ExecutionConfig, symbol string, client Client, om *ordermgr.Manager, b *bus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		symbol:      symbol,
		client:      client,
		om:          om,
		bus:         b,
		logger:      logger.With("component", "execution"),
		txBucket:    NewTokenBucket(cfg.RateLimit, cfg.RateLimit),
		amendBucket: NewTokenBucket(cfg.ModifyRateLimit, cfg.ModifyRateLimit),
		emergencyCh: b.SubscribeEmergencyStop(),
	}
}

// Run starts the dispatcher and both worker pools, blocking until ctx is
// cancelled and every worker has drained.
func (e *Engine) Run(ctx context.Context) {
	txCh := make(chan types.Decision, e.cfg.BatchSize)
	amendCh := make(chan types.Decision, e.cfg.BatchSize)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.dispatch(ctx, txCh, amendCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.watchEmergencyStop(ctx)
	}()

	for i := 0; i < e.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runTransactionalWorker(ctx, txCh)
		}()
	}

	for i := 0; i < e.cfg.ModifyWorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runAmendWorker(ctx, amendCh)
		}()
	}

	wg.Wait()
}

// watchEmergencyStop latches stopped once an EmergencyStop is observed.
// Once set it never clears within this Engine's lifetime — recovering from
// an emergency stop means restarting the engine, not resuming it silently.
func (e *Engine) watchEmergencyStop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case stop := <-e.emergencyCh:
			e.logger.Error("emergency stop received, halting new places/amends", "reason", stop.Reason)
			e.stopped.Store(true)
		}
	}
}

// dispatch routes each ApprovedDecision to the pool matching its kind, so
// the two pools never contend on the same queue.
func (e *Engine) dispatch(ctx context.Context, txCh, amendCh chan<- types.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-e.bus.ApprovedDecision:
			target := txCh
			if d.Kind == types.DecisionAmend {
				target = amendCh
			}
			select {
			case target <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) runTransactionalWorker(ctx context.Context, ch <-chan types.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-ch:
			switch d.Kind {
			case types.DecisionPlace:
				if e.stopped.Load() {
					e.logger.Warn("dropping place, emergency stop active", "side", d.Side)
					continue
				}
				e.handlePlace(ctx, d)
			case types.DecisionCancel:
				e.handleCancel(ctx, d)
			}
		}
	}
}

func (e *Engine) runAmendWorker(ctx context.Context, ch <-chan types.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-ch:
			if e.stopped.Load() {
				e.logger.Warn("dropping amend, emergency stop active", "client_order_id", d.ClientOrderID)
				continue
			}
			e.handleAmend(ctx, d)
		}
	}
}

// handlePlace owns client_order_id assignment: the order is created in the
// order manager the moment the Place decision is accepted into this
// dispatcher, before the exchange call is even attempted.
func (e *Engine) handlePlace(ctx context.Context, d types.Decision) {
	clientOrderID := uuid.NewString()
	e.om.CreateOrder(clientOrderID, e.symbol, d.Side, d.Price, d.Quantity)

	var orderID string
	err := e.callWithRetry(ctx, e.txBucket, func(ctx context.Context) error {
		id, err := e.client.PlaceOrder(ctx, e.symbol, d.Side, d.Price, d.Quantity)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})

	now := time.Now()
	if err != nil {
		e.logger.Warn("place rejected", "client_order_id", clientOrderID, "error", err)
		metrics.OrdersTotal.WithLabelValues("place", "reject").Inc()
		e.bus.PublishOrderReject(types.OrderReject{ClientOrderID: clientOrderID, Reason: err.Error(), Class: classify(err), Timestamp: now})
		return
	}
	metrics.OrdersTotal.WithLabelValues("place", "ack").Inc()
	e.bus.PublishOrderAck(types.OrderAck{ClientOrderID: clientOrderID, OrderID: orderID, Timestamp: now})
}

func (e *Engine) handleCancel(ctx context.Context, d types.Decision) {
	o, ok := e.om.AcceptCancel(d.ClientOrderID)
	if !ok {
		// Not Active: either already terminal, or already PendingCancel. Only
		// a modification_timeout force-cancel still needs its exchange call to
		// go out, so only that one is retried directly; any other cancel of a
		// PendingCancel order is a duplicate and is dropped.
		cur, exists := e.om.Get(d.ClientOrderID)
		if !exists || cur.Status != types.StatusPendingCancel || d.Reason != "modification_timeout" {
			return
		}
		o = cur
	}

	err := e.callWithRetry(ctx, e.txBucket, func(ctx context.Context) error {
		return e.client.CancelOrder(ctx, o.OrderID)
	})

	now := time.Now()
	if err != nil {
		e.logger.Warn("cancel rejected", "client_order_id", d.ClientOrderID, "error", err)
		metrics.OrdersTotal.WithLabelValues("cancel", "reject").Inc()
		e.bus.PublishCancelReject(types.CancelReject{ClientOrderID: d.ClientOrderID, Reason: err.Error(), Class: classify(err), Timestamp: now})
		return
	}
	metrics.OrdersTotal.WithLabelValues("cancel", "ack").Inc()
	e.bus.PublishCancelAck(types.CancelAck{ClientOrderID: d.ClientOrderID, Timestamp: now})
}

func (e *Engine) handleAmend(ctx context.Context, d types.Decision) {
	o, ok := e.om.AcceptAmend(d.ClientOrderID, d.NewPrice, d.NewQuantity)
	if !ok {
		// AcceptAmend refuses both an order that isn't Active (already has
		// an amend/cancel outstanding — nothing to do, the real ack/reject
		// for that one is still in flight) and an Active order refused only
		// because the global pending-modification cap is full. Only the
		// latter is a genuine rejection of this decision: surface it so the
		// strategy engine re-plans as a cancel+place on the next cycle,
		// rather than the amend silently vanishing.
		if cur, exists := e.om.Get(d.ClientOrderID); exists && cur.Status == types.StatusActive {
			metrics.OrdersTotal.WithLabelValues("amend", "reject").Inc()
			e.bus.PublishAmendReject(types.AmendReject{ClientOrderID: d.ClientOrderID, Reason: "amend not admitted: pending-modification cap reached", Class: types.FailurePermanent, Timestamp: time.Now()})
		}
		return
	}

	err := e.callWithRetry(ctx, e.amendBucket, func(ctx context.Context) error {
		return e.client.AmendOrder(ctx, o.OrderID, d.NewPrice, d.NewQuantity)
	})

	now := time.Now()
	if err != nil {
		e.logger.Warn("amend rejected", "client_order_id", d.ClientOrderID, "error", err)
		metrics.OrdersTotal.WithLabelValues("amend", "reject").Inc()
		e.bus.PublishAmendReject(types.AmendReject{ClientOrderID: d.ClientOrderID, Reason: err.Error(), Class: classify(err), Timestamp: now})
		return
	}
	metrics.OrdersTotal.WithLabelValues("amend", "ack").Inc()
	e.bus.PublishAmendAck(types.AmendAck{ClientOrderID: d.ClientOrderID, NewPrice: d.NewPrice, NewQuantity: d.NewQuantity, Timestamp: now})
}

// callWithRetry runs fn behind the given rate limiter, retrying with
// exponential backoff (retry_delay * 2^attempt) only while the failure is
// transient or rate-limited. A rate-limited response also halves the
// bucket's refill rate for 10s, per the exchange's own backoff signal.
// Permanent failures return on the first attempt.
func (e *Engine) callWithRetry(ctx context.Context, bucket *TokenBucket, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.RetryDelay * time.Duration(int64(1)<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		waitStart := time.Now()
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
		pool := "transactional"
		if bucket == e.amendBucket {
			pool = "amend"
		}
		metrics.RateLimiterWaitSeconds.WithLabelValues(pool).Observe(time.Since(waitStart).Seconds())

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := classify(err)
		if class == types.FailureRateLimited {
			bucket.Halve(10 * time.Second)
		}
		if class != types.FailureTransient && class != types.FailureRateLimited {
			return err
		}
	}
	return lastErr
}
