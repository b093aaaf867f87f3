// Package engine is the top-level orchestrator of the market-making bot.
//
// It wires together every subsystem for a single trading pair:
//
//  1. exchange.MarketFeed / exchange.UserFeed stream trades, book, and fills.
//  2. price.Estimator turns those samples into a smoothed reference price.
//  3. strategy.Engine reacts to price and order-state changes with
//     Place/Amend/Cancel decisions.
//  4. risk.Manager gates every decision before it reaches execution.
//  5. execution.Engine dispatches approved decisions to the exchange through
//     two independent rate-limited worker pools.
//  6. ordermgr.Manager owns the order state machine and reconciles acks,
//     rejects, and fills back into order state.
//  7. reset.Scheduler emits the periodic ResetTick that drives a full
//     cancel-and-requote cycle.
//
// Every component communicates exclusively through internal/bus; Engine's
// own job is starting/stopping the goroutines and bridging the exchange
// adapter's channels onto the bus.
//
// Lifecycle: New() -> Start() -> [runs until Stop] -> Stop()
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spotmm/internal/bus"
	"spotmm/internal/config"
	"spotmm/internal/exchange"
	"spotmm/internal/execution"
	"spotmm/internal/metrics"
	"spotmm/internal/ordermgr"
	"spotmm/internal/price"
	"spotmm/internal/reset"
	"spotmm/internal/risk"
	"spotmm/internal/strategy"
	"spotmm/pkg/types"
)

// Engine orchestrates every component of the market-making system for one
// symbol. It owns the lifecycle of all goroutines.
type Engine struct {
	cfg    config.Config
	symbol string
	logger *slog.Logger

	bus *bus.Bus

	client     *exchange.Client
	marketFeed *exchange.MarketFeed
	userFeed   *exchange.UserFeed

	om        *ordermgr.Manager
	priceEst  *price.Estimator
	strategy  *strategy.Engine
	execution *execution.Engine
	riskMgr   *risk.Manager
	reset     *reset.Scheduler

	emergencyCh <-chan types.EmergencyStop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component together over a fresh Bus. It does not start
// any goroutine; call Start for that.
func New(cfg config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New(bus.Sizes{}, logger)
	symbol := cfg.Strategy.Symbol

	auth := exchange.NewAuth(cfg.API)
	client := exchange.NewClient(cfg, auth, logger)
	marketFeed := exchange.NewMarketFeed(cfg.API.WSURL, symbol, logger)
	userFeed := exchange.NewUserFeed(cfg.API.WSURL, auth, logger)

	om := ordermgr.New(cfg.OrderMgmt, b, logger)
	priceEst := price.New(cfg.Price, logger)
	stratEngine := strategy.New(cfg.Strategy, om, b, logger)
	execEngine := execution.New(cfg.Execution, symbol, client, om, b, logger)
	riskMgr := risk.New(cfg.Risk, symbol, om, b, logger)
	resetSched := reset.New(cfg.OrderMgmt, b, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:         cfg,
		symbol:      symbol,
		logger:      logger.With("component", "engine"),
		bus:         b,
		client:      client,
		marketFeed:  marketFeed,
		userFeed:    userFeed,
		om:          om,
		priceEst:    priceEst,
		strategy:    stratEngine,
		execution:   execEngine,
		riskMgr:     riskMgr,
		reset:       resetSched,
		emergencyCh: b.SubscribeEmergencyStop(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches every background goroutine and returns immediately.
func (e *Engine) Start() {
	e.spawn("market_feed", func(ctx context.Context) {
		if err := e.marketFeed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("market feed stopped", "error", err)
		}
	})
	e.spawn("user_feed", func(ctx context.Context) {
		if err := e.userFeed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("user feed stopped", "error", err)
		}
	})
	e.spawn("market_bridge", e.bridgeMarketFeed)
	e.spawn("user_bridge", e.bridgeUserFeed)

	e.spawn("price_estimator", func(ctx context.Context) {
		e.priceEst.Run(ctx, e.bus)
	})
	e.spawn("order_manager_acks", e.om.ConsumeAcks)
	e.spawn("order_manager_sweep", e.om.Run)
	e.spawn("strategy", e.strategy.Run)
	e.spawn("risk", e.riskMgr.Run)
	e.spawn("execution", e.execution.Run)
	e.spawn("reset_scheduler", e.reset.Run)

	e.spawn("overflow_metrics", e.watchOverflow)
	e.spawn("emergency_log", e.watchEmergencyStop)
}

// spawn starts fn in its own goroutine, tracked by Engine's WaitGroup and
// driven by Engine's own cancellable context. A panicking component is
// logged rather than allowed to take the whole process down, since a bug
// in one subsystem (e.g. a bad book sample) shouldn't also kill the
// execution engine's in-flight cancels.
func (e *Engine) spawn(name string, fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("component goroutine panicked", "component", name, "panic", r)
			}
		}()
		fn(e.ctx)
	}()
}

// bridgeMarketFeed forwards the market feed's trade and book channels onto
// the bus, since MarketFeed has no direct reference to the bus itself.
func (e *Engine) bridgeMarketFeed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.marketFeed.Trades():
			e.bus.PublishMarketTrade(ctx, t)
		case bk := <-e.marketFeed.Books():
			e.bus.PublishBookUpdate(ctx, bk)
		}
	}
}

// bridgeUserFeed forwards reported fills onto the bus.
func (e *Engine) bridgeUserFeed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-e.userFeed.Fills():
			e.bus.PublishFill(f)
		}
	}
}

// watchOverflow counts dropped bus publishes into metrics. internal/bus
// stays metrics-agnostic; Engine already owns the final reaction to every
// other bus event, so it owns this one too.
func (e *Engine) watchOverflow(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-e.bus.Overflow:
			metrics.BusOverflowTotal.WithLabelValues(o.Channel).Inc()
		}
	}
}

func (e *Engine) watchEmergencyStop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case stop := <-e.emergencyCh:
			e.logger.Error("EMERGENCY STOP", "reason", stop.Reason)
		}
	}
}

// Stop cancels every goroutine, then cancels any remaining live orders on
// the exchange as a safety net, and waits for a clean shutdown.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")

	e.cancel()
	e.wg.Wait()

	e.cancelRemainingOrders()

	e.logger.Info("shutdown complete")
}

// cancelRemainingOrders runs after every goroutine has stopped: any order
// the strategy engine never got a chance to cancel itself is cancelled
// directly against the exchange.
func (e *Engine) cancelRemainingOrders() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, side := range []types.Side{types.Buy, types.Sell} {
		for _, o := range e.om.LiveOrders(e.symbol, side) {
			if o.Status.Terminal() {
				continue
			}
			if err := e.client.CancelOrder(ctx, o.OrderID); err != nil {
				e.logger.Error("failed to cancel order on shutdown", "client_order_id", o.ClientOrderID, "error", err)
			}
		}
	}
}
