// ws.go implements the two WebSocket feeds a spot exchange typically
// exposes: a public market-data stream (trades + top-of-book) and an
// authenticated user stream (fills + order state changes). Both
// auto-reconnect with exponential backoff (1s -> 30s max) and re-subscribe
// to the configured symbol on reconnection. A read deadline (90s) detects
// a silently dead connection within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"spotmm/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	tradeBufferSize  = 256
	fillBufferSize   = 64
)

// wireTrade is the public trade-stream wire shape.
type wireTrade struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Side      string `json:"side"`
	Timestamp int64  `json:"ts"`
}

// wireBook is the public top-of-book wire shape.
type wireBook struct {
	Symbol    string `json:"symbol"`
	BestBid   string `json:"bestBid"`
	BestAsk   string `json:"bestAsk"`
	Timestamp int64  `json:"ts"`
}

// wireFill is the authenticated user-stream fill wire shape.
type wireFill struct {
	ClientOrderID string `json:"clientOrderId"`
	FillQuantity  string `json:"fillQty"`
	FillPrice     string `json:"fillPrice"`
	Complete      bool   `json:"complete"`
	Timestamp     int64  `json:"ts"`
}

type wireEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// MarketFeed is the public market-data WebSocket connection for a single
// symbol: trade prints and top-of-book updates.
type MarketFeed struct {
	url    string
	symbol string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	tradeCh chan types.MarketTrade
	bookCh  chan types.BookUpdate
}

// NewMarketFeed creates the public market-data feed for a symbol.
func NewMarketFeed(wsURL, symbol string, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:     wsURL,
		symbol:  symbol,
		logger:  logger.With("component", "ws_market"),
		tradeCh: make(chan types.MarketTrade, tradeBufferSize),
		bookCh:  make(chan types.BookUpdate, tradeBufferSize),
	}
}

// Trades returns the channel of trade prints.
func (f *MarketFeed) Trades() <-chan types.MarketTrade { return f.tradeCh }

// Books returns the channel of top-of-book updates.
func (f *MarketFeed) Books() <-chan types.BookUpdate { return f.bookCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	return runWithReconnect(ctx, f.logger, func(ctx context.Context) error {
		return f.connectAndRead(ctx)
	})
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer closeConn(&f.connMu, &f.conn)

	sub := map[string]any{"op": "subscribe", "channels": []string{"trades", "book"}, "symbol": f.symbol}
	if err := writeJSON(&f.connMu, conn, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("market feed connected", "symbol", f.symbol)

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, &f.connMu, conn, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *MarketFeed) dispatch(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json market message", "data", string(data))
		return
	}

	switch env.Channel {
	case "trades":
		var w wireTrade
		if err := json.Unmarshal(env.Data, &w); err != nil {
			f.logger.Error("unmarshal trade", "error", err)
			return
		}
		evt := types.MarketTrade{
			Symbol:    w.Symbol,
			Price:     mustDecimal(w.Price),
			Quantity:  mustDecimal(w.Quantity),
			Side:      types.Side(w.Side),
			Timestamp: time.UnixMilli(w.Timestamp),
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event")
		}
	case "book":
		var w wireBook
		if err := json.Unmarshal(env.Data, &w); err != nil {
			f.logger.Error("unmarshal book", "error", err)
			return
		}
		evt := types.BookUpdate{
			Symbol:    w.Symbol,
			BestBid:   mustDecimal(w.BestBid),
			BestAsk:   mustDecimal(w.BestAsk),
			Timestamp: time.UnixMilli(w.Timestamp),
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event")
		}
	default:
		f.logger.Debug("unknown market channel", "channel", env.Channel)
	}
}

// UserFeed is the authenticated WebSocket connection reporting fills
// against the account's resting orders.
type UserFeed struct {
	url    string
	auth   *Auth
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	fillCh chan types.Fill
}

// NewUserFeed creates the authenticated user feed.
func NewUserFeed(wsURL string, auth *Auth, logger *slog.Logger) *UserFeed {
	return &UserFeed{
		url:    wsURL,
		auth:   auth,
		logger: logger.With("component", "ws_user"),
		fillCh: make(chan types.Fill, fillBufferSize),
	}
}

// Fills returns the channel of reported fills.
func (f *UserFeed) Fills() <-chan types.Fill { return f.fillCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *UserFeed) Run(ctx context.Context) error {
	return runWithReconnect(ctx, f.logger, func(ctx context.Context) error {
		return f.connectAndRead(ctx)
	})
}

func (f *UserFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer closeConn(&f.connMu, &f.conn)

	apiKey, timestamp, sig := f.auth.WSLoginPayload()
	login := map[string]any{"op": "login", "apiKey": apiKey, "timestamp": timestamp, "signature": sig}
	if err := writeJSON(&f.connMu, conn, login); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	f.logger.Info("user feed connected")

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pingLoop(pingCtx, &f.connMu, conn, f.logger)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *UserFeed) dispatch(data []byte) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Debug("ignoring non-json user message", "data", string(data))
		return
	}

	if env.Channel != "fills" {
		f.logger.Debug("unknown user channel", "channel", env.Channel)
		return
	}

	var w wireFill
	if err := json.Unmarshal(env.Data, &w); err != nil {
		f.logger.Error("unmarshal fill", "error", err)
		return
	}
	evt := types.Fill{
		ClientOrderID: w.ClientOrderID,
		FillQuantity:  mustDecimal(w.FillQuantity),
		FillPrice:     mustDecimal(w.FillPrice),
		Complete:      w.Complete,
		Timestamp:     time.UnixMilli(w.Timestamp),
	}
	select {
	case f.fillCh <- evt:
	default:
		f.logger.Warn("fill channel full, dropping event", "client_order_id", evt.ClientOrderID)
	}
}

// runWithReconnect retries connectFn with exponential backoff until ctx is
// cancelled.
func runWithReconnect(ctx context.Context, logger *slog.Logger, connectFn func(context.Context) error) error {
	backoff := time.Second
	for {
		err := connectFn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func pingLoop(ctx context.Context, mu *sync.Mutex, conn *websocket.Conn, logger *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			mu.Unlock()
			if err != nil {
				logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func writeJSON(mu *sync.Mutex, conn *websocket.Conn, v any) error {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func closeConn(mu *sync.Mutex, conn **websocket.Conn) {
	mu.Lock()
	defer mu.Unlock()
	if *conn != nil {
		(*conn).Close()
		*conn = nil
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
