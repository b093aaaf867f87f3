// Package exchange implements the REST and WebSocket adapters for a single
// centralized spot exchange: a resty-based REST client for order
// placement/amend/cancel, and gorilla/websocket feeds for public market
// data and the authenticated user stream that reports fills and order
// state changes.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"spotmm/internal/config"
	"spotmm/internal/execution"
	"spotmm/pkg/types"
)

// Client is the REST client for private trading endpoints. It implements
// execution.Client: PlaceOrder, AmendOrder, CancelOrder.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting, retry, and HMAC auth.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange"),
	}
}

type placeOrderRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Type     string `json:"type"`
}

type placeOrderResponse struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder submits a new resting limit order and returns the exchange's
// assigned order id.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side types.Side, price, qty decimal.Decimal) (string, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order", "symbol", symbol, "side", side, "price", price, "qty", qty)
		return fmt.Sprintf("dry-run-%d", time.Now().UnixNano()), nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}

	payload := placeOrderRequest{
		Symbol:   symbol,
		Side:     string(side),
		Price:    price.String(),
		Quantity: qty.String(),
		Type:     "LIMIT",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal place order: %w", err)
	}

	var result placeOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(http.MethodPost, "/orders", string(body))).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return "", classifyTransportErr(err)
	}
	if err := statusErr(resp); err != nil {
		return "", err
	}
	return result.OrderID, nil
}

type amendOrderRequest struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// AmendOrder modifies the price and/or quantity of a resting order in place.
func (c *Client) AmendOrder(ctx context.Context, orderID string, newPrice, newQty decimal.Decimal) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would amend order", "order_id", orderID, "price", newPrice, "qty", newQty)
		return nil
	}
	if err := c.rl.Amend.Wait(ctx); err != nil {
		return err
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	payload := amendOrderRequest{Price: newPrice.String(), Quantity: newQty.String()}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal amend order: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(http.MethodPut, path, string(body))).
		SetBody(payload).
		Put(path)
	if err != nil {
		return classifyTransportErr(err)
	}
	return statusErr(resp)
}

// CancelOrder cancels a single resting order by exchange order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := fmt.Sprintf("/orders/%s", orderID)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.auth.Headers(http.MethodDelete, path, "")).
		Delete(path)
	if err != nil {
		return classifyTransportErr(err)
	}
	return statusErr(resp)
}

// statusErr maps a non-2xx response into a ClassifiedError so the
// execution engine's retry loop knows whether to back off or give up:
// 429 is rate-limited, 5xx is transient, everything else is permanent.
func statusErr(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	err := fmt.Errorf("exchange request failed: status %d: %s", resp.StatusCode(), resp.String())
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return &execution.ClassifiedError{Class: types.FailureRateLimited, Err: err}
	case resp.StatusCode() >= 500:
		return &execution.ClassifiedError{Class: types.FailureTransient, Err: err}
	default:
		return &execution.ClassifiedError{Class: types.FailurePermanent, Err: err}
	}
}

// classifyTransportErr treats a transport-level failure (timeout, connection
// reset, DNS) as transient — the request never reached the exchange, so it
// is always safe to retry.
func classifyTransportErr(err error) error {
	return &execution.ClassifiedError{Class: types.FailureTransient, Err: fmt.Errorf("exchange transport error: %w", err)}
}
