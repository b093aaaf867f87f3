package exchange

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"spotmm/internal/config"
	"spotmm/internal/execution"
	"spotmm/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange"),
	}
}

func TestDryRunPlaceOrderReturnsSyntheticID(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	orderID, err := c.PlaceOrder(context.Background(), "BTC-USDT", types.Buy, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if orderID == "" {
		t.Error("expected a non-empty synthetic order id")
	}
}

func TestDryRunAmendOrderSucceeds(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	err := c.AmendOrder(context.Background(), "ex1", decimal.NewFromInt(101), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("AmendOrder: %v", err)
	}
}

func TestDryRunCancelOrderSucceeds(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelOrder(context.Background(), "ex1"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Config{DryRun: true, API: config.APIConfig{BaseURL: "http://localhost"}}
	auth := NewAuth(cfg.API)
	c := NewClient(cfg, auth, logger)

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.DryRun is true")
	}
}

func TestPlaceOrderClassifiesRateLimitedResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{BaseURL: srv.URL, Key: "k", Secret: "s"}}
	c := NewClient(cfg, NewAuth(cfg.API), logger)

	_, err := c.PlaceOrder(context.Background(), "BTC-USDT", types.Buy, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err == nil {
		t.Fatal("expected an error for a 429 response")
	}
	var ce *execution.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ClassifiedError, got %T: %v", err, err)
	}
	if ce.Class != types.FailureRateLimited {
		t.Errorf("class = %v, want FailureRateLimited", ce.Class)
	}
}

func TestCancelOrderClassifiesPermanentResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown order"}`))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	cfg := config.Config{API: config.APIConfig{BaseURL: srv.URL, Key: "k", Secret: "s"}}
	c := NewClient(cfg, NewAuth(cfg.API), logger)

	err := c.CancelOrder(context.Background(), "ex1")
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	var ce *execution.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ClassifiedError, got %T: %v", err, err)
	}
	if ce.Class != types.FailurePermanent {
		t.Errorf("class = %v, want FailurePermanent", ce.Class)
	}
}
