package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/retryx"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
		state:  state.New(),
		retry:  retryx.DefaultConfig(),
	}
}

func TestCreateOrderDryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	result, err := c.CreateOrder(context.Background(), "tok1", types.BUY, 0.50, 10, false)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if result == nil || !result.Success {
		t.Fatalf("CreateOrder() = %+v, want success", result)
	}
	if c.state.IsInflight("tok1", state.InFlightBuy) {
		t.Error("in-flight marker should be cleared after the call returns")
	}
}

func TestCreateOrderRejectsInvalidInputs(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	cases := []struct {
		name  string
		side  types.Side
		price float64
		size  float64
	}{
		{"bad side", types.Side("HOLD"), 0.5, 10},
		{"price too low", types.BUY, 0.001, 10},
		{"price too high", types.BUY, 0.999, 10},
		{"size too small", types.BUY, 0.5, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := c.CreateOrder(context.Background(), "tok1", tc.side, tc.price, tc.size, false)
			if err != nil {
				t.Errorf("CreateOrder() error = %v, want nil (validation rejection, no exception)", err)
			}
			if result != nil {
				t.Errorf("CreateOrder() = %+v, want nil result", result)
			}
		})
	}
}

func TestCancelMarketOrdersDryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelMarketOrders(context.Background(), "condition-123"); err != nil {
		t.Fatalf("CancelMarketOrders: %v", err)
	}
}

func TestCancelAllDryRun(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	if err := c.CancelAll(context.Background()); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
}

func TestNewClientDryRunFromConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := config.Config{DryRun: true, ExchangeBaseURL: "http://localhost"}
	auth := &Auth{}
	c := NewClient(cfg, auth, state.New(), logger)

	if !c.dryRun {
		t.Error("client.dryRun should be true when config.DryRun is true")
	}
}

func TestBaseUnitAmounts(t *testing.T) {
	t.Parallel()

	maker, taker := baseUnitAmounts(0.50, 10, types.BUY)
	if maker != "5000000" || taker != "10000000" {
		t.Errorf("BUY baseUnitAmounts(0.50, 10) = (%s, %s), want (5000000, 10000000)", maker, taker)
	}

	maker, taker = baseUnitAmounts(0.50, 10, types.SELL)
	if maker != "10000000" || taker != "5000000" {
		t.Errorf("SELL baseUnitAmounts(0.50, 10) = (%s, %s), want (10000000, 5000000)", maker, taker)
	}
}
