package updater

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/ordermgr"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestUpdater(t *testing.T, refreshMarkets func(ctx context.Context) error) (*Updater, *state.State) {
	t.Helper()

	st := state.New()
	st.SetMarkets([]types.Market{{ConditionID: "m1", Token1: "tok-yes", Token2: "tok-no"}})

	client := exchange.NewClient(config.Config{DryRun: true, ExchangeBaseURL: "https://example.invalid"}, nil, st, testLogger())
	posMgr, err := position.New(st, client, t.TempDir(), 5.0, testLogger())
	if err != nil {
		t.Fatalf("position.New() error = %v", err)
	}
	orders := ordermgr.New(st, client, testLogger())

	return New(st, client, posMgr, orders, refreshMarkets, nil, testLogger()), st
}

func TestTokenListCollectsBothTokens(t *testing.T) {
	t.Parallel()
	st := state.New()
	st.SetMarkets([]types.Market{
		{ConditionID: "m1", Token1: "a", Token2: "b"},
		{ConditionID: "m2", Token1: "c"},
	})

	tokens := tokenList(st)
	if len(tokens) != 3 {
		t.Fatalf("len(tokens) = %d, want 3", len(tokens))
	}
}

func TestUpdateOnceKeepsFreshInflightMarker(t *testing.T) {
	t.Parallel()
	u, st := newTestUpdater(t, nil)

	st.MarkInflight("tok-yes", state.InFlightBuy)
	// The marker is milliseconds old, well under inflightMaxAge, so the
	// pass's sweep must leave it; a zero-age sweep afterwards finds it.
	time.Sleep(2 * time.Millisecond)

	u.updateOnce(context.Background())

	if swept := st.SweepInflight(0); swept != 1 {
		t.Errorf("expected updateOnce to leave the fresh marker in place, zero-age sweep removed %d, want 1", swept)
	}
}

func TestUpdateOnceCallsCatalogRefreshOnSixthTick(t *testing.T) {
	t.Parallel()

	calls := 0
	u, _ := newTestUpdater(t, func(ctx context.Context) error {
		calls++
		return nil
	})

	for i := 0; i < catalogRefreshTick; i++ {
		u.updateOnce(context.Background())
	}

	if calls != 1 {
		t.Errorf("refresh calls = %d, want 1 after %d ticks", calls, catalogRefreshTick)
	}

	for i := 0; i < catalogRefreshTick-1; i++ {
		u.updateOnce(context.Background())
	}
	if calls != 1 {
		t.Errorf("refresh calls = %d, want still 1 before the next multiple of %d", calls, catalogRefreshTick)
	}

	u.updateOnce(context.Background())
	if calls != 2 {
		t.Errorf("refresh calls = %d, want 2 after the 12th tick", calls)
	}
}

func TestStartupOnceRefreshesMarketsAndParamsSeparatelyFromCadence(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.SetMarkets([]types.Market{{ConditionID: "m1", Token1: "tok-yes", Token2: "tok-no"}})
	client := exchange.NewClient(config.Config{DryRun: true, ExchangeBaseURL: "https://example.invalid"}, nil, st, testLogger())
	posMgr, err := position.New(st, client, t.TempDir(), 5.0, testLogger())
	if err != nil {
		t.Fatalf("position.New() error = %v", err)
	}
	orders := ordermgr.New(st, client, testLogger())

	marketCalls, paramCalls := 0, 0
	refreshMarkets := func(ctx context.Context) error { marketCalls++; return nil }
	refreshParams := func(ctx context.Context) error { paramCalls++; return nil }

	u := New(st, client, posMgr, orders, refreshMarkets, refreshParams, testLogger())

	u.startupOnce(context.Background())
	if marketCalls != 1 || paramCalls != 1 {
		t.Fatalf("startupOnce: marketCalls=%d paramCalls=%d, want 1 and 1", marketCalls, paramCalls)
	}

	// The steady-state cadence refreshes params never, and markets only on
	// the catalogRefreshTick cadence, not every tick.
	u.updateOnce(context.Background())
	if paramCalls != 1 {
		t.Errorf("updateOnce must never refresh params, paramCalls = %d", paramCalls)
	}
	if marketCalls != 1 {
		t.Errorf("updateOnce before catalogRefreshTick ticks, marketCalls = %d, want still 1", marketCalls)
	}
}

func TestRunExitsOnContextCancel(t *testing.T) {
	t.Parallel()
	u, _ := newTestUpdater(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit promptly after context cancellation")
	}
}
