// Package updater runs the single process-wide background loop that keeps
// shared state honest: sweeping stale in-flight markers, reconciling
// positions and resting orders against the exchange, and periodically
// refreshing the market catalog from the configured source.
package updater

import (
	"context"
	"log/slog"
	"time"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/ordermgr"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/state"
)

const (
	tickInterval       = 5 * time.Second
	inflightMaxAge     = 15 * time.Second
	catalogRefreshTick = 6 // every 6th tick (~30s at a 5s cadence)
)

// Updater owns the periodic reconciliation loop.
type Updater struct {
	state          *state.State
	client         *exchange.Client
	posMgr         *position.Manager
	orders         *ordermgr.Manager
	refreshMarkets func(ctx context.Context) error
	refreshParams  func(ctx context.Context) error
	logger         *slog.Logger

	tick int
}

// New builds an updater. refreshMarkets and refreshParams are each allowed
// to be nil, in which case the corresponding refresh is skipped.
// refreshMarkets additionally runs on every catalogRefreshTick ticks of the
// steady-state cadence, not just at startup.
func New(st *state.State, client *exchange.Client, posMgr *position.Manager, orders *ordermgr.Manager, refreshMarkets, refreshParams func(ctx context.Context) error, logger *slog.Logger) *Updater {
	return &Updater{
		state:          st,
		client:         client,
		posMgr:         posMgr,
		orders:         orders,
		refreshMarkets: refreshMarkets,
		refreshParams:  refreshParams,
		logger:         logger.With("component", "updater"),
	}
}

// Run executes one blocking startup reconciliation pass immediately, then
// ticks the steady-state cadence every tickInterval until ctx is cancelled.
func (u *Updater) Run(ctx context.Context) {
	u.startupOnce(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			u.logger.Info("updater stopped")
			return
		case <-ticker.C:
			u.updateOnce(ctx)
		}
	}
}

// startupOnce runs the one-time full reconciliation: refresh the market
// catalog and parameter profiles from their configured source, then pull
// both size and average entry price for every tracked token from the
// exchange, and reconcile resting orders. This is the only pass that takes
// position sizes from the exchange; the steady-state cadence refreshes only
// the average entry price and trusts local fill tracking for sizes.
func (u *Updater) startupOnce(ctx context.Context) {
	if u.refreshMarkets != nil {
		if err := u.refreshMarkets(ctx); err != nil {
			u.logger.Error("market catalog refresh failed", "error", err)
		}
	}
	if u.refreshParams != nil {
		if err := u.refreshParams(ctx); err != nil {
			u.logger.Error("parameter profile refresh failed", "error", err)
		}
	}

	tokens := tokenList(u.state)
	if err := u.posMgr.ReconcilePositions(ctx, tokens, false); err != nil {
		u.logger.Error("startup position reconcile failed", "error", err)
	}
	if err := u.orders.ReconcileOrders(ctx); err != nil {
		u.logger.Error("startup order reconcile failed", "error", err)
	}
}

func (u *Updater) updateOnce(ctx context.Context) {
	swept := u.state.SweepInflight(inflightMaxAge)
	if swept > 0 {
		u.logger.Warn("swept stale in-flight markers", "count", swept)
	}

	tokens := tokenList(u.state)
	if err := u.posMgr.ReconcilePositions(ctx, tokens, true); err != nil {
		u.logger.Error("position reconcile failed", "error", err)
	}

	if err := u.orders.ReconcileOrders(ctx); err != nil {
		u.logger.Error("order reconcile failed", "error", err)
	}

	u.tick++
	if u.refreshMarkets != nil && u.tick%catalogRefreshTick == 0 {
		if err := u.refreshMarkets(ctx); err != nil {
			u.logger.Error("market catalog refresh failed", "error", err)
		}
	}
}

func tokenList(st *state.State) []string {
	markets := st.Markets()
	tokens := make([]string, 0, len(markets)*2)
	for _, m := range markets {
		if m.Token1 != "" {
			tokens = append(tokens, m.Token1)
		}
		if m.Token2 != "" {
			tokens = append(tokens, m.Token2)
		}
	}
	return tokens
}
