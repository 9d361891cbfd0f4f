// Package ordermgr places and cancels resting orders, filtering out
// churn that wouldn't meaningfully change the book: an update is only
// sent to the exchange when price or size has moved enough to matter.
package ordermgr

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

const (
	minPriceDiff   = 0.005
	minSizeDiffPct = 0.10
)

// Manager places/cancels orders with the significance filter applied, and
// keeps shared state's resting-order view in sync with what was sent.
type Manager struct {
	state  *state.State
	client *exchange.Client
	logger *slog.Logger
}

// New builds an order manager.
func New(st *state.State, client *exchange.Client, logger *slog.Logger) *Manager {
	return &Manager{state: st, client: client, logger: logger.With("component", "ordermgr")}
}

// ShouldUpdate reports whether a resting order on (token, side) should be
// replaced: always true if there's no current order, else true only if
// price moved more than minPriceDiff or size moved more than
// minSizeDiffPct of the new size.
func (m *Manager) ShouldUpdate(token string, side types.Side, newPrice, newSize float64) bool {
	current, ok := m.state.GetOrder(token, side)
	if !ok || current.Size == 0 {
		return true
	}

	if math.Abs(current.Price-newPrice) > minPriceDiff {
		return true
	}

	if newSize > 0 && math.Abs(current.Size-newSize) > newSize*minSizeDiffPct {
		return true
	}

	return false
}

// PlaceBuy applies the significance filter, cancels any existing orders on
// the token, and places a new BUY order. Returns false without error if
// the filter skipped the update or the exchange rejected the order.
func (m *Manager) PlaceBuy(ctx context.Context, tokenID string, price, size float64, negRisk bool) (bool, error) {
	return m.place(ctx, tokenID, types.BUY, price, size, negRisk)
}

// PlaceSell applies the significance filter, cancels any existing orders on
// the token, and places a new SELL order.
func (m *Manager) PlaceSell(ctx context.Context, tokenID string, price, size float64, negRisk bool) (bool, error) {
	return m.place(ctx, tokenID, types.SELL, price, size, negRisk)
}

func (m *Manager) place(ctx context.Context, tokenID string, side types.Side, price, size float64, negRisk bool) (bool, error) {
	if !m.ShouldUpdate(tokenID, side, price, size) {
		m.logger.Debug("skipping order update, below significance threshold", "token", tokenID, "side", side)
		return false, nil
	}

	if m.state.HasAnyOrder(tokenID) {
		if err := m.client.CancelByAsset(ctx, tokenID); err != nil {
			return false, fmt.Errorf("cancel existing orders for %s: %w", tokenID, err)
		}
		m.state.ClearOrder(tokenID, types.BUY)
		m.state.ClearOrder(tokenID, types.SELL)
	}

	m.logger.Info("placing order", "token", tokenID, "side", side, "price", price, "size", size)
	result, err := m.client.CreateOrder(ctx, tokenID, side, price, size, negRisk)
	if err != nil {
		return false, fmt.Errorf("create %s order for %s: %w", side, tokenID, err)
	}
	if result == nil || !result.Success {
		m.logger.Warn("order rejected", "token", tokenID, "side", side)
		return false, nil
	}

	m.state.SetOrder(tokenID, side, types.Order{Size: size, Price: price})
	return true, nil
}

// ReconcileOrders refreshes shared state's resting-order view from the
// exchange: per token, sums BUY sizes (keeping the max price seen) and
// SELL sizes (keeping the min price seen), aggregating duplicate resting
// orders on the same side into one logical entry.
func (m *Manager) ReconcileOrders(ctx context.Context) error {
	orders, err := m.client.GetOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}

	byToken := make(map[string]map[types.Side]types.Order)
	for _, o := range orders {
		bySide, ok := byToken[o.TokenID]
		if !ok {
			bySide = make(map[types.Side]types.Order)
			byToken[o.TokenID] = bySide
		}

		existing := bySide[o.Side]
		existing.Size += o.Size
		switch o.Side {
		case types.BUY:
			if o.Price > existing.Price {
				existing.Price = o.Price
			}
		case types.SELL:
			if existing.Price == 0 || o.Price < existing.Price {
				existing.Price = o.Price
			}
		}
		bySide[o.Side] = existing
	}

	m.state.ReplaceOrders(byToken)
	return nil
}

// CancelAllForMarket cancels every resting order for a market's two tokens
// and clears their local state.
func (m *Manager) CancelAllForMarket(ctx context.Context, market types.Market) error {
	if err := m.client.CancelMarketOrders(ctx, market.ConditionID); err != nil {
		return fmt.Errorf("cancel market orders for %s: %w", market.ConditionID, err)
	}
	for _, token := range []string{market.Token1, market.Token2} {
		m.state.ClearOrder(token, types.BUY)
		m.state.ClearOrder(token, types.SELL)
	}
	return nil
}

// CancelAllForToken cancels every resting order for a single token and
// clears its local state.
func (m *Manager) CancelAllForToken(ctx context.Context, tokenID string) error {
	if err := m.client.CancelByAsset(ctx, tokenID); err != nil {
		return fmt.Errorf("cancel orders for %s: %w", tokenID, err)
	}
	m.state.ClearOrder(tokenID, types.BUY)
	m.state.ClearOrder(tokenID, types.SELL)
	return nil
}
