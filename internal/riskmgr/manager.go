// Package riskmgr holds every pre-trade and post-fill risk check: stop
// loss, take profit, volatility and liquidity gating, position sizing,
// and the cooldown that follows a stop-loss.
package riskmgr

import (
	"log/slog"
	"time"

	"polymarket-mm/internal/numeric"
	"polymarket-mm/pkg/types"
)

// riskEventLoader is the subset of the position manager risk-event store
// that the cooldown check needs.
type riskEventLoader interface {
	LoadRiskEvent(marketID string) (*types.RiskEvent, error)
}

// Manager evaluates risk checks against a parameter profile. It holds no
// mutable state of its own beyond a logger.
type Manager struct {
	logger *slog.Logger
}

// New builds a risk manager.
func New(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "riskmgr")}
}

// CheckStopLoss reports whether a position should be emergency-exited:
// size and avg price must both be positive, PnL% below the threshold, and
// the spread tight enough to exit without excess slippage. The exit price
// is the current best bid.
func (m *Manager) CheckStopLoss(tokenID string, size, avgPrice, mid, bestBid, spreadPct float64, params types.ParamProfile) (bool, float64) {
	if size <= 0 || avgPrice <= 0 {
		return false, 0
	}

	pnlPct := numeric.SafeDivide((mid-avgPrice)*100, avgPrice, 0)

	if pnlPct < params.StopLossThreshold && spreadPct <= params.SpreadThreshold {
		m.logger.Warn("stop-loss triggered", "token", tokenID, "pnl_pct", pnlPct, "threshold", params.StopLossThreshold, "spread_pct", spreadPct)
		return true, bestBid
	}
	return false, 0
}

// CheckVolatilityStop reports whether trailing volatility exceeds the
// profile's threshold, in which case new entries should be suppressed.
func (m *Manager) CheckVolatilityStop(threeHourVolatility float64, params types.ParamProfile) bool {
	if threeHourVolatility > params.VolatilityThreshold {
		m.logger.Warn("volatility too high", "volatility", threeHourVolatility, "threshold", params.VolatilityThreshold)
		return true
	}
	return false
}

// TakeProfitPrice computes the take-profit exit price for a position,
// rounded up to the market's tick size.
func (m *Manager) TakeProfitPrice(avgPrice float64, params types.ParamProfile, tick types.TickSize) float64 {
	target := avgPrice * (1 + params.TakeProfitThreshold/100)
	rounded, _ := numeric.RoundUp(target, tick.Decimals())
	return rounded
}

// CheckCooldown reports whether a market is still inside a risk-event
// sleep period.
func (m *Manager) CheckCooldown(marketID string, loader riskEventLoader) bool {
	event, err := loader.LoadRiskEvent(marketID)
	if err != nil || event == nil {
		return false
	}
	if event.SleepTill.IsZero() {
		return false
	}

	if time.Now().UTC().Before(event.SleepTill) {
		remaining := time.Until(event.SleepTill)
		m.logger.Info("market in cooldown", "market", marketID, "hours_remaining", remaining.Hours())
		return true
	}
	return false
}

// CheckPositionLimits reports whether adding orderSize to currentPosition
// stays within the market's max size and the hard 250-unit absolute cap.
func (m *Manager) CheckPositionLimits(tokenID string, currentPosition, orderSize, maxSize, absoluteCap float64) bool {
	newPosition := currentPosition + orderSize

	if newPosition > maxSize {
		m.logger.Warn("position limit exceeded", "token", tokenID, "new_position", newPosition, "max_size", maxSize)
		return false
	}
	if newPosition > absoluteCap {
		m.logger.Warn("absolute position cap exceeded", "token", tokenID, "new_position", newPosition, "cap", absoluteCap)
		return false
	}
	return true
}

// CheckLiquidity reports whether the spread is within maxSpreadPct
// (percentage points, divided by 100 only here) and both best-level sizes
// meet minLiquidity.
func (m *Manager) CheckLiquidity(bestBid, bestAsk, bestBidSize, bestAskSize, maxSpreadPct, minLiquidity float64) bool {
	spread := bestAsk - bestBid
	maxSpread := maxSpreadPct / 100

	if spread > maxSpread {
		m.logger.Warn("spread too wide", "spread", spread, "max_spread", maxSpread)
		return false
	}
	if bestBidSize < minLiquidity || bestAskSize < minLiquidity {
		m.logger.Warn("insufficient liquidity", "bid_size", bestBidSize, "ask_size", bestAskSize)
		return false
	}
	return true
}

// SizeOrder computes the capped entry buy size and the full-position exit
// sell size: buy only if this token isn't already at its cap and the
// complementary token's position is below minSize (avoiding doubling up
// on both sides of a market); sell the entire current position.
func (m *Manager) SizeOrder(position, otherPosition, maxSize, minSize float64) (buy, sell float64) {
	if position < maxSize && otherPosition < minSize {
		buy = maxSize - position
		if buy < 0 {
			buy = 0
		}
		if buy < minSize {
			buy = 0
		}
	}
	if position > 0 {
		sell = position
	}
	return buy, sell
}

// CheckBookRatio reports whether the bid/ask volume ratio meets minRatio.
// An empty ask side always passes (nothing to compare against).
func (m *Manager) CheckBookRatio(bidSum, askSum, minRatio float64) bool {
	if askSum == 0 {
		return true
	}
	ratio := numeric.SafeDivide(bidSum, askSum, 0)
	if ratio < minRatio {
		m.logger.Warn("order book ratio too low", "ratio", ratio, "min_ratio", minRatio)
		return false
	}
	return true
}

// EntryContext bundles the inputs to ShouldEnter.
type EntryContext struct {
	MarketID            string
	ThreeHourVolatility float64
	BestBid, BestAsk    float64
	BestBidSize         float64
	BestAskSize         float64
	BidSumNearBest      float64
	AskSumNearBest      float64
	MinLiquidity        float64
	MinBookRatio        float64
}

// ShouldEnter runs the composite pre-entry gate: not in cooldown, not too
// volatile, sufficiently liquid, and an acceptable book ratio.
func (m *Manager) ShouldEnter(ctx EntryContext, params types.ParamProfile, loader riskEventLoader) bool {
	if m.CheckCooldown(ctx.MarketID, loader) {
		return false
	}
	if m.CheckVolatilityStop(ctx.ThreeHourVolatility, params) {
		return false
	}
	if !m.CheckLiquidity(ctx.BestBid, ctx.BestAsk, ctx.BestBidSize, ctx.BestAskSize, params.MaxSpread, ctx.MinLiquidity) {
		return false
	}
	if !m.CheckBookRatio(ctx.BidSumNearBest, ctx.AskSumNearBest, ctx.MinBookRatio) {
		return false
	}
	return true
}
