// Package strategy runs the per-market trading pass: check for a
// complementary-token merge, then exit (sell) and enter (buy) each token
// in turn. Each market's pass is serialized behind its own advisory lock
// so overlapping ticks on the same market never interleave.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/marketdata"
	"polymarket-mm/internal/numeric"
	"polymarket-mm/internal/ordermgr"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/riskmgr"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

// Runner executes the trading pass for every market, one market at a time
// per market id, via a lazily-created advisory lock table.
type Runner struct {
	state   *state.State
	data    *marketdata.Store
	posMgr  *position.Manager
	orders  *ordermgr.Manager
	risk    *riskmgr.Manager
	client  *exchange.Client
	logger  *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a strategy runner.
func New(st *state.State, data *marketdata.Store, posMgr *position.Manager, orders *ordermgr.Manager, risk *riskmgr.Manager, client *exchange.Client, logger *slog.Logger) *Runner {
	return &Runner{
		state:  st,
		data:   data,
		posMgr: posMgr,
		orders: orders,
		risk:   risk,
		client: client,
		logger: logger.With("component", "strategy"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// bookDepthPctRange is the price-band width (10%) around the top of book
// within which resting size counts toward the depth/liquidity-ratio gate.
const bookDepthPctRange = 0.1

func (r *Runner) lockFor(marketID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[marketID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[marketID] = l
	}
	return l
}

// Run ticks TradeMarket for marketID on interval, until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, marketID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("strategy loop started", "market", marketID, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("strategy loop stopped", "market", marketID)
			return
		case <-ticker.C:
			if err := r.TradeMarket(ctx, marketID); err != nil {
				r.logger.Error("trade market failed", "market", marketID, "error", err)
			}
		}
	}
}

// TradeMarket runs one serialized pass for a market: merge check, then
// trade token1 (YES) and token2 (NO) in turn.
func (r *Runner) TradeMarket(ctx context.Context, marketID string) error {
	lock := r.lockFor(marketID)
	lock.Lock()
	defer lock.Unlock()

	market, ok := r.state.MarketByConditionID(marketID)
	if !ok {
		return fmt.Errorf("market %s not found", marketID)
	}

	params, ok := r.state.ParamByName(market.ParamType)
	if !ok {
		r.logger.Warn("no parameter profile found", "market", marketID, "param_type", market.ParamType)
		return nil
	}

	r.checkMerge(ctx, market)

	if market.Token1 != "" {
		r.tradeToken(ctx, market.Token1, market, params, "YES")
	}
	if market.Token2 != "" {
		r.tradeToken(ctx, market.Token2, market, params, "NO")
	}
	return nil
}

func (r *Runner) checkMerge(ctx context.Context, market types.Market) {
	_, _, amount, ok := r.posMgr.CheckMergeOpportunity(market)
	if !ok {
		return
	}

	r.logger.Info("merge opportunity found", "market", market.ConditionID, "amount", amount)
	merged, err := r.posMgr.MergePositions(ctx, market)
	if err != nil {
		r.logger.Error("merge failed", "market", market.ConditionID, "error", err)
		return
	}
	if merged {
		r.logger.Info("position merge successful", "market", market.ConditionID)
	}
}

func (r *Runner) tradeToken(ctx context.Context, tokenID string, market types.Market, params types.ParamProfile, outcome string) {
	bestBid, bestAsk, ok := r.data.BestBidAsk(tokenID)
	if !ok {
		r.logger.Warn("no order book data", "token", tokenID, "outcome", outcome)
		return
	}

	position := r.posMgr.GetPosition(tokenID)
	otherToken, _ := market.OtherToken(tokenID)
	otherPosition := r.posMgr.GetPosition(otherToken)

	maxSize := firstNonZero(market.MaxSize, params.MaxSize)
	minSize := firstNonZero(market.MinSize, params.MinSize)

	buyAmount, sellAmount := r.risk.SizeOrder(position.Size, otherPosition.Size, maxSize, minSize)

	if sellAmount > 0 && position.Size > 0 {
		r.handleSell(ctx, tokenID, position, sellAmount, market, params, bestBid, bestAsk, outcome)
	}
	if buyAmount > 0 {
		r.handleBuy(ctx, tokenID, position, buyAmount, market, params, bestBid, bestAsk, outcome)
	}
}

func (r *Runner) handleSell(ctx context.Context, tokenID string, pos types.Position, sellAmount float64, market types.Market, params types.ParamProfile, bestBid, bestAsk float64, outcome string) {
	if pos.AvgPrice <= 0 {
		return
	}

	mid := numeric.Mid(bestBid, bestAsk)
	spreadPct := numeric.SpreadPct(bestBid, bestAsk)

	if triggered, exitPrice := r.risk.CheckStopLoss(tokenID, pos.Size, pos.AvgPrice, mid, bestBid, spreadPct, params); triggered {
		r.logger.Warn("stop-loss triggered", "token", tokenID, "outcome", outcome)

		ok, err := r.orders.PlaceSell(ctx, tokenID, exitPrice, sellAmount, market.NegRisk)
		if err != nil {
			r.logger.Error("stop-loss sell failed", "token", tokenID, "error", err)
			return
		}
		if !ok {
			return
		}

		pnlPct := numeric.SafeDivide((mid-pos.AvgPrice)*100, pos.AvgPrice, 0)
		sleepTill := time.Now().UTC().Add(time.Duration(params.SleepPeriod * float64(time.Hour)))
		event := types.RiskEvent{
			EventType: "stop_loss",
			ExitPrice: exitPrice,
			PnLPct:    pnlPct,
			SleepTill: sleepTill,
		}
		if err := r.posMgr.SaveRiskEvent(market.ConditionID, event); err != nil {
			r.logger.Error("failed to save risk event", "market", market.ConditionID, "error", err)
		}
		if err := r.orders.CancelAllForMarket(ctx, market); err != nil {
			r.logger.Error("failed to cancel market orders after stop-loss", "market", market.ConditionID, "error", err)
		}
		return
	}

	tpPrice := r.risk.TakeProfitPrice(pos.AvgPrice, params, market.TickSize)
	sellPrice := tpPrice
	if bestAsk > sellPrice {
		sellPrice = bestAsk
	}
	sellPrice, _ = numeric.RoundUp(sellPrice, market.TickSize.Decimals())

	if _, err := r.orders.PlaceSell(ctx, tokenID, sellPrice, sellAmount, market.NegRisk); err != nil {
		r.logger.Error("take-profit sell failed", "token", tokenID, "error", err)
	}
}

func (r *Runner) handleBuy(ctx context.Context, tokenID string, pos types.Position, buyAmount float64, market types.Market, params types.ParamProfile, bestBid, bestAsk float64, outcome string) {
	entryCtx := riskmgr.EntryContext{
		MarketID:            market.ConditionID,
		ThreeHourVolatility: r.data.Volatility(tokenID, 3*time.Hour),
		BestBid:             bestBid,
		BestAsk:             bestAsk,
		BestBidSize:         0,
		BestAskSize:         0,
		BidSumNearBest:      0,
		AskSumNearBest:      0,
		MinLiquidity:        params.MinSize,
		MinBookRatio:        0,
	}
	entryCtx.MinLiquidity = firstNonZero(params.MinSize, 100)
	depth := r.data.Depth(tokenID, firstNonZero(params.MinSize, 10), bookDepthPctRange)
	entryCtx.BestBidSize = depth.BestBidSize
	entryCtx.BestAskSize = depth.BestAskSize
	entryCtx.BidSumNearBest = depth.BidDepth
	entryCtx.AskSumNearBest = depth.AskDepth

	if !r.risk.ShouldEnter(entryCtx, params, r.posMgr) {
		r.logger.Info("risk checks failed, not entering", "token", tokenID, "outcome", outcome)
		if err := r.orders.CancelAllForToken(ctx, tokenID); err != nil {
			r.logger.Error("failed to cancel orders after risk rejection", "token", tokenID, "error", err)
		}
		return
	}

	maxSize := firstNonZero(market.MaxSize, params.MaxSize)
	absoluteCap := 250.0
	if !r.risk.CheckPositionLimits(tokenID, pos.Size, buyAmount, maxSize, absoluteCap) {
		r.logger.Info("position limits reached", "token", tokenID, "outcome", outcome)
		return
	}

	tick := market.TickSize
	tickValue := tickSizeValue(tick)
	bidPrice := bestBid + tickValue
	mid := numeric.Mid(bestBid, bestAsk)
	bidPrice = numeric.Clamp(bidPrice, 0, mid)
	bidPrice, _ = numeric.RoundUp(bidPrice, tick.Decimals())

	if bidPrice < 0.1 || bidPrice >= 0.9 {
		r.logger.Warn("bid price outside acceptable range", "token", tokenID, "bid_price", bidPrice)
		return
	}

	if _, err := r.orders.PlaceBuy(ctx, tokenID, bidPrice, buyAmount, market.NegRisk); err != nil {
		r.logger.Error("buy order failed", "token", tokenID, "error", err)
	}
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func tickSizeValue(t types.TickSize) float64 {
	switch t {
	case types.Tick01:
		return 0.1
	case types.Tick001:
		return 0.01
	case types.Tick0001:
		return 0.001
	case types.Tick00001:
		return 0.0001
	default:
		return 0.01
	}
}
