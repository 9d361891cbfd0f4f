// Package exchange implements the thin wrapper over the CLOB REST API that
// the strategy layer is built against: createOrder / cancelOrder /
// cancelByAsset / getOrders / getPositions / getOrderBook / mergePositions.
// It normalizes units (human float <-> base-1e6), enforces price/size
// bounds client-side before a mutating call ever leaves the process, and
// tags in-flight operations in shared state for every mutating call.
//
// Every REST call except CancelAll and DeriveAPIKey is wrapped twice:
// resty's own 5xx retry at the transport layer, and internal/retryx's
// bounded-attempt wrapper above it for calls that fail after resty's
// retries are exhausted. CancelAll and DeriveAPIKey rely on resty's retry
// only.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/numeric"
	"polymarket-mm/internal/retryx"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

// Client is the Polymarket CLOB REST API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
	state  *state.State
	retry  retryx.Config
}

// OpenOrder is one resting order as reported by the exchange.
type OpenOrder struct {
	OrderID string
	TokenID string
	Side    types.Side
	Price   float64
	Size    float64
}

// Position is one token's on-chain holding as reported by the exchange:
// size in base units (x1e6) plus the exchange's own tracked average entry
// price, which is the source of truth for reconciliation since local fill
// tracking never sees internal netting or liquidation adjustments.
type Position struct {
	Size     *big.Int
	AvgPrice float64
}

// wire-format structs for REST payloads. These are transport details, not
// shared domain vocabulary, so they live here rather than in pkg/types.

type orderPayload struct {
	TokenID       string `json:"tokenId"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Owner         string `json:"owner"`
}

type orderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg"`
}

type cancelResponse struct {
	Canceled []string `json:"canceled"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type rawOpenOrder struct {
	OrderID string `json:"id"`
	TokenID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"original_size"`
}

// NewClient builds a REST client with rate limiting, transport retry, and a
// retryx wrapper for each mutating call.
func NewClient(cfg config.Config, auth *Auth, st *state.State, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.ExchangeBaseURL).
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
		logger: logger,
		state:  st,
		retry:  retryx.DefaultConfig(),
	}
}

// GetOrderBook fetches {bids, asks} for one token, or empty lists on failure
// (never returns an error to the caller — a failed REST call after max
// attempts is absorbed here per the transient-network-error policy).
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) types.OrderBook {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.OrderBook{Timestamp: time.Now()}
	}

	resp, err := retryx.DoValue(ctx, c.retry, c.logger, func() (*bookResponse, error) {
		var result bookResponse
		r, err := c.http.R().SetContext(ctx).SetQueryParam("token_id", tokenID).SetResult(&result).Get("/book")
		if err != nil {
			return nil, fmt.Errorf("get book: %w", err)
		}
		if r.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get book: status %d", r.StatusCode())
		}
		return &result, nil
	})
	if err != nil {
		c.logger.Error("get order book failed, returning empty book", "token", tokenID, "error", err)
		return types.OrderBook{Timestamp: time.Now()}
	}

	bids, asks := parseLevels(resp.Bids), parseLevels(resp.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return types.OrderBook{
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	}
}

func parseLevels(levels []bookLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		var price, size float64
		fmt.Sscanf(l.Price, "%f", &price)
		fmt.Sscanf(l.Size, "%f", &size)
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// CreateOrder validates side/price/size bounds, quantizes, marks (token,
// side) in-flight before the call and clears it on every exit path, then
// places the order. Validation failures return (nil, nil) with a warning —
// no exception escapes to the caller.
func (c *Client) CreateOrder(ctx context.Context, tokenID string, side types.Side, price, size float64, negRisk bool) (*types.ExchangeOrderResult, error) {
	if side != types.BUY && side != types.SELL {
		c.logger.Warn("create order rejected: invalid side", "token", tokenID, "side", side)
		return nil, nil
	}
	if price < 0.01 || price > 0.99 {
		c.logger.Warn("create order rejected: price out of band", "token", tokenID, "price", price)
		return nil, nil
	}
	if size < 1.0 {
		c.logger.Warn("create order rejected: size too small", "token", tokenID, "size", size)
		return nil, nil
	}

	price, _ = numeric.Round(price, 4)
	size, _ = numeric.RoundDown(size, 2)

	kind := state.InFlightBuy
	if side == types.SELL {
		kind = state.InFlightSell
	}
	c.state.MarkInflight(tokenID, kind)
	defer c.state.ClearInflight(tokenID, kind)

	if c.dryRun {
		c.logger.Info("DRY-RUN: would create order", "token", tokenID, "side", side, "price", price, "size", size)
		return &types.ExchangeOrderResult{OrderID: "dry-run", Success: true}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := orderPayload{
		TokenID:       tokenID,
		Maker:         c.auth.FunderAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		Side:          string(side),
		SignatureType: int(c.auth.sigType),
		Owner:         c.auth.creds.ApiKey,
	}
	payload.MakerAmount, payload.TakerAmount = baseUnitAmounts(price, size, side)

	result, err := retryx.DoValue(ctx, c.retry, c.logger, func() (*orderResponse, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal order: %w", err)
		}
		headers, err := c.auth.L2Headers("POST", "/order", string(body))
		if err != nil {
			return nil, fmt.Errorf("l2 headers: %w", err)
		}
		var resp orderResponse
		r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(payload).SetResult(&resp).Post("/order")
		if err != nil {
			return nil, fmt.Errorf("post order: %w", err)
		}
		if r.StatusCode() != http.StatusOK || !resp.Success {
			return nil, fmt.Errorf("post order: status %d: %s", r.StatusCode(), resp.Error)
		}
		return &resp, nil
	})
	if err != nil {
		c.logger.Error("create order failed", "token", tokenID, "error", err)
		return nil, nil
	}

	return &types.ExchangeOrderResult{OrderID: result.OrderID, Success: true}, nil
}

// CancelByAsset lists open orders for token and cancels each, tagging the
// cancel in-flight set for the duration.
func (c *Client) CancelByAsset(ctx context.Context, tokenID string) error {
	c.state.MarkInflight(tokenID, state.InFlightCancel)
	defer c.state.ClearInflight(tokenID, state.InFlightCancel)

	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders for asset", "token", tokenID)
		return nil
	}

	orders, err := c.GetOrders(ctx, tokenID)
	if err != nil {
		c.logger.Error("cancel by asset: list orders failed", "token", tokenID, "error", err)
		return nil
	}
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	return c.cancelOrderIDs(ctx, ids)
}

func (c *Client) cancelOrderIDs(ctx context.Context, orderIDs []string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	_, err := retryx.DoValue(ctx, c.retry, c.logger, func() (*cancelResponse, error) {
		payload := struct {
			OrderIDs []string `json:"orderIDs"`
		}{OrderIDs: orderIDs}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal cancel: %w", err)
		}
		headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
		if err != nil {
			return nil, fmt.Errorf("l2 headers: %w", err)
		}
		var resp cancelResponse
		r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(json.RawMessage(body)).SetResult(&resp).Delete("/orders")
		if err != nil {
			return nil, fmt.Errorf("cancel orders: %w", err)
		}
		if r.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("cancel orders: status %d", r.StatusCode())
		}
		return &resp, nil
	})
	if err != nil {
		c.logger.Error("cancel orders failed", "error", err)
		return nil
	}
	return nil
}

// CancelMarketOrders cancels every order for a market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	_, err := retryx.DoValue(ctx, c.retry, c.logger, func() (*cancelResponse, error) {
		body := fmt.Sprintf(`{"market":"%s"}`, conditionID)
		headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
		if err != nil {
			return nil, fmt.Errorf("l2 headers: %w", err)
		}
		var resp cancelResponse
		r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(json.RawMessage(body)).SetResult(&resp).Delete("/cancel-market-orders")
		if err != nil {
			return nil, fmt.Errorf("cancel market orders: %w", err)
		}
		if r.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("cancel market orders: status %d", r.StatusCode())
		}
		return &resp, nil
	})
	if err != nil {
		c.logger.Error("cancel market orders failed", "market", conditionID, "error", err)
	}
	return nil
}

// CancelAll cancels every open order across all markets — the safety-net
// call used on shutdown and on a global kill signal.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}
	var resp cancelResponse
	r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&resp).Delete("/cancel-all")
	if err != nil {
		c.logger.Error("cancel all failed", "error", err)
		return nil
	}
	if r.StatusCode() != http.StatusOK {
		c.logger.Error("cancel all failed", "status", r.StatusCode())
		return nil
	}
	c.logger.Warn("all orders cancelled", "count", len(resp.Canceled))
	return nil
}

// GetOrders returns open orders, filtered by tokenID when non-empty.
func (c *Client) GetOrders(ctx context.Context, tokenID string) ([]OpenOrder, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := retryx.DoValue(ctx, c.retry, c.logger, func() ([]rawOpenOrder, error) {
		req := c.http.R().SetContext(ctx)
		headers, err := c.auth.L2Headers("GET", "/orders", "")
		if err != nil {
			return nil, fmt.Errorf("l2 headers: %w", err)
		}
		req = req.SetHeaders(headers)
		if tokenID != "" {
			req = req.SetQueryParam("asset_id", tokenID)
		}
		var result []rawOpenOrder
		r, err := req.SetResult(&result).Get("/orders")
		if err != nil {
			return nil, fmt.Errorf("get orders: %w", err)
		}
		if r.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get orders: status %d", r.StatusCode())
		}
		return result, nil
	})
	if err != nil {
		c.logger.Error("get orders failed", "token", tokenID, "error", err)
		return nil, nil
	}

	out := make([]OpenOrder, 0, len(raw))
	for _, o := range raw {
		var price, size float64
		fmt.Sscanf(o.Price, "%f", &price)
		fmt.Sscanf(o.Size, "%f", &size)
		out = append(out, OpenOrder{OrderID: o.OrderID, TokenID: o.TokenID, Side: types.Side(o.Side), Price: price, Size: size})
	}
	return out, nil
}

// GetPositions returns on-chain position size (base units, x1e6) and
// average entry price for the given tokens.
func (c *Client) GetPositions(ctx context.Context, tokenIDs []string) (map[string]Position, error) {
	out := make(map[string]Position, len(tokenIDs))
	for _, tokenID := range tokenIDs {
		pos, err := retryx.DoValue(ctx, c.retry, c.logger, func() (Position, error) {
			headers, err := c.auth.L2Headers("GET", "/positions", "")
			if err != nil {
				return Position{}, fmt.Errorf("l2 headers: %w", err)
			}
			var result struct {
				Size          string  `json:"size"`
				AvgEntryPrice float64 `json:"avg_entry_price"`
			}
			r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetQueryParam("asset_id", tokenID).SetResult(&result).Get("/positions")
			if err != nil {
				return Position{}, fmt.Errorf("get positions: %w", err)
			}
			if r.StatusCode() != http.StatusOK {
				return Position{}, fmt.Errorf("get positions: status %d", r.StatusCode())
			}
			n, ok := new(big.Int).SetString(result.Size, 10)
			if !ok {
				n = big.NewInt(0)
			}
			return Position{Size: n, AvgPrice: result.AvgEntryPrice}, nil
		})
		if err != nil {
			c.logger.Error("get position failed", "token", tokenID, "error", err)
			out[tokenID] = Position{Size: big.NewInt(0)}
			continue
		}
		out[tokenID] = pos
	}
	return out, nil
}

// MergePositions forwards a merge request. amount is in base units.
func (c *Client) MergePositions(ctx context.Context, amount *big.Int, conditionID string, negRisk bool) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would merge positions", "market", conditionID, "amount", amount)
		return nil
	}

	_, err := retryx.DoValue(ctx, c.retry, c.logger, func() (struct{}, error) {
		body := fmt.Sprintf(`{"conditionId":"%s","amount":"%s","negRisk":%v}`, conditionID, amount.String(), negRisk)
		headers, err := c.auth.L2Headers("POST", "/merge", body)
		if err != nil {
			return struct{}{}, fmt.Errorf("l2 headers: %w", err)
		}
		r, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetBody(json.RawMessage(body)).Post("/merge")
		if err != nil {
			return struct{}{}, fmt.Errorf("merge positions: %w", err)
		}
		if r.StatusCode() != http.StatusOK {
			return struct{}{}, fmt.Errorf("merge positions: status %d", r.StatusCode())
		}
		return struct{}{}, nil
	})
	if err != nil {
		c.logger.Error("merge positions failed", "market", conditionID, "error", err)
		return err
	}
	return nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().SetContext(ctx).SetHeaders(headers).SetResult(&result).Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

func baseUnitAmounts(price, size float64, side types.Side) (maker, taker string) {
	scale := big.NewFloat(1e6)
	sizeF := big.NewFloat(size)
	switch side {
	case types.BUY:
		cost := new(big.Float).Mul(big.NewFloat(price), sizeF)
		makerAmt, _ := new(big.Float).Mul(cost, scale).Int(nil)
		takerAmt, _ := new(big.Float).Mul(sizeF, scale).Int(nil)
		return makerAmt.String(), takerAmt.String()
	default: // SELL
		revenue := new(big.Float).Mul(big.NewFloat(price), sizeF)
		makerAmt, _ := new(big.Float).Mul(sizeF, scale).Int(nil)
		takerAmt, _ := new(big.Float).Mul(revenue, scale).Int(nil)
		return makerAmt.String(), takerAmt.String()
	}
}
