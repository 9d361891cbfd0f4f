// Package types defines the shared data structures used across all packages:
// order types, market/parameter metadata, order book snapshots, and the
// WebSocket event payloads. It has no dependencies on internal packages, so
// it can be imported by any layer.
package types

import "time"

// Side represents the direction of an order.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0
	SigProxy      SignatureType = 1
	SigGnosisSafe SignatureType = 2
)

// TickSize is the minimum price increment for a market.
type TickSize string

const (
	Tick01    TickSize = "0.1"
	Tick001   TickSize = "0.01"
	Tick0001  TickSize = "0.001"
	Tick00001 TickSize = "0.0001"
)

// Decimals returns the number of decimal places implied by the tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// Market is a single binary-outcome prediction market: two tokens, exactly
// one of which pays $1 at resolution.
type Market struct {
	ConditionID string
	Token1      string // YES
	Token2      string // NO
	Question    string
	Answer1     string
	Answer2     string
	Enabled     bool
	ParamType   string // name of the parameter profile this market uses
	NegRisk     bool
	TickSize    TickSize

	// Per-market overrides; zero value means "use the parameter profile's".
	MinSize   float64
	TradeSize float64
	MaxSize   float64
	MaxSpread float64 // percentage points, e.g. 5.0 means 5%

	// Stat columns of the market's config-source row; the bot does not
	// write them back.
	ThreeHour float64
	BestBid   float64
	BestAsk   float64
}

// OtherToken returns the market's other token id given one of its two.
func (m Market) OtherToken(token string) (string, bool) {
	switch token {
	case m.Token1:
		return m.Token2, true
	case m.Token2:
		return m.Token1, true
	default:
		return "", false
	}
}

// ParamProfile is a named bundle of risk/sizing thresholds. Markets
// reference one by name (ParamType).
type ParamProfile struct {
	Name                string
	TradeSize           float64
	MaxSize             float64
	MinSize             float64
	MaxSpread           float64 // percentage points
	StopLossThreshold   float64 // negative percent, e.g. -2.0
	TakeProfitThreshold float64 // positive percent, e.g. 1.0
	VolatilityThreshold float64 // percent
	SpreadThreshold     float64 // percentage points
	SleepPeriod         float64 // hours
}

// CatalogMarket is a row from the "All Markets" worksheet: informational,
// not traded directly, used to populate candidates for "Selected Markets".
type CatalogMarket struct {
	ConditionID string
	Question    string
	Token1      string
	Token2      string
	Answer1     string
	Answer2     string
	NegRisk     bool
	Volume      float64
	Liquidity   float64
	EndDate     time.Time
	Active      bool
}

// Position is a per-token holding. Long-only: a short YES is modeled as a
// long NO.
type Position struct {
	Size     float64 // 2-decimal quantum
	AvgPrice float64 // 4-decimal quantum
}

// Order is a resting order on one (token, side).
type Order struct {
	Size  float64
	Price float64
}

// PriceLevel is one (price, size) rung of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a per-token snapshot: descending bids, ascending asks.
type OrderBook struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBidAsk returns the top of book, or ok=false if either side is empty.
func (b OrderBook) BestBidAsk() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// PricePoint is one timestamped mid-price sample.
type PricePoint struct {
	Price     float64
	Timestamp time.Time
}

// Trade is one timestamped execution.
type Trade struct {
	Price     float64
	Size      float64
	Side      Side
	Timestamp time.Time
}

// ExchangeOrderResult is what the exchange-client wrapper returns for a
// create call.
type ExchangeOrderResult struct {
	OrderID string
	Success bool
}

// RiskEvent is the persisted "is this market cooling down" record.
type RiskEvent struct {
	Time      time.Time `json:"time"`
	EventType string    `json:"event_type"`
	ExitPrice float64   `json:"exit_price,omitempty"`
	PnLPct    float64   `json:"pnl_pct,omitempty"`
	SleepTill time.Time `json:"sleep_till"`
	MarketID  string    `json:"market_id,omitempty"`
}

// WSBookEvent is an inbound market-stream book update.
type WSBookEvent struct {
	Type   string       `json:"type"`
	Market string       `json:"market"`
	Bids   []WSLevelRaw `json:"bids"`
	Asks   []WSLevelRaw `json:"asks"`
}

// WSLevelRaw is a string-typed price level as it arrives over the wire.
type WSLevelRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSTradeEvent is an inbound market-stream trade record.
type WSTradeEvent struct {
	Type   string `json:"type"`
	Market string `json:"market"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   Side   `json:"side"`
}

// WSFillEvent is an inbound user-stream fill notification.
type WSFillEvent struct {
	Type   string `json:"type"`
	Market string `json:"market"` // condition id
	Token  string `json:"asset_id"`
	Side   Side   `json:"side"`
	Price  string `json:"price"`
	Size   string `json:"size"`
}

// WSOrderEvent is an inbound user-stream resting-order update.
type WSOrderEvent struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Market  string `json:"market"`
	Token   string `json:"asset_id"`
	Side    Side   `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// WSCancelEvent is an inbound user-stream cancel notification.
type WSCancelEvent struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Token   string `json:"asset_id"`
	Side    Side   `json:"side"`
}

// WSSubscribe is the outbound subscribe frame shared by both streams.
type WSSubscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Market  string `json:"market,omitempty"`
}
