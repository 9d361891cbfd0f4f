// Package position tracks per-token holdings, reconciles them against the
// exchange, finds and executes complementary-token merges, and persists
// risk-cooldown events to crash-safe JSON files.
package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/numeric"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

// Manager tracks positions in shared state, reconciles them against the
// exchange, and persists risk events.
type Manager struct {
	state    *state.State
	client   *exchange.Client
	dataDir  string
	fileMu   sync.Mutex // serializes risk-event file writes
	logger   *slog.Logger
	minMerge float64
}

// New builds a position manager backed by dataDir for risk-event files.
func New(st *state.State, client *exchange.Client, dataDir string, minMergeSize float64, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create positions dir: %w", err)
	}
	return &Manager{
		state:    st,
		client:   client,
		dataDir:  dataDir,
		minMerge: minMergeSize,
		logger:   logger.With("component", "position"),
	}, nil
}

// GetPosition returns the current tracked position for a token, or the
// zero position if none is tracked yet.
func (m *Manager) GetPosition(tokenID string) types.Position {
	return m.state.GetPosition(tokenID)
}

// UpdatePosition applies a fill to the tracked position: BUY extends the
// position with a size-weighted average price; SELL reduces size and
// resets the average price to zero once the position is fully closed.
func (m *Manager) UpdatePosition(tokenID string, side types.Side, size, price float64) types.Position {
	current := m.state.GetPosition(tokenID)

	var next types.Position
	switch side {
	case types.BUY:
		newSize := current.Size + size
		var newAvg float64
		if newSize > 0 {
			newAvg = ((current.Size * current.AvgPrice) + (size * price)) / newSize
		} else {
			newAvg = price
		}
		down, _ := numeric.RoundDown(newSize, 2)
		next = types.Position{Size: down, AvgPrice: round4(newAvg)}
	case types.SELL:
		newSize := current.Size - size
		if newSize < 0 {
			newSize = 0
		}
		avg := current.AvgPrice
		if newSize == 0 {
			avg = 0
		}
		down, _ := numeric.RoundDown(newSize, 2)
		next = types.Position{Size: down, AvgPrice: round4(avg)}
	default:
		return current
	}

	m.state.SetPosition(tokenID, next)
	m.logger.Info("position updated", "token", tokenID, "side", side, "size", size, "price", price, "new_size", next.Size, "new_avg", next.AvgPrice)
	return next
}

// round4 quantizes an average price to its 4-decimal unit using exact
// decimal arithmetic, since a float round-trip through 10^4 can land a
// half-way value (e.g. 0.43335) on the wrong side of the boundary.
func round4(v float64) float64 {
	r, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return r
}

// ReconcilePositions refreshes tracked positions from the exchange's
// on-chain view. When avgOnly is true, only the average price of
// already-tracked tokens is refreshed from the exchange's own tracked
// average entry price; sizes are left to local fill tracking (used for
// the frequent 5s cadence, where local state is more current than an
// on-chain read). When avgOnly is false, both size and average price are
// replaced from the exchange (used on startup, where local state starts
// empty).
func (m *Manager) ReconcilePositions(ctx context.Context, tokenIDs []string, avgOnly bool) error {
	if len(tokenIDs) == 0 {
		return nil
	}

	onchain, err := m.client.GetPositions(ctx, tokenIDs)
	if err != nil {
		return fmt.Errorf("fetch on-chain positions: %w", err)
	}

	for tokenID, pos := range onchain {
		if avgOnly {
			current, tracked := m.hasPosition(tokenID)
			if !tracked {
				continue
			}
			current.AvgPrice = round4(pos.AvgPrice)
			m.state.SetPosition(tokenID, current)
			continue
		}

		size := baseUnitsToFloat(pos.Size)
		down, _ := numeric.RoundDown(size, 2)
		m.state.SetPosition(tokenID, types.Position{Size: down, AvgPrice: round4(pos.AvgPrice)})
	}

	return nil
}

func (m *Manager) hasPosition(tokenID string) (types.Position, bool) {
	for id, pos := range m.state.AllPositions() {
		if id == tokenID {
			return pos, true
		}
	}
	return types.Position{}, false
}

func baseUnitsToFloat(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, big.NewFloat(1e6))
	v, _ := f.Float64()
	return v
}

// CheckMergeOpportunity returns the two complementary tokens for a market
// and the mergeable amount (min of both token sizes), or ok=false if no
// merge above the configured minimum exists.
func (m *Manager) CheckMergeOpportunity(market types.Market) (token1, token2 string, amount float64, ok bool) {
	if market.Token1 == "" || market.Token2 == "" {
		return "", "", 0, false
	}

	pos1 := m.state.GetPosition(market.Token1)
	pos2 := m.state.GetPosition(market.Token2)

	mergeable := pos1.Size
	if pos2.Size < mergeable {
		mergeable = pos2.Size
	}

	if mergeable <= m.minMerge {
		return "", "", 0, false
	}
	return market.Token1, market.Token2, mergeable, true
}

// MergePositions recalculates the mergeable amount from exact on-chain
// balances, executes the merge, and if successful subtracts the merged
// amount from both tracked positions.
func (m *Manager) MergePositions(ctx context.Context, market types.Market) (bool, error) {
	token1, token2, _, ok := m.CheckMergeOpportunity(market)
	if !ok {
		return false, nil
	}

	onchain, err := m.client.GetPositions(ctx, []string{token1, token2})
	if err != nil {
		return false, fmt.Errorf("fetch on-chain positions for merge: %w", err)
	}

	pos1, ok1 := onchain[token1]
	pos2, ok2 := onchain[token2]
	if !ok1 || !ok2 || pos1.Size == nil || pos2.Size == nil {
		m.logger.Warn("could not get on-chain positions for merge", "token1", token1, "token2", token2)
		return false, nil
	}

	mergeAmount := pos1.Size
	if pos2.Size.Cmp(pos1.Size) < 0 {
		mergeAmount = pos2.Size
	}

	minMergeBaseUnits := big.NewInt(int64(m.minMerge * 1e6))
	if mergeAmount.Cmp(minMergeBaseUnits) < 0 {
		return false, nil
	}

	m.logger.Info("merging positions", "market", market.ConditionID, "amount", baseUnitsToFloat(mergeAmount))

	if err := m.client.MergePositions(ctx, mergeAmount, market.ConditionID, market.NegRisk); err != nil {
		return false, fmt.Errorf("merge positions: %w", err)
	}

	scaledAmount := baseUnitsToFloat(mergeAmount)
	m.UpdatePosition(token1, types.SELL, scaledAmount, 0)
	m.UpdatePosition(token2, types.SELL, scaledAmount, 0)

	m.logger.Info("merge succeeded", "market", market.ConditionID, "amount", scaledAmount)
	return true, nil
}

func (m *Manager) riskEventPath(marketID string) string {
	return filepath.Join(m.dataDir, marketID+".json")
}

// SaveRiskEvent atomically persists a cooldown record for a market.
func (m *Manager) SaveRiskEvent(marketID string, event types.RiskEvent) error {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	event.Time = time.Now().UTC()
	event.MarketID = marketID

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal risk event: %w", err)
	}

	path := m.riskEventPath(marketID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write risk event: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadRiskEvent returns the most recent risk event for a market, or
// nil, nil if none has been recorded.
func (m *Manager) LoadRiskEvent(marketID string) (*types.RiskEvent, error) {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	data, err := os.ReadFile(m.riskEventPath(marketID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read risk event: %w", err)
	}

	var event types.RiskEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal risk event: %w", err)
	}
	return &event, nil
}

// ClearRiskEvent removes a market's cooldown record, if any.
func (m *Manager) ClearRiskEvent(marketID string) error {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	err := os.Remove(m.riskEventPath(marketID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove risk event: %w", err)
	}
	return nil
}

// TotalExposure sums size*avgPrice across every tracked position.
func (m *Manager) TotalExposure() float64 {
	var total float64
	for _, pos := range m.state.AllPositions() {
		if pos.Size > 0 && pos.AvgPrice > 0 {
			total += pos.Size * pos.AvgPrice
		}
	}
	r, _ := numeric.RoundDown(total, 2)
	return r
}
