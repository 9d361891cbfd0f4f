package position

import (
	"log/slog"
	"os"
	"testing"

	"polymarket-mm/internal/exchange"
	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st := state.New()
	m, err := New(st, &exchange.Client{}, t.TempDir(), 1.0, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// S1: BUY 10@0.40, BUY 5@0.50 -> {size:15.00, avg:0.4333}.
func TestUpdatePositionWeightedAverageOnBuy(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tok1", types.BUY, 10, 0.40)
	got := m.UpdatePosition("tok1", types.BUY, 5, 0.50)

	if got.Size != 15.00 {
		t.Errorf("Size = %v, want 15.00", got.Size)
	}
	if got.AvgPrice < 0.4332 || got.AvgPrice > 0.4334 {
		t.Errorf("AvgPrice = %v, want ~0.4333", got.AvgPrice)
	}
}

// S2: from {15, 0.4333}, SELL 5@0.60 -> {10, 0.4333}; SELL 10@0.70 -> {0, 0}.
func TestUpdatePositionSellPreservesAvgUntilClosed(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tok1", types.BUY, 10, 0.40)
	m.UpdatePosition("tok1", types.BUY, 5, 0.50)

	afterFirstSell := m.UpdatePosition("tok1", types.SELL, 5, 0.60)
	if afterFirstSell.Size != 10.00 {
		t.Errorf("Size after partial sell = %v, want 10.00", afterFirstSell.Size)
	}
	if afterFirstSell.AvgPrice < 0.4332 || afterFirstSell.AvgPrice > 0.4334 {
		t.Errorf("AvgPrice after partial sell = %v, want ~0.4333 (unchanged)", afterFirstSell.AvgPrice)
	}

	afterFullSell := m.UpdatePosition("tok1", types.SELL, 10, 0.70)
	if afterFullSell.Size != 0 {
		t.Errorf("Size after full sell = %v, want 0", afterFullSell.Size)
	}
	if afterFullSell.AvgPrice != 0 {
		t.Errorf("AvgPrice after full sell = %v, want 0", afterFullSell.AvgPrice)
	}
}

func TestUpdatePositionSellPastZeroClamps(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tok1", types.BUY, 5, 0.5)
	got := m.UpdatePosition("tok1", types.SELL, 10, 0.5)
	if got.Size != 0 {
		t.Errorf("Size = %v, want 0 (clamped, not negative)", got.Size)
	}
}

// S5: token A {50}, token B {30}, MIN_MERGE_SIZE=1 -> mergeable amount 30.
func TestCheckMergeOpportunity(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tokA", types.BUY, 50, 0.4)
	m.UpdatePosition("tokB", types.BUY, 30, 0.4)

	market := types.Market{ConditionID: "cond1", Token1: "tokA", Token2: "tokB"}
	t1, t2, amount, ok := m.CheckMergeOpportunity(market)
	if !ok {
		t.Fatal("expected a merge opportunity")
	}
	if t1 != "tokA" || t2 != "tokB" {
		t.Errorf("tokens = (%s, %s), want (tokA, tokB)", t1, t2)
	}
	if amount != 30 {
		t.Errorf("amount = %v, want 30", amount)
	}
}

func TestCheckMergeOpportunityBelowMinimum(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tokA", types.BUY, 0.5, 0.4)
	m.UpdatePosition("tokB", types.BUY, 0.5, 0.4)

	market := types.Market{ConditionID: "cond1", Token1: "tokA", Token2: "tokB"}
	if _, _, _, ok := m.CheckMergeOpportunity(market); ok {
		t.Error("expected no merge opportunity below the minimum")
	}
}

func TestSaveLoadClearRiskEvent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	event := types.RiskEvent{EventType: "stop_loss", ExitPrice: 0.48, PnLPct: -4.0}
	if err := m.SaveRiskEvent("market1", event); err != nil {
		t.Fatalf("SaveRiskEvent: %v", err)
	}

	loaded, err := m.LoadRiskEvent("market1")
	if err != nil {
		t.Fatalf("LoadRiskEvent: %v", err)
	}
	if loaded == nil || loaded.EventType != "stop_loss" || loaded.ExitPrice != 0.48 {
		t.Fatalf("LoadRiskEvent() = %+v, want stop_loss @ 0.48", loaded)
	}

	if err := m.ClearRiskEvent("market1"); err != nil {
		t.Fatalf("ClearRiskEvent: %v", err)
	}
	loaded, err = m.LoadRiskEvent("market1")
	if err != nil {
		t.Fatalf("LoadRiskEvent after clear: %v", err)
	}
	if loaded != nil {
		t.Errorf("LoadRiskEvent after clear = %+v, want nil", loaded)
	}
}

func TestLoadRiskEventMissingReturnsNil(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	loaded, err := m.LoadRiskEvent("never-saved")
	if err != nil {
		t.Fatalf("LoadRiskEvent: %v", err)
	}
	if loaded != nil {
		t.Errorf("LoadRiskEvent(never-saved) = %+v, want nil", loaded)
	}
}

func TestTotalExposureSumsLongPositions(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	m.UpdatePosition("tokA", types.BUY, 10, 0.5)
	m.UpdatePosition("tokB", types.BUY, 20, 0.25)

	got := m.TotalExposure()
	if got != 10.0 {
		t.Errorf("TotalExposure() = %v, want 10.0 (10*0.5 + 20*0.25)", got)
	}
}
