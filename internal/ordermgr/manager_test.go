package ordermgr

import (
	"log/slog"
	"os"
	"testing"

	"polymarket-mm/internal/state"
	"polymarket-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// S4: existing {100, 0.42}, request 101@0.424 -> no call, returns false.
func TestShouldUpdateSkipsInsignificantChurn(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.SetOrder("tok1", types.BUY, types.Order{Size: 100, Price: 0.42})
	mgr := New(st, nil, testLogger())

	if mgr.ShouldUpdate("tok1", types.BUY, 0.424, 101) {
		t.Error("ShouldUpdate() = true, want false for an insignificant change")
	}
}

func TestShouldUpdateTrueWhenNoExistingOrder(t *testing.T) {
	t.Parallel()

	st := state.New()
	mgr := New(st, nil, testLogger())

	if !mgr.ShouldUpdate("tok1", types.BUY, 0.5, 10) {
		t.Error("ShouldUpdate() = false, want true when there is no resting order")
	}
}

func TestShouldUpdateTrueOnPriceMove(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.SetOrder("tok1", types.BUY, types.Order{Size: 100, Price: 0.42})
	mgr := New(st, nil, testLogger())

	if !mgr.ShouldUpdate("tok1", types.BUY, 0.43, 100) {
		t.Error("ShouldUpdate() = false, want true for a 0.01 price move (> 0.005 threshold)")
	}
}

func TestShouldUpdateTrueOnSizeMove(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.SetOrder("tok1", types.SELL, types.Order{Size: 100, Price: 0.5})
	mgr := New(st, nil, testLogger())

	// size diff 20 > 10% of 120 (=12)
	if !mgr.ShouldUpdate("tok1", types.SELL, 0.5, 120) {
		t.Error("ShouldUpdate() = false, want true for a size move exceeding 10% of the new size")
	}
}

func TestShouldUpdateFalseOnSmallSizeMove(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.SetOrder("tok1", types.SELL, types.Order{Size: 100, Price: 0.5})
	mgr := New(st, nil, testLogger())

	// size diff 2 < 10% of 102 (=10.2)
	if mgr.ShouldUpdate("tok1", types.SELL, 0.5, 102) {
		t.Error("ShouldUpdate() = true, want false for a small size move")
	}
}
