package marketdata

import (
	"testing"
	"time"

	"polymarket-mm/pkg/types"
)

func TestApplyBookAndBestBidAsk(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{
		Market: "tok1",
		Bids:   []types.WSLevelRaw{{Price: "0.45", Size: "100"}},
		Asks:   []types.WSLevelRaw{{Price: "0.47", Size: "80"}},
	})

	bid, ask, ok := s.BestBidAsk("tok1")
	if !ok || bid != 0.45 || ask != 0.47 {
		t.Fatalf("BestBidAsk() = (%v, %v, %v), want (0.45, 0.47, true)", bid, ask, ok)
	}

	depth := s.Depth("tok1", 10, 0.1)
	if depth.BestBidSize != 100 || depth.BestAskSize != 80 {
		t.Errorf("Depth() best sizes = (%v, %v), want (100, 80)", depth.BestBidSize, depth.BestAskSize)
	}
	if depth.BidDepth != 100 || depth.AskDepth != 80 {
		t.Errorf("Depth() sums = (%v, %v), want (100, 80)", depth.BidDepth, depth.AskDepth)
	}
	if depth.Ratio != 1.25 {
		t.Errorf("Depth().Ratio = %v, want 1.25 (100/80)", depth.Ratio)
	}
}

func TestDepthWindowsByMinSizeAndPctRange(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{
		Market: "tok1",
		Bids: []types.WSLevelRaw{
			{Price: "0.50", Size: "100"},
			{Price: "0.46", Size: "200"}, // outside a 5% band below 0.50 (threshold 0.475)
			{Price: "0.49", Size: "5"},   // inside the band but below minSize
		},
		Asks: []types.WSLevelRaw{
			{Price: "0.52", Size: "50"},
		},
	})

	depth := s.Depth("tok1", 10, 0.05)
	if depth.BidDepth != 100 {
		t.Errorf("BidDepth = %v, want 100 (only the best level qualifies)", depth.BidDepth)
	}
	if depth.AskDepth != 50 {
		t.Errorf("AskDepth = %v, want 50", depth.AskDepth)
	}
}

func TestDepthUnknownTokenReturnsZeroValue(t *testing.T) {
	t.Parallel()

	s := New()
	depth := s.Depth("missing", 10, 0.1)
	if depth != (DepthResult{}) {
		t.Errorf("Depth(missing) = %+v, want zero value", depth)
	}
}

func TestDepthRatioZeroWhenAskDepthZero(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{
		Market: "tok1",
		Bids:   []types.WSLevelRaw{{Price: "0.50", Size: "100"}},
		Asks:   []types.WSLevelRaw{{Price: "0.52", Size: "1"}},
	})

	depth := s.Depth("tok1", 10, 0.1)
	if depth.AskDepth != 0 {
		t.Fatalf("AskDepth = %v, want 0 (the only ask level is below minSize)", depth.AskDepth)
	}
	if depth.Ratio != 0 {
		t.Errorf("Ratio = %v, want 0 when AskDepth is 0", depth.Ratio)
	}
}

func TestBestBidAskUnknownToken(t *testing.T) {
	t.Parallel()

	s := New()
	if _, _, ok := s.BestBidAsk("missing"); ok {
		t.Error("BestBidAsk(missing) ok = true, want false")
	}
}

func TestVolatilityZeroBelowMinimumSamples(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{
		Market: "tok1",
		Bids:   []types.WSLevelRaw{{Price: "0.50", Size: "10"}},
		Asks:   []types.WSLevelRaw{{Price: "0.50", Size: "10"}},
	})
	if v := s.Volatility("tok1", time.Hour); v != 0 {
		t.Errorf("Volatility() with one sample = %v, want 0", v)
	}
}

func TestVolatilityNonZeroWithVaryingPrices(t *testing.T) {
	t.Parallel()

	s := New()
	for _, mid := range []string{"0.40", "0.50", "0.60", "0.50", "0.40", "0.50", "0.60", "0.50", "0.40", "0.50"} {
		s.ApplyBook(types.WSBookEvent{
			Market: "tok1",
			Bids:   []types.WSLevelRaw{{Price: mid, Size: "10"}},
			Asks:   []types.WSLevelRaw{{Price: mid, Size: "10"}},
		})
	}
	if v := s.Volatility("tok1", time.Hour); v <= 0 {
		t.Errorf("Volatility() = %v, want > 0", v)
	}
}

func TestPriceChangeReflectsFirstAndLastSample(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{Market: "tok1", Bids: []types.WSLevelRaw{{Price: "0.40", Size: "1"}}, Asks: []types.WSLevelRaw{{Price: "0.40", Size: "1"}}})
	s.ApplyBook(types.WSBookEvent{Market: "tok1", Bids: []types.WSLevelRaw{{Price: "0.44", Size: "1"}}, Asks: []types.WSLevelRaw{{Price: "0.44", Size: "1"}}})

	pct := s.PriceChange("tok1", time.Hour)
	if pct <= 0 {
		t.Errorf("PriceChange() = %v, want > 0 for a rising mid price", pct)
	}
}

func TestVWAPWeightsByTradeSize(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyTrade(types.WSTradeEvent{Market: "tok1", Price: "0.40", Size: "10", Side: types.BUY})
	s.ApplyTrade(types.WSTradeEvent{Market: "tok1", Price: "0.60", Size: "30", Side: types.SELL})

	// weighted: (0.40*10 + 0.60*30) / 40 = 0.55
	got := s.VWAP("tok1", time.Hour)
	if got < 0.549 || got > 0.551 {
		t.Errorf("VWAP() = %v, want ~0.55", got)
	}
}

func TestVWAPNoTradesReturnsZero(t *testing.T) {
	t.Parallel()

	s := New()
	if got := s.VWAP("unknown", time.Hour); got != 0 {
		t.Errorf("VWAP() with no trades = %v, want 0", got)
	}
}

func TestIsFreshAndClearStale(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyBook(types.WSBookEvent{Market: "tok1", Bids: []types.WSLevelRaw{{Price: "0.5", Size: "1"}}, Asks: []types.WSLevelRaw{{Price: "0.5", Size: "1"}}})

	if !s.IsFresh("tok1", time.Minute) {
		t.Error("IsFresh() = false, want true immediately after an update")
	}
	if s.IsFresh("missing", time.Minute) {
		t.Error("IsFresh(missing) = true, want false")
	}

	s.tokens["tok1"].updated = time.Now().Add(-time.Hour)
	if s.IsFresh("tok1", time.Minute) {
		t.Error("IsFresh() = true, want false after the cutoff")
	}

	removed := s.ClearStale(time.Minute)
	if removed != 1 {
		t.Errorf("ClearStale() = %d, want 1", removed)
	}
	if _, _, ok := s.BestBidAsk("tok1"); ok {
		t.Error("expected tok1 to be removed after ClearStale")
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	t.Parallel()

	r := newRing[int](3)
	for i := 0; i < 5; i++ {
		r.push(i)
	}
	got := r.items()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("items() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
