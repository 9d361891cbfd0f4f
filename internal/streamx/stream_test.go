package streamx

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewMarketFeedSubscribeTracksTokens(t *testing.T) {
	t.Parallel()

	f := NewMarketFeed("wss://example/ws/market", func(bool) {}, testLogger())
	f.Subscribe([]string{"tok1", "tok2"})

	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if !f.subscribed["tok1"] || !f.subscribed["tok2"] {
		t.Errorf("subscribed = %v, want both tok1 and tok2", f.subscribed)
	}
}

func TestUnsubscribeDropsTokens(t *testing.T) {
	t.Parallel()

	f := NewMarketFeed("wss://example/ws/market", func(bool) {}, testLogger())
	f.Subscribe([]string{"tok1", "tok2"})
	f.Unsubscribe([]string{"tok1"})

	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if f.subscribed["tok1"] {
		t.Error("tok1 should have been dropped")
	}
	if !f.subscribed["tok2"] {
		t.Error("tok2 should remain subscribed")
	}
}

func TestDispatchMessageRoutesByType(t *testing.T) {
	t.Parallel()

	f := NewMarketFeed("wss://example/ws/market", func(bool) {}, testLogger())

	ok := f.dispatchMessage([]byte(`{"type":"book","market":"tok1","bids":[],"asks":[]}`))
	if !ok {
		t.Fatal("dispatchMessage(book) = false, want true")
	}
	select {
	case evt := <-f.bookCh:
		if evt.Market != "tok1" {
			t.Errorf("evt.Market = %q, want tok1", evt.Market)
		}
	default:
		t.Error("expected a book event on bookCh")
	}
}

func TestDispatchMessageDropsMalformedFrame(t *testing.T) {
	t.Parallel()

	f := NewMarketFeed("wss://example/ws/market", func(bool) {}, testLogger())
	if ok := f.dispatchMessage([]byte(`not json`)); ok {
		t.Error("dispatchMessage(malformed) = true, want false")
	}
}

func TestDispatchMessageIgnoresUnknownType(t *testing.T) {
	t.Parallel()

	f := NewMarketFeed("wss://example/ws/market", func(bool) {}, testLogger())
	if ok := f.dispatchMessage([]byte(`{"type":"heartbeat"}`)); !ok {
		t.Error("dispatchMessage(unknown type) = false, want true (not a failure)")
	}
}

func TestUserFeedAppendsAuthQueryParam(t *testing.T) {
	t.Parallel()

	f := NewUserFeed("wss://example/ws/user", "api-key-123", func(bool) {}, testLogger())
	want := "wss://example/ws/user?token=api-key-123"
	if f.url != want {
		t.Errorf("url = %q, want %q", f.url, want)
	}
}

func TestDispatchMessageRoutesFillOrderCancel(t *testing.T) {
	t.Parallel()

	f := NewUserFeed("wss://example/ws/user", "key", func(bool) {}, testLogger())

	if ok := f.dispatchMessage([]byte(`{"type":"fill","asset_id":"tok1","market":"cond1","side":"BUY","price":"0.5","size":"10"}`)); !ok {
		t.Fatal("dispatchMessage(fill) = false, want true")
	}
	select {
	case evt := <-f.fillCh:
		if evt.Token != "tok1" {
			t.Errorf("evt.Token = %q, want tok1", evt.Token)
		}
	default:
		t.Error("expected a fill event on fillCh")
	}

	if ok := f.dispatchMessage([]byte(`{"type":"order","order_id":"o2","market":"tok1","side":"SELL","price":"0.6","size":"5"}`)); !ok {
		t.Fatal("dispatchMessage(order) = false, want true")
	}
	<-f.orderCh

	if ok := f.dispatchMessage([]byte(`{"type":"cancel","order_id":"o3"}`)); !ok {
		t.Fatal("dispatchMessage(cancel) = false, want true")
	}
	<-f.cancelCh
}

func TestReconnectBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, w := range want {
		got := ReconnectDelay(i + 1)
		if got != w {
			t.Errorf("ReconnectDelay(%d) = %v, want %v", i+1, got, w)
		}
	}

	if got := ReconnectDelay(10); got != maxReconnectWait {
		t.Errorf("ReconnectDelay(10) = %v, want cap %v", got, maxReconnectWait)
	}
}
