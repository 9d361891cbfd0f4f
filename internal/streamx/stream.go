// Package streamx manages the two long-lived streaming connections: the
// public market feed (book/trade) and the private user feed
// (fill/order/cancel). Both reconnect with exponential backoff starting at
// 1s, doubling on each failed/closed attempt, capped at 60s, and resetting
// to 1s after the first cleanly-received frame on a new connection.
//
// Transport/reconnect/ping skeleton carried over from the teacher's
// WebSocket feed; event taxonomy and subscribe-frame shape are this
// system's own (one subscribe frame per token for the market channel,
// URL-query auth for the user channel).
package streamx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-mm/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	minReconnectWait = time.Second
	maxReconnectWait = 60 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// Feed manages one WebSocket connection: the public market channel or the
// private user channel.
type Feed struct {
	url         string
	channelType string // "market" or "user"

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool // tokens, market channel only

	bookCh   chan types.WSBookEvent
	tradeCh  chan types.WSTradeEvent
	fillCh   chan types.WSFillEvent
	orderCh  chan types.WSOrderEvent
	cancelCh chan types.WSCancelEvent

	setHealthy func(bool)
	logger     *slog.Logger
}

// NewMarketFeed builds the public book/trade feed.
func NewMarketFeed(url string, setHealthy func(bool), logger *slog.Logger) *Feed {
	return &Feed{
		url:         url,
		channelType: "market",
		subscribed:  make(map[string]bool),
		bookCh:      make(chan types.WSBookEvent, eventBufferSize),
		tradeCh:     make(chan types.WSTradeEvent, eventBufferSize),
		setHealthy:  setHealthy,
		logger:      logger.With("component", "stream_market"),
	}
}

// NewUserFeed builds the private fill/order/cancel feed. apiKey is carried
// as a URL query parameter rather than an in-frame auth payload.
func NewUserFeed(url, apiKey string, setHealthy func(bool), logger *slog.Logger) *Feed {
	fullURL := url
	if apiKey != "" {
		fullURL = fmt.Sprintf("%s?token=%s", url, apiKey)
	}
	return &Feed{
		url:         fullURL,
		channelType: "user",
		subscribed:  make(map[string]bool),
		fillCh:      make(chan types.WSFillEvent, eventBufferSize),
		orderCh:     make(chan types.WSOrderEvent, eventBufferSize),
		cancelCh:    make(chan types.WSCancelEvent, eventBufferSize),
		setHealthy:  setHealthy,
		logger:      logger.With("component", "stream_user"),
	}
}

func (f *Feed) BookEvents() <-chan types.WSBookEvent     { return f.bookCh }
func (f *Feed) TradeEvents() <-chan types.WSTradeEvent   { return f.tradeCh }
func (f *Feed) FillEvents() <-chan types.WSFillEvent     { return f.fillCh }
func (f *Feed) OrderEvents() <-chan types.WSOrderEvent   { return f.orderCh }
func (f *Feed) CancelEvents() <-chan types.WSCancelEvent { return f.cancelCh }

// Subscribe adds tokens to the market channel's watch set and, if currently
// connected, sends one subscribe frame per new token immediately.
func (f *Feed) Subscribe(tokens []string) {
	f.subscribedMu.Lock()
	toSend := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !f.subscribed[tok] {
			f.subscribed[tok] = true
			toSend = append(toSend, tok)
		}
	}
	f.subscribedMu.Unlock()

	for _, tok := range toSend {
		_ = f.sendSubscribeFrame(tok)
	}
}

// Unsubscribe drops tokens from the watch set (no unsubscribe frame is sent
// to the exchange; the next reconnect simply won't re-subscribe them).
func (f *Feed) Unsubscribe(tokens []string) {
	f.subscribedMu.Lock()
	defer f.subscribedMu.Unlock()
	for _, tok := range tokens {
		delete(f.subscribed, tok)
	}
}

// Close closes the active connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// Run connects and maintains the connection with exponential backoff.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := minReconnectWait

	for {
		sawFrame, err := f.connectAndRead(ctx)
		f.setHealthy(false)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if sawFrame {
			backoff = minReconnectWait
		}

		f.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// connectAndRead dials, subscribes, and reads frames until the connection
// fails or ctx is cancelled. Returns whether at least one frame was
// cleanly dispatched (used to reset the backoff on the next failure).
func (f *Feed) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	f.setHealthy(true)
	f.logger.Info("stream connected", "channel", f.channelType)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	sawFrame := false
	for {
		if ctx.Err() != nil {
			return sawFrame, ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return sawFrame, fmt.Errorf("read: %w", err)
		}

		if f.dispatchMessage(msg) {
			sawFrame = true
		}
	}
}

func (f *Feed) sendInitialSubscription() error {
	if f.channelType == "market" {
		f.subscribedMu.RLock()
		tokens := make([]string, 0, len(f.subscribed))
		for tok := range f.subscribed {
			tokens = append(tokens, tok)
		}
		f.subscribedMu.RUnlock()

		for _, tok := range tokens {
			if err := f.sendSubscribeFrame(tok); err != nil {
				return err
			}
		}
		return nil
	}

	return f.writeJSON(types.WSSubscribe{Type: "subscribe", Channel: "user"})
}

func (f *Feed) sendSubscribeFrame(token string) error {
	return f.writeJSON(types.WSSubscribe{Type: "subscribe", Channel: "book", Market: token})
}

// dispatchMessage decodes one frame and routes it by type. Malformed JSON
// or an unrecognized type is dropped with a log; the stream continues.
// Returns false only for a frame that fails to decode; a well-formed frame
// of an unrecognized type counts as clean.
func (f *Feed) dispatchMessage(data []byte) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Warn("dropping malformed ws frame", "error", err)
		return false
	}

	switch envelope.Type {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Warn("dropping malformed book frame", "error", err)
			return false
		}
		select {
		case f.bookCh <- evt:
		default:
			f.logger.Warn("book channel full, dropping event", "market", evt.Market)
		}
		return true

	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Warn("dropping malformed trade frame", "error", err)
			return false
		}
		f.logger.Debug("trade received", "market", evt.Market, "price", evt.Price, "size", evt.Size)
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "market", evt.Market)
		}
		return true

	case "fill":
		var evt types.WSFillEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Warn("dropping malformed fill frame", "error", err)
			return false
		}
		select {
		case f.fillCh <- evt:
		default:
			f.logger.Warn("fill channel full, dropping event", "market", evt.Market)
		}
		return true

	case "order":
		var evt types.WSOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Warn("dropping malformed order frame", "error", err)
			return false
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "order_id", evt.OrderID)
		}
		return true

	case "cancel":
		var evt types.WSCancelEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Warn("dropping malformed cancel frame", "error", err)
			return false
		}
		select {
		case f.cancelCh <- evt:
		default:
			f.logger.Warn("cancel channel full, dropping event", "order_id", evt.OrderID)
		}
		return true

	default:
		f.logger.Debug("ignoring unknown ws frame type", "type", envelope.Type)
		return true
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// ReconnectDelay returns the backoff delay before the nth reconnect attempt
// (n=1 is the delay after the first failure): min(2^(n-1), 60) seconds.
// Exposed for the reconnect-backoff property test.
func ReconnectDelay(n int) time.Duration {
	d := minReconnectWait
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxReconnectWait {
			return maxReconnectWait
		}
	}
	return d
}
