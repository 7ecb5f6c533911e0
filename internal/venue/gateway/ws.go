package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amanahq/flasharb/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	handshakeTimeout  = 15 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Feed maintains a live quote cache fed by the gateway's WebSocket stream.
// Each inbound message replaces the cache for its pair; the adapter serves
// GetQuotes from here while the feed is connected.
type Feed struct {
	venueID string
	url     string
	pairs   []string
	logger  *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	byPair    map[string][]domain.Quote
	connected atomic.Bool
}

// NewFeed creates a Feed subscribing to the given pairs.
func NewFeed(venueID, url string, pairs []string, logger *slog.Logger) *Feed {
	return &Feed{
		venueID: venueID,
		url:     url,
		pairs:   pairs,
		byPair:  make(map[string][]domain.Quote),
		logger:  logger.With(slog.String("component", "gateway_feed")),
	}
}

// Start connects and subscribes, then keeps the feed alive with exponential
// backoff reconnects until ctx is done. It returns an error only when the
// initial connection fails.
func (f *Feed) Start(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return fmt.Errorf("gateway feed %s: %w", f.venueID, err)
	}
	f.setConn(conn)
	go f.run(ctx)
	return nil
}

// Connected reports whether the stream is currently live. While false the
// cache is stale and callers should fall back to REST.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Quotes returns the cached quotes for a pair, or for every pair when pair is
// empty.
func (f *Feed) Quotes(pair string) []domain.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if pair != "" {
		out := make([]domain.Quote, len(f.byPair[pair]))
		copy(out, f.byPair[pair])
		return out
	}
	var out []domain.Quote
	for _, quotes := range f.byPair {
		out = append(out, quotes...)
	}
	return out
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cmd, err := json.Marshal(wsCommand{Type: "subscribe", Pairs: f.pairs})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, cmd); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return conn, nil
}

func (f *Feed) setConn(conn *websocket.Conn) {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	f.connected.Store(true)
}

// run owns the connection lifecycle: read until the stream drops, then
// reconnect with backoff until ctx is done.
func (f *Feed) run(ctx context.Context) {
	delay := reconnectDelay
	for {
		err := f.readLoop(ctx)
		f.connected.Store(false)
		f.closeConn()
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("feed disconnected",
			slog.String("venue", f.venueID),
			slog.String("error", err.Error()),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			conn, dialErr := f.dial(ctx)
			if dialErr == nil {
				f.setConn(conn)
				delay = reconnectDelay
				break
			}
			f.logger.Warn("feed reconnect failed",
				slog.String("venue", f.venueID),
				slog.String("error", dialErr.Error()),
			)
			delay = min(delay*2, maxReconnectDelay)
		}
	}
}

// readLoop reads and dispatches messages until the connection fails, pinging
// on the side to keep it alive.
func (f *Feed) readLoop(ctx context.Context) error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()

	stop := make(chan struct{})
	defer close(stop)
	go f.pingLoop(ctx, conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage replaces the pair's cache entry on a quotes message.
// Unparseable messages are dropped.
func (f *Feed) handleMessage(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Type != "quotes" {
		return
	}

	var msg wsQuoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	quotes := make([]domain.Quote, 0, len(msg.Quotes))
	for _, q := range msg.Quotes {
		quotes = append(quotes, q.toDomain(f.venueID))
	}

	f.mu.Lock()
	f.byPair[msg.Pair] = quotes
	f.mu.Unlock()
}

func (f *Feed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = f.conn.Close()
		f.conn = nil
	}
}
