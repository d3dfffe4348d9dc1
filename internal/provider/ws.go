package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"predict-scanner/internal/book"
	"predict-scanner/pkg/types"
)

const (
	pingInterval       = 50 * time.Second
	readTimeout        = 90 * time.Second
	maxReconnectWait   = 30 * time.Second
	writeTimeout       = 10 * time.Second
	maxDiagLogsPerConn = 5 // cap on message parse-error log lines per connection lifetime
)

// MarketFeed is the public market-channel WebSocket ingest. It subscribes
// by asset (token) id and writes every "book" and "price_change" event
// straight into a book.Store. There is no user channel here: the scanner
// never places orders, so it has nothing to authenticate for.
type MarketFeed struct {
	url  string
	conn *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	store  *book.Store
	logger *slog.Logger
}

// NewMarketFeed creates a market-channel feed that mirrors events into store.
func NewMarketFeed(wsURL string, store *book.Store, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		store:      store,
		logger:     logger.With("component", "provider_ws"),
	}
}

// Run connects and maintains the connection with exponential backoff
// (1s -> 30s cap), re-subscribing to every tracked asset on reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

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

// Subscribe adds asset (token) ids to the live subscription set.
func (f *MarketFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(types.WSUpdateMsg{Operation: "subscribe", AssetIDs: ids})
}

// Close closes the underlying connection, if any.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
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
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "channel", "market")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	diagLogs := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg, &diagLogs)
	}
}

func (f *MarketFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: ids})
}

func (f *MarketFeed) dispatchMessage(data []byte, diagLogs *int) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logDiag(diagLogs, "ignoring non-json ws message")
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logDiag(diagLogs, "unmarshal book event", "error", err)
			return
		}
		f.store.ApplySnapshot(evt.AssetID, parseLevels(evt.Buys), parseLevels(evt.Sells))

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logDiag(diagLogs, "unmarshal price_change event", "error", err)
			return
		}
		for _, change := range evt.PriceChanges {
			price, errP := strconv.ParseFloat(change.Price, 64)
			size, errS := strconv.ParseFloat(change.Size, 64)
			if errP != nil || errS != nil {
				continue
			}
			side := types.BUY
			if change.Side == string(types.SELL) {
				side = types.SELL
			}
			f.store.ApplyPriceChange(change.AssetID, price, size, side)
		}

	case "last_trade_price", "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// informational, no book impact

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

// logDiag caps diagnostic logging at maxDiagLogsPerConn per connection
// lifetime so a flapping upstream feed can't flood the log.
func (f *MarketFeed) logDiag(diagLogs *int, msg string, args ...any) {
	if *diagLogs >= maxDiagLogsPerConn {
		return
	}
	*diagLogs++
	f.logger.Warn(msg, args...)
}

func parseLevels(wire []types.WSPriceLevel) []types.OrderLevel {
	out := make([]types.OrderLevel, 0, len(wire))
	for _, l := range wire {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, types.OrderLevel{Price: price, Size: size})
	}
	return out
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
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

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
