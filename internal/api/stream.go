package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"predict-scanner/internal/mode"
	"predict-scanner/internal/planstore"
	"predict-scanner/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	pollInterval   = 2 * time.Second
)

// streamEvent is the wrapper for everything pushed over /stream.
type streamEvent struct {
	Type      string      `json:"type"` // "plans" or "mode"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub is a read-only WebSocket fan-out for plan and mode changes. It polls
// the plan store and mode manager rather than being wired into the scan
// cycle directly — /stream is explicitly a convenience surface, not load-
// bearing for any invariant, so a short poll interval is an acceptable
// trade against invasive callback plumbing through the orchestrator.
type Hub struct {
	planStore      *planstore.Store
	modeManager    *mode.Manager
	allowedOrigins []string

	clients    map[*streamClient]bool
	register   chan *streamClient
	unregister chan *streamClient
	broadcast  chan []byte
	stop       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a stream hub. Run must be called in a goroutine before any
// client can be served.
func NewHub(planStore *planstore.Store, modeManager *mode.Manager, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		planStore:      planStore,
		modeManager:    modeManager,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*streamClient]bool),
		register:       make(chan *streamClient),
		unregister:     make(chan *streamClient),
		broadcast:      make(chan []byte, 256),
		stop:           make(chan struct{}),
		logger:         logger.With("component", "stream-hub"),
	}
}

// Run drives client (un)registration, broadcast fan-out, and the poll loop
// that detects plan-set and mode changes. Blocks until Stop is called.
func (h *Hub) Run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastScanAt time.Time
	lastMode := h.modeManager.State()

	for {
		select {
		case <-h.stop:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			plans := h.planStore.All()
			newestScanAt := latestCreatedAt(plans)
			if !newestScanAt.Equal(lastScanAt) {
				lastScanAt = newestScanAt
				h.broadcastEvent("plans", plans)
			}

			current := h.modeManager.State()
			if current != lastMode {
				lastMode = current
				h.broadcastEvent("mode", current)
			}
		}
	}
}

// Stop ends the hub's Run loop.
func (h *Hub) Stop() {
	close(h.stop)
}

func latestCreatedAt(plans []types.TradePlan) time.Time {
	var latest time.Time
	for _, p := range plans {
		if p.CreatedAt.After(latest) {
			latest = p.CreatedAt
		}
	}
	return latest
}

func (h *Hub) broadcastEvent(eventType string, data interface{}) {
	evt := streamEvent{Type: eventType, Timestamp: time.Now(), Data: data}
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal stream event", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("stream broadcast channel full, dropping event")
	}
}

// HandleStream upgrades the connection and registers a new streamClient.
// GET and HEAD both reach here; HEAD requests fail the upgrade handshake
// naturally since they carry no Upgrade header, which is the desired
// behavior for a HEAD probe against a WebSocket endpoint.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("stream upgrade failed", "error", err)
		return
	}

	client := &streamClient{hub: h, conn: conn, send: make(chan []byte, 32)}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// /stream is read-only: client messages are drained and ignored.
	}
}

// isOriginAllowed mirrors the teacher's dashboard origin check, generalized
// to take a plain allow-list instead of config.DashboardConfig.
func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
