// Package websocket serves the live-reload channel that @hotReload scripts
// connect to, and broadcasts reload notices when templates change.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/validation"
)

const (
	pingInterval        = 54 * time.Second
	writeTimeout        = 10 * time.Second
	readLimit           = 512
	sendBuffer          = 16
	defaultPerIPLimit   = 20
	defaultMaxClients   = 256
	broadcastBufferSize = 64
)

// HubConfig configures a Hub.
type HubConfig struct {
	// AllowedOrigins lists origins (or bare hosts) permitted to connect.
	// When empty only same-host origins are accepted.
	AllowedOrigins      []string
	MaxConnectionsPerIP int
	MaxConnections      int
	Logger              logging.Logger
}

// Hub tracks live-reload connections and fans messages out to them.
//
// Register, unregister and broadcast events are serialized through a single
// goroutine; clients is guarded by clientsMutex for readers outside it.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	perIP        map[string]int
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	allowedOrigins []string
	maxPerIP       int
	maxClients     int
	logger         logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   atomic.Bool
	rejected     int64
}

// NewHub creates a hub and starts its event loop.
func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = defaultPerIPLimit
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxClients
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[*websocket.Conn]*Client),
		perIP:          make(map[string]int),
		broadcast:      make(chan []byte, broadcastBufferSize),
		register:       make(chan *Client, 32),
		unregister:     make(chan *websocket.Conn, 32),
		allowedOrigins: cfg.AllowedOrigins,
		maxPerIP:       cfg.MaxConnectionsPerIP,
		maxClients:     cfg.MaxConnections,
		logger:         logger.WithComponent("reload_hub"),
		ctx:            ctx,
		cancel:         cancel,
	}

	go h.run()
	return h
}

// ServeHTTP upgrades the request to a live-reload connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.IsShutdown() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if !h.checkOrigin(r) {
		atomic.AddInt64(&h.rejected, 1)
		logging.LogSecurityEvent(r.Context(), h.logger, "websocket_origin_rejected", map[string]interface{}{
			"origin":      r.Header.Get("Origin"),
			"remote_addr": r.RemoteAddr,
		})
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ip := clientIP(r)
	if !h.reserve(ip) {
		atomic.AddInt64(&h.rejected, 1)
		h.logger.Warn(r.Context(), nil, "Live-reload connection limit reached", "ip", ip)
		http.Error(w, "Too Many Connections", http.StatusTooManyRequests)
		return
	}

	// Origin was checked above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.release(ip)
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "ip", ip)
		return
	}
	conn.SetReadLimit(readLimit)

	client := &Client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		ip:          ip,
		connectedAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		h.release(ip)
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	go h.handleClient(client)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin.
		return true
	}
	if len(h.allowedOrigins) > 0 {
		return validation.ValidateOrigin(origin, h.allowedOrigins) == nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

func (h *Hub) reserve(ip string) bool {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	total := 0
	for _, n := range h.perIP {
		total += n
	}
	if total >= h.maxClients || h.perIP[ip] >= h.maxPerIP {
		return false
	}
	h.perIP[ip]++
	return true
}

func (h *Hub) release(ip string) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	h.releaseLocked(ip)
}

func (h *Hub) releaseLocked(ip string) {
	if h.perIP[ip] <= 1 {
		delete(h.perIP, ip)
		return
	}
	h.perIP[ip]--
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case conn := <-h.unregister:
			h.unregisterClient(conn)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.clientsMutex.Lock()
	h.clients[client.conn] = client
	count := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Info(h.ctx, "Live-reload client connected", "ip", client.ip, "clients", count)
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	client, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(client.send)
		h.releaseLocked(client.ip)
	}
	count := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info(h.ctx, "Live-reload client disconnected", "ip", client.ip, "clients", count,
			"connected_for", time.Since(client.connectedAt).Round(time.Millisecond).String())
	}
}

// broadcastToClients holds the read lock while sending so Shutdown cannot
// close a send channel underneath it.
func (h *Hub) broadcastToClients(message []byte) {
	var slow []*websocket.Conn

	h.clientsMutex.RLock()
	for conn, client := range h.clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, conn)
		}
	}
	h.clientsMutex.RUnlock()

	for _, conn := range slow {
		h.logger.Warn(h.ctx, nil, "Dropping slow live-reload client")
		h.unregisterClient(conn)
	}
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.ctx.Done():
		}
	}()

	go h.writePump(client)
	h.readPump(client)
}

// readPump drains client frames so control frames (pong, close) are
// processed. Browsers never send data on this channel.
func (h *Hub) readPump(client *Client) {
	for {
		_, _, err := client.conn.Read(h.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "Live-reload read ended", "ip", client.ip, "error", err.Error())
			}
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "Live-reload write failed", "ip", client.ip, "error", err.Error())
				_ = client.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				_ = client.conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// Broadcast queues msg for every connected client. Messages are dropped
// when the hub is shut down or its queue is full.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal live-reload message")
		return
	}
	if h.IsShutdown() {
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(h.ctx, nil, "Live-reload queue full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Rejected returns how many upgrade attempts were refused.
func (h *Hub) Rejected() int64 {
	return atomic.LoadInt64(&h.rejected)
}

// Shutdown closes every connection and stops the event loop.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.isShutdown.Store(true)
		h.cancel()

		h.clientsMutex.Lock()
		for conn, client := range h.clients {
			close(client.send)
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*Client)
		h.perIP = make(map[string]int)
		h.clientsMutex.Unlock()

		h.logger.Info(ctx, "Live-reload hub shut down")
	})
	return ctx.Err()
}

// IsShutdown reports whether Shutdown has been called.
func (h *Hub) IsShutdown() bool {
	return h.isShutdown.Load()
}
