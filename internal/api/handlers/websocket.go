// Package handlers provides HTTP request handlers for the PertScan API.
// This file implements the WebSocket endpoint that pushes scan lifecycle
// events to connected clients.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freaksdesign/PertScan/internal/logging"
	"github.com/freaksdesign/PertScan/internal/scanning"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast channel buffer
	clientQueueSize = 16                                                 // Per-client outbound queue
)

// Message types pushed to clients.
const (
	MessageScanStarted   = "scan_started"
	MessageScanCompleted = "scan_completed"
)

// ClientGauge tracks the number of connected clients.
type ClientGauge interface {
	SetWebSocketClients(count int)
}

// WebSocketHandler fans scan events out to WebSocket clients. A single hub
// goroutine owns the client set; each client has its own writer goroutine.
type WebSocketHandler struct {
	logger   *logging.Logger
	gauge    ClientGauge
	upgrader websocket.Upgrader

	clients    map[*wsClient]struct{}
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	count      atomic.Int64
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// NewWebSocketHandler creates a handler and starts its hub. Origins follow
// the CORS list; "*" or an empty list accepts any origin.
func NewWebSocketHandler(logger *logging.Logger, gauge ClientGauge, allowedOrigins []string) *WebSocketHandler {
	h := &WebSocketHandler{
		logger: logger.WithComponent("websocket"),
		gauge:  gauge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients:    make(map[*wsClient]struct{}),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go h.run()

	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(set) == 0 || set["*"] || origin == "" || set[origin]
	}
}

// ScanWebSocket handles GET /api/v1/ws.
func (h *WebSocketHandler) ScanWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestIDFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.logger.Warn("WebSocket upgrade failed", "request_id", requestID, "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientQueueSize)}
	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}

	h.logger.Debug("WebSocket client connected", "request_id", requestID, "remote_addr", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

// run is the hub loop. It is the only goroutine touching h.clients.
func (h *WebSocketHandler) run() {
	defer close(h.stopped)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.updateCount()

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Dropping slow WebSocket client")
					h.drop(c)
				}
			}

		case <-h.shutdown:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *WebSocketHandler) drop(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.updateCount()
}

func (h *WebSocketHandler) updateCount() {
	n := len(h.clients)
	h.count.Store(int64(n))
	if h.gauge != nil {
		h.gauge.SetWebSocketClients(n)
	}
}

// readPump discards inbound messages and keeps the read deadline moving
// with pongs. It returns when the peer goes away.
func (h *WebSocketHandler) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *WebSocketHandler) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues a message for every connected client. It never blocks;
// when the hub is backed up the message is dropped.
func (h *WebSocketHandler) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(WebSocketMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("Failed to encode WebSocket message", "type", msgType, "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.shutdown:
	default:
		h.logger.Warn("WebSocket broadcast queue full, dropping message", "type", msgType)
	}
}

// BroadcastScanStarted announces a newly started scan.
func (h *WebSocketHandler) BroadcastScanStarted(id string, req scanning.ScanRequest) {
	h.Broadcast(MessageScanStarted, ScanStartedResponse{
		ID:     id,
		Status: scanning.StateScanning.String(),
		Target: req.Target,
		Ports:  req.Ports.String(),
	})
}

// BroadcastScanCompleted announces a collected completion. It has the
// shape of a scanning.CompletionHandler.
func (h *WebSocketHandler) BroadcastScanCompleted(c *scanning.Completion, _ scanning.StartOptions) {
	h.Broadcast(MessageScanCompleted, completionToResponse(c, false))
}

// ClientCount returns the number of registered clients.
func (h *WebSocketHandler) ClientCount() int {
	return int(h.count.Load())
}

// Close disconnects every client and stops the hub.
func (h *WebSocketHandler) Close() {
	h.closeOnce.Do(func() { close(h.shutdown) })
	<-h.stopped
}
