// Package websocket pushes live state changes to connected dashboards.
//
// A single Hub fans every event out to all clients; there is no per-user
// routing. The dashboard filters by userId on its side, which keeps the
// hub a dumb pipe and the server free of session bookkeeping.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sankeyhub/internal/infrastructure"
	"sankeyhub/pkg/contracts/events"
)

// metricsReportInterval is how often the hub logs its counters.
const metricsReportInterval = 30 * time.Second

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Marshaled events awaiting fan-out
	broadcast chan []byte

	// Register requests from new connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	// Counters, guarded by mu
	totalConnections int64
	messagesSent     int64
	droppedClients   int64

	quit        chan struct{}
	metricsQuit chan struct{}
	running     bool
}

// NewHub creates a hub. The hub does nothing until Start is called.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	return &Hub{
		clients:     make(map[*Client]bool),
		broadcast:   make(chan []byte),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		logger:      logger,
		quit:        make(chan struct{}),
		metricsQuit: make(chan struct{}),
	}
}

// Start launches the hub's goroutines. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
	go h.reportMetrics()
}

// Run is the hub's main loop. Start runs it on its own goroutine; it is
// exported so tests can drive the loop directly.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			ctx := context.Background()
			if client.traceID != "" {
				ctx = infrastructure.WithTraceID(ctx, client.traceID)
			}
			h.logger.InfoContext(ctx, "client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			if m := GetOTelMetrics(); m != nil {
				m.RecordConnection(ctx, client.remoteAddr)
				m.RecordClientCount(ctx, int64(count))
			}

			h.greet(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count := len(h.clients)
				h.mu.Unlock()

				ctx := context.Background()
				if client.traceID != "" {
					ctx = infrastructure.WithTraceID(ctx, client.traceID)
				}
				h.logger.InfoContext(ctx, "client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))

				if m := GetOTelMetrics(); m != nil {
					m.RecordDisconnection(ctx, time.Since(client.connectedAt))
					m.RecordClientCount(ctx, int64(count))
				}
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// greet sends the connection acknowledgement to a newly registered client.
func (h *Hub) greet(ctx context.Context, client *Client) {
	msg := events.Envelope{
		Type:      events.MessageTypeConnection,
		Data:      events.ConnectionGreeting{Status: "connected", ClientID: client.id},
		Timestamp: time.Now().Format(time.RFC3339),
		TraceID:   client.traceID,
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.send <- jsonData:
	default:
		h.logger.WarnContext(ctx, "connection message dropped, client buffer full",
			slog.String("client_id", client.id))
	}
}

// fanOut delivers one marshaled event to every client. A client whose
// send buffer is full is evicted rather than allowed to stall the hub.
func (h *Hub) fanOut(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	successCount := 0
	failCount := 0
	for _, client := range clients {
		select {
		case client.send <- message:
			successCount++
		default:
			failCount++
			h.mu.Lock()
			close(client.send)
			delete(h.clients, client)
			h.mu.Unlock()
			h.logger.Warn("client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(successCount)
	h.droppedClients += int64(failCount)
	h.mu.Unlock()

	if failCount > 0 {
		h.logger.Warn("some clients missed a broadcast",
			slog.Int("success_count", successCount),
			slog.Int("fail_count", failCount))
	}
	if m := GetOTelMetrics(); m != nil {
		m.RecordBroadcast(context.Background(), int64(len(clients)), int64(successCount), int64(failCount))
	}
}

// Broadcast wraps data in the event envelope and queues it for fan-out.
// It satisfies the Broadcaster seam the services layer announces through.
func (h *Hub) Broadcast(messageType events.MessageType, data interface{}) {
	envelope := events.Envelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("event marshal failed",
			slog.String("message_type", string(messageType)),
			slog.String("error", err.Error()))
		return
	}

	// The quit arm keeps announcers from blocking forever if the hub is
	// already stopped.
	select {
	case h.broadcast <- jsonData:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Stop shuts the hub down and closes every client connection. Calling
// Stop twice is a no-op.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	close(h.metricsQuit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Snapshot returns the hub's counters for diagnostics.
func (h *Hub) Snapshot() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"dropped_clients":   h.droppedClients,
	}
}

// reportMetrics logs hub counters on a fixed cadence.
func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.metricsQuit:
			return
		case <-ticker.C:
			h.mu.RLock()
			activeClients := len(h.clients)
			totalConnections := h.totalConnections
			messagesSent := h.messagesSent
			droppedClients := h.droppedClients
			h.mu.RUnlock()

			h.logger.Info("hub metrics",
				slog.Int("active_clients", activeClients),
				slog.Int64("total_connections", totalConnections),
				slog.Int64("messages_sent", messagesSent),
				slog.Int64("dropped_clients", droppedClients))
		}
	}
}
