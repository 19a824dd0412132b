// Package server is the daemon's HTTP and WebSocket gateway: the REST API
// the desktop shell talks to, and the /ws endpoint that pushes board and
// session events to connected clients.
package server

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/common/logger"
	ws "github.com/featflow/featflow/pkg/websocket"
)

// ReplayProvider returns the messages replayed to a client right after it
// subscribes to a feature, so a freshly attached client catches up on the
// session output it missed.
type ReplayProvider func(ctx context.Context, featureID string) []*ws.Message

// Hub manages all WebSocket client connections and their per-feature
// subscriptions.
type Hub struct {
	clients map[*Client]bool

	// Clients subscribed to specific features (for session stream output)
	featureSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message

	replay ReplayProvider

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a WebSocket hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		featureSubscribers: make(map[string]map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		broadcast:          make(chan *ws.Message, 256),
		logger:             log.WithFields(zap.String("component", "ws_hub")),
	}
}

// SetReplayProvider sets the provider for catch-up messages on subscription
func (h *Hub) SetReplayProvider(provider ReplayProvider) {
	h.replay = provider
}

// Run starts the hub's main processing loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

// closeAllClients closes all client connections
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.featureSubscribers = make(map[string]map[*Client]bool)
}

// removeClient removes a client from the hub and all its subscriptions
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for featureID := range client.subscriptions {
			if clients, ok := h.featureSubscribers[featureID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.featureSubscribers, featureID)
				}
			}
		}
	}
	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
}

// broadcastMessage sends a message to every connected client
func (h *Hub) broadcastMessage(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, will be cleaned up by write pump
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a notification to all connected clients
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToFeature sends a notification to clients subscribed to a feature
func (h *Hub) BroadcastToFeature(featureID string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.featureSubscribers[featureID]
	h.mu.RUnlock()

	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Buffer full
		}
	}
}

// SubscribeToFeature subscribes a client to a feature's session stream
func (h *Hub) SubscribeToFeature(client *Client, featureID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.featureSubscribers[featureID]; !ok {
		h.featureSubscribers[featureID] = make(map[*Client]bool)
	}
	h.featureSubscribers[featureID][client] = true
	client.subscriptions[featureID] = true

	h.logger.Debug("Client subscribed to feature",
		zap.String("client_id", client.ID),
		zap.String("feature_id", featureID))
}

// UnsubscribeFromFeature unsubscribes a client from a feature's session stream
func (h *Hub) UnsubscribeFromFeature(client *Client, featureID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, featureID)
	if clients, ok := h.featureSubscribers[featureID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.featureSubscribers, featureID)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
