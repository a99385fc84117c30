package api

import (
	"context"
	"sync"

	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
	"github.com/nerrad567/poolbridge/internal/infrastructure/logging"
	"github.com/nerrad567/poolbridge/internal/pool"
)

// Hub tracks WebSocket clients and fans status updates out to them.
//
// Delivery is latest-value per channel: a client that falls behind skips
// intermediate states of a channel but always receives its newest one.
// This matches the coordinator's subscriptions, where a display never
// needs the history of a mode cycle, only where it has got to.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}

	// current returns a channel's view, sent to a client when it subscribes.
	current func(id pool.ChannelID) (coordinator.StatusUpdate, error)
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		client.close()
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", client.subject)
}

// Unregister removes a client. It is safe to call more than once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast queues an event for every client subscribed to channel or to
// WSChannelAll, replacing any undelivered event for the same channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := eventMessage(channel, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	// Client locks are taken only after the hub lock is released.
	recipients := 0
	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.deliver(channel, data)
			recipients++
		}
	}
	if recipients > 0 {
		h.logger.Debug("broadcast queued", "channel", channel, "recipients", recipients)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// relayStatusUpdates forwards every coordinator status update to the hub
// until ctx is cancelled.
func (s *Server) relayStatusUpdates(ctx context.Context) {
	sub := s.coord.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			s.hub.Broadcast(string(u.Channel), u)
		}
	}
}
