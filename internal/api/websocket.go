package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
	"github.com/nerrad567/poolbridge/internal/pool"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes to every pool channel.
	WSChannelAll = "*"

	// wsReplyBuffer bounds queued replies; events are coalesced instead.
	wsReplyBuffer = 32
)

// WSMessage is the envelope of every frame. Events carry a
// coordinator.StatusUpdate with EventType set to its channel id.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound frame with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string // token subject the ticket was issued to

	// send carries replies in order; wake signals queued events.
	send chan []byte
	wake chan struct{}

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]struct{}
	pending       map[string][]byte
	order         []string
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		subject:       subject,
		send:          make(chan []byte, wsReplyBuffer),
		wake:          make(chan struct{}, 1),
		subscriptions: make(map[string]struct{}),
		pending:       make(map[string][]byte),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

func eventMessage(channel string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// With a JWT secret configured, a ticket from POST /auth/ws-ticket is
// required in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.secCfg.JWT.Secret != "" {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, subject)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads frames until the connection fails. Any frame, or a
// pong, extends the read deadline.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // a failed deadline surfaces on the next read
		c.handleMessage(message)
	}
}

// writePump writes replies, queued events and pings until the client is
// closed or a write fails.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
		return c.conn.WriteMessage(kind, data)
	}

	// writeReply returns false once the pump should stop.
	writeReply := func(reply []byte, ok bool) bool {
		if !ok {
			write(websocket.CloseMessage, nil) //nolint:errcheck // best-effort close frame
			return false
		}
		return write(websocket.TextMessage, reply) == nil
	}

	for {
		select {
		case reply, ok := <-c.send:
			if !writeReply(reply, ok) {
				return
			}
		case <-c.wake:
			// Replies queued before these events go first, so a subscribe
			// response always precedes the views it triggered.
			for pending := true; pending; {
				select {
				case reply, ok := <-c.send:
					if !writeReply(reply, ok) {
						return
					}
				default:
					pending = false
				}
			}
			for _, event := range c.drain() {
				if write(websocket.TextMessage, event) != nil {
					return
				}
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(req)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSubscribe adds channels to the subscription list, then queues the
// current view of each so the client starts from a known state. Unknown
// channel ids reject the whole request.
func (c *WSClient) handleSubscribe(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(req.ID, "invalid subscribe payload")
		return
	}

	type initial struct {
		channel string
		data    []byte
	}
	var (
		unknown []string
		views   []initial
	)
	for _, ch := range sub.Channels {
		if ch == WSChannelAll || c.hub.current == nil {
			continue
		}
		u, err := c.hub.current(pool.ChannelID(ch))
		switch {
		case errors.Is(err, pool.ErrUnknownChannel):
			unknown = append(unknown, ch)
		case err == nil:
			if data, err := eventMessage(ch, u); err == nil {
				views = append(views, initial{ch, data})
			}
		}
	}
	if len(unknown) > 0 {
		c.sendError(req.ID, "unknown channels: "+strings.Join(unknown, ", "))
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	c.mu.Unlock()
	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels, "subject", c.subject)

	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
	for _, v := range views {
		c.deliver(v.channel, v.data)
	}
}

func (c *WSClient) handleUnsubscribe(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil {
		c.sendError(req.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[WSChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

// deliver queues an event, replacing an undelivered one for the same
// channel while keeping its place in the queue.
func (c *WSClient) deliver(channel string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, queued := c.pending[channel]; !queued {
		c.order = append(c.order, channel)
	}
	c.pending[channel] = data

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// drain takes every queued event in first-queued order.
func (c *WSClient) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, 0, len(c.order))
	for _, ch := range c.order {
		out = append(out, c.pending[ch])
		delete(c.pending, ch)
	}
	c.order = c.order[:0]
	return out
}

// reply queues a response frame. It is dropped if the client is gone or
// has stopped reading.
func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}

// close stops delivery and ends the write pump. Safe to call repeatedly.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
