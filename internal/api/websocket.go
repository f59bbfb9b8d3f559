package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halwright/gatesync/internal/gate"
	"github.com/halwright/gatesync/internal/infrastructure/config"
	"github.com/halwright/gatesync/internal/infrastructure/logging"
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

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 64

	// doorChannelPrefix prefixes per-door subscription channels:
	// "door:{gatewayID}/{doorID}".
	doorChannelPrefix = "door:"
)

// WSMessage represents a message sent to/from a WebSocket client.
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

// Hub manages WebSocket connections and broadcasts events.
//
// It refcounts channel subscriptions across clients: the first subscriber
// for a channel fires the onFirst hook, the last one leaving fires onLast.
// The server uses the hooks to attach and release poller subscriptions, so
// a door is only polled while someone is watching it.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	onFirst func(channel string)
	onLast  func(channel string)

	mu       sync.RWMutex
	clients  map[*WSClient]struct{}
	channels map[string]int // channel -> subscriber count
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

// upgrader configures the WebSocket upgrader. The API binds to loopback by
// default, so cross-origin upgrades are allowed.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*WSClient]struct{}),
		channels: make(map[string]int),
	}
}

// SetChannelHooks sets the callbacks fired on a channel's first subscriber
// and last unsubscribe. Must be called before Run.
func (h *Hub) SetChannelHooks(onFirst, onLast func(channel string)) {
	h.onFirst = onFirst
	h.onLast = onLast
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases its channel
// subscriptions. Only the goroutine that successfully removes the client
// from the map closes the send channel, preventing double-close panics
// during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	client.mu.Lock()
	held := make([]string, 0, len(client.subscriptions))
	for ch := range client.subscriptions {
		held = append(held, ch)
	}
	client.subscriptions = make(map[string]struct{})
	client.mu.Unlock()

	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		h.release(held)
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Subscribe adds the client to the given channels and fires onFirst for any
// channel gaining its first subscriber. Returns the channels actually added.
func (h *Hub) Subscribe(client *WSClient, channels []string) []string {
	client.mu.Lock()
	added := make([]string, 0, len(channels))
	for _, ch := range channels {
		if _, ok := client.subscriptions[ch]; ok {
			continue
		}
		client.subscriptions[ch] = struct{}{}
		added = append(added, ch)
	}
	client.mu.Unlock()

	var first []string
	h.mu.Lock()
	for _, ch := range added {
		h.channels[ch]++
		if h.channels[ch] == 1 {
			first = append(first, ch)
		}
	}
	h.mu.Unlock()

	// Hooks run outside the hub lock; they may trigger broadcasts.
	if h.onFirst != nil {
		for _, ch := range first {
			h.onFirst(ch)
		}
	}
	return added
}

// Unsubscribe removes the client from the given channels and fires onLast
// for any channel losing its last subscriber.
func (h *Hub) Unsubscribe(client *WSClient, channels []string) []string {
	client.mu.Lock()
	removed := make([]string, 0, len(channels))
	for _, ch := range channels {
		if _, ok := client.subscriptions[ch]; !ok {
			continue
		}
		delete(client.subscriptions, ch)
		removed = append(removed, ch)
	}
	client.mu.Unlock()

	h.release(removed)
	return removed
}

// release decrements channel refcounts and fires onLast on 1 to 0
// transitions.
func (h *Hub) release(channels []string) {
	var last []string
	h.mu.Lock()
	for _, ch := range channels {
		if h.channels[ch] <= 1 {
			delete(h.channels, ch)
			last = append(last, ch)
			continue
		}
		h.channels[ch]--
	}
	h.mu.Unlock()

	if h.onLast != nil {
		for _, ch := range last {
			h.onLast(ch)
		}
	}
}

// Broadcast sends an event to all clients subscribed to the given channel.
// The client list is snapshotted under the hub lock, then sends happen
// outside it so a slow client cannot stall the hub.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
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

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ChannelSubscribers returns the subscriber count for a channel.
func (h *Hub) ChannelSubscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channels[channel]
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	var channels []string
	for ch := range h.channels {
		channels = append(channels, ch)
	}
	h.channels = make(map[string]int)

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.mu.Unlock()

	if h.onLast != nil {
		for _, ch := range channels {
			h.onLast(ch)
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// watchDoor is the hub's onFirst hook: a door channel gained its first
// subscriber, so attach a poller subscription for the door.
func (s *Server) watchDoor(channel string) {
	device, ok := s.doorForChannel(channel)
	if !ok {
		return
	}

	token := s.watcher.Subscribe(device, s.pushState)
	s.watchMu.Lock()
	if s.watchTokens == nil {
		s.watchTokens = make(map[string]string)
	}
	s.watchTokens[channel] = token
	s.watchMu.Unlock()
	s.logger.Debug("door watch attached", "channel", channel)
}

// unwatchDoor is the hub's onLast hook: the last subscriber left, so
// release the poller subscription.
func (s *Server) unwatchDoor(channel string) {
	s.watchMu.Lock()
	token, ok := s.watchTokens[channel]
	delete(s.watchTokens, channel)
	s.watchMu.Unlock()

	if ok {
		s.watcher.Unsubscribe(token)
		s.logger.Debug("door watch released", "channel", channel)
	}
}

// pushState broadcasts a polled observation to the door's channel.
func (s *Server) pushState(device gate.Device, state *gate.DeviceState) {
	resp := stateResponse{Door: device.Key()}
	if state == nil {
		resp.Absent = true
	} else {
		resp.Status = state.Status
		resp.Desired = state.Desired
		resp.Battery = state.Battery
		resp.BatteryLow = state.BatteryLow(s.batteryThreshold)
		resp.Fault = state.Fault
		resp.ObservedAt = &state.ObservedAt
	}
	s.hub.Broadcast(doorChannelPrefix+device.Key(), resp)
}

// doorForChannel resolves a "door:{gatewayID}/{doorID}" channel to a
// discovered device. Channels that do not name a known door are inert:
// clients can subscribe to them, but nothing is ever published.
func (s *Server) doorForChannel(channel string) (gate.Device, bool) {
	if s.watcher == nil {
		return gate.Device{}, false
	}
	key, ok := strings.CutPrefix(channel, doorChannelPrefix)
	if !ok {
		return gate.Device{}, false
	}
	gatewayID, doorID, ok := strings.Cut(key, "/")
	if !ok {
		return gate.Device{}, false
	}

	// Hub hooks run outside any request, so resolution is bounded by the
	// server's lifecycle rather than a request context.
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	device, err := s.doors.FindDevice(ctx, gatewayID, doorID)
	if err != nil {
		if !errors.Is(err, gate.ErrDeviceNotFound) {
			s.logger.Warn("resolving door channel failed", "channel", channel, "error", err)
		}
		return gate.Device{}, false
	}
	return device, true
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

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
		// Any client message resets the read deadline (keeps the connection
		// alive even if the client does not answer protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds channels to the client's subscription list.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, ok := c.parseChannels(msg)
	if !ok {
		return
	}

	added := c.hub.Subscribe(c, sub.Channels)
	c.hub.logger.Info("websocket client subscribed", "channels", added)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
	})
}

// handleUnsubscribe removes channels from the client's subscription list.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, ok := c.parseChannels(msg)
	if !ok {
		return
	}

	c.hub.Unsubscribe(c, sub.Channels)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
	})
}

// parseChannels extracts the channel list from a subscribe or unsubscribe
// payload.
func (c *WSClient) parseChannels(msg WSMessage) (WSSubscribePayload, bool) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return WSSubscribePayload{}, false
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return WSSubscribePayload{}, false
	}
	return sub, true
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
