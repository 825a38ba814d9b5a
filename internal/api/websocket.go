package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-switch/internal/infrastructure/logging"
)

// Message types on the live feed.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Feed channels.
const (
	ChannelDispatch = "dispatch.outcome"
	ChannelRefresh  = "directory.refreshed"
)

// outboxSize bounds the frames queued for one subscriber. Events for a
// subscriber whose outbox is full are dropped.
const outboxSize = 256

// WSMessage is one frame on the feed, in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe frame.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// DispatchEvent is published on ChannelDispatch per settled command.
type DispatchEvent struct {
	Action    string  `json:"action"`
	Room      string  `json:"room"`
	Succeeded bool    `json:"succeeded"`
	LatencyMS float64 `json:"latency_ms"`
}

// RefreshEvent is published on ChannelRefresh per completed refresh.
type RefreshEvent struct {
	Before int  `json:"before"`
	After  int  `json:"after"`
	Stale  bool `json:"stale"`
}

// inbound is a client frame with its payload left undecoded.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans dispatch and refresh events out to feed subscribers.
// It satisfies dispatch.Recorder. Publishing only queues frames, so a slow
// subscriber never holds up a dispatch.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, subs: make(map[*subscriber]struct{})}
}

// Run waits for ctx to end and then drops every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.close()
	}
}

// ClientCount returns the number of open subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast publishes payload to the subscribers of channel.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.wants(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(frame)
	}
}

// WriteDispatchOutcome publishes one settled command.
func (h *Hub) WriteDispatchOutcome(action, room string, succeeded bool, latency time.Duration) {
	h.Broadcast(ChannelDispatch, DispatchEvent{
		Action:    action,
		Room:      room,
		Succeeded: succeeded,
		LatencyMS: float64(latency) / float64(time.Millisecond),
	})
}

// WriteDirectoryRefresh publishes a completed refresh.
func (h *Hub) WriteDirectoryRefresh(before, after int, stale bool) {
	h.Broadcast(ChannelRefresh, RefreshEvent{Before: before, After: after, Stale: stale})
}

// subscriber is one feed connection. Only writeLoop writes data frames to
// conn; close may run from any goroutine.
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

func (s *subscriber) wants(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// enqueue queues frame unless the outbox is full or the subscriber closed.
func (s *subscriber) enqueue(frame []byte) {
	select {
	case <-s.done:
	case s.out <- frame:
	default:
	}
}

// close sends a close frame and shuts the connection. Safe to call twice.
func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		//nolint:errcheck // peer may already be gone
		s.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
		s.conn.Close()
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is governed by the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades an authenticated request to a feed connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		hub:      s.hub,
		conn:     conn,
		out:      make(chan []byte, outboxSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(sub)

	go sub.writeLoop(s.hub.cfg)
	go sub.readLoop(s.hub.cfg)
}

// readLoop handles client frames until the connection fails, then removes
// the subscriber.
func (s *subscriber) readLoop(cfg config.WebSocketConfig) {
	defer s.hub.remove(s)

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }
	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	s.conn.SetPongHandler(extend)
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // as above
		s.handle(data)
	}
}

// writeLoop drains the outbox and keeps the connection alive with pings.
func (s *subscriber) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ticker.Stop()
	wait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		var (
			kind  = websocket.TextMessage
			frame []byte
		)
		select {
		case <-s.done:
			return
		case frame = <-s.out:
		case <-ticker.C:
			kind = websocket.PingMessage
		}
		//nolint:errcheck // a failed deadline surfaces as a write error
		s.conn.SetWriteDeadline(time.Now().Add(wait))
		if err := s.conn.WriteMessage(kind, frame); err != nil {
			s.close()
			return
		}
	}
}

func (s *subscriber) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(msg.Payload, &sub); err != nil {
			s.reply(msg.ID, WSTypeError, errorBody("invalid "+msg.Type+" payload"))
			return
		}
		s.setChannels(sub.Channels, msg.Type == WSTypeSubscribe)
		key := msg.Type + "d" // subscribed, unsubscribed
		s.reply(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	default:
		s.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

func (s *subscriber) setChannels(channels []string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if on {
			s.channels[ch] = struct{}{}
		} else {
			delete(s.channels, ch)
		}
	}
}

func (s *subscriber) reply(id, msgType string, payload any) {
	frame, err := encodeFrame(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		return
	}
	s.enqueue(frame)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

// encodeFrame stamps msg with the current time and marshals it.
func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}
