package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
)

const writeTimeout = 10 * time.Second

var (
	// ErrOffline is returned when the user has no live connection.
	ErrOffline = errors.New("user offline")
	// ErrPushFailed is returned when every live connection of the user failed.
	ErrPushFailed = errors.New("push failed")
)

// Conn is the part of *websocket.Conn the hub writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Relay fans pushes out to every service instance; each instance then calls
// Hub.Deliver for its own connections.
type Relay interface {
	Publish(ctx context.Context, userName string, payload []byte) error
}

type client struct {
	conn Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the registry of live connections keyed by user name. A user may hold
// several connections at once.
type Hub struct {
	clients map[string]map[Conn]*client
	relay   Relay
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]map[Conn]*client),
		logger:  logger,
	}
}

// SetRelay routes pushes through relay instead of delivering locally.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

// Register adds a connection for userName.
func (h *Hub) Register(userName string, conn Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userName]; !ok {
		h.clients[userName] = make(map[Conn]*client)
	}
	h.clients[userName][conn] = &client{conn: conn, info: info}
}

// Unregister removes a connection of userName. It does not close it.
func (h *Hub) Unregister(userName string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userName]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, userName)
		}
	}
}

// Online reports whether userName has a connection on this instance.
func (h *Hub) Online(userName string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userName]) > 0
}

// Push sends event to every live connection of userName.
func (h *Hub) Push(ctx context.Context, userName string, event models.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, userName, payload); err != nil {
			observability.IncPushFailure("relay")
			return errors.Join(ErrPushFailed, err)
		}
		return nil
	}
	return h.Deliver(userName, payload)
}

// Deliver writes payload to the connections of userName held by this instance.
// Connections that fail to write are closed and dropped.
func (h *Hub) Deliver(userName string, payload []byte) error {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[userName]))
	for _, c := range h.clients[userName] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		observability.IncPushFailure("offline")
		return ErrOffline
	}

	delivered := 0
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			h.logger.Warn("websocket write error", zap.String("user", userName), zap.String("conn_id", c.info.ConnID), zap.Error(err))
			observability.IncPushFailure("write")
			c.conn.Close()
			h.Unregister(userName, c.conn)
			h.publishWSError(c.info, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return ErrPushFailed
	}
	return nil
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	event := observability.WSEvent{
		Name:        "ws_error",
		UserName:    info.UserName,
		ConnID:      info.ConnID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		ConnectedAt: info.ConnectedAt,
		Reason:      err.Error(),
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, event.Envelope(), headers)
	observability.IncWSEvent("chat", "ws_error")
}

const wsRoutingKey = "ws_events.chats"
