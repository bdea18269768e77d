package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
)

const (
	readDeadline = 90 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = int64(4 << 10)
)

// ReceiptTracker records that a user's client received a message.
type ReceiptTracker interface {
	MarkReceived(ctx context.Context, owner, counterpart, messageID string) error
}

// TokenVerifier resolves a bearer token to a user name.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// ChatWebSocketHandler handles live channel connections.
type ChatWebSocketHandler struct {
	hub      *Hub
	tracker  ReceiptTracker
	verifier TokenVerifier
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, tracker ReceiptTracker, verifier TokenVerifier, logger *zap.Logger) *ChatWebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatWebSocketHandler{
		hub:      hub,
		tracker:  tracker,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates, upgrades the connection and registers it under the
// caller's user name.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("marketplace-chat/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	userName, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user", userName), zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserName:    userName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Register(userName, conn, info)
	observability.IncWSActive("chat")
	h.publish(ctx, info, "ws_connect", "")
	h.logger.Info("websocket connected", zap.String("user", userName), zap.String("conn_id", info.ConnID))

	go h.readLoop(context.WithoutCancel(ctx), conn, info)
}

func (h *ChatWebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Unregister(info.UserName, conn)
		conn.Close()
		observability.DecWSActive("chat")
		h.publish(ctx, info, "ws_disconnect", closeReason)
		h.logger.Info("websocket disconnected", zap.String("user", info.UserName), zap.String("conn_id", info.ConnID), zap.String("reason", closeReason))
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	go h.pingLoop(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(ctx, info, "ws_error", closeReason)
			}
			return
		}

		var event models.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.logger.Debug("malformed client event", zap.String("user", info.UserName), zap.Error(err))
			continue
		}
		switch event.Type {
		case models.EventMessageReceived:
			if err := h.tracker.MarkReceived(ctx, info.UserName, event.CounterpartUserName, event.MessageID); err != nil {
				h.logger.Error("mark received failed",
					zap.String("owner", info.UserName),
					zap.String("counterpart", event.CounterpartUserName),
					zap.String("message_id", event.MessageID),
					zap.Error(err),
				)
			}
		default:
			h.logger.Debug("unknown client event", zap.String("user", info.UserName), zap.String("type", event.Type))
		}
	}
}

// pingLoop uses WriteControl, which may run concurrently with the hub's writes.
func (h *ChatWebSocketHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *ChatWebSocketHandler) publish(ctx context.Context, info ConnInfo, name, reason string) {
	observability.IncWSEvent("chat", name)
	event := observability.WSEvent{
		Name:        name,
		UserName:    info.UserName,
		ConnID:      info.ConnID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		ConnectedAt: info.ConnectedAt,
		Reason:      reason,
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, event.Envelope(), observability.BuildHeaders(info.RequestID, info.TraceID))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
