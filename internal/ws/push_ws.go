package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"association-chat/internal/middleware"
	"association-chat/internal/models"
	"association-chat/internal/observability"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds one client event. Files go through the upload
	// endpoint, so frames only carry text and attachment references.
	maxFrameSize = 64 << 10
)

// WebSocketHandler serves the persistent push transport.
type WebSocketHandler struct {
	hub          *Hub
	tokens       middleware.TokenValidator
	writeTimeout time.Duration
}

// NewWebSocketHandler constructs a WebSocketHandler.
func NewWebSocketHandler(hub *Hub, tokens middleware.TokenValidator, writeTimeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, tokens: tokens, writeTimeout: writeTimeout}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades, and pumps client events
// into the hub until the connection drops.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("association-chat/ws").Start(c.Request.Context(), "push.handshake")
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.tokens.ValidateToken(tokenFromRequest(c))
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		Transport:   TransportWebSocket,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(c),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	peer := newWSPeer(info.ConnID, userID, conn, h.writeTimeout)
	h.hub.Register(ctx, peer, info)

	done := make(chan struct{})
	go h.keepAlive(peer, done)

	closeReason := h.readLoop(c, peer, conn)
	close(done)
	h.hub.Unregister(ctx, peer, closeReason)
}

func (h *WebSocketHandler) readLoop(c *gin.Context, peer *wsPeer, conn *websocket.Conn) string {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncPushEvent(TransportWebSocket, "push_error")
			}
			return err.Error()
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.hub.sendError(peer, ErrInvalidPayload)
			continue
		}
		h.hub.HandleClientEvent(c.Request.Context(), peer, env)
	}
}

func (h *WebSocketHandler) keepAlive(peer *wsPeer, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				return
			}
		}
	}
}
