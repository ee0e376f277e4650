package feed

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/observability"
)

// Membership answers the questions the handshake needs.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	HiddenIDs(ctx context.Context, viewerID, conversationID int64) ([]uuid.UUID, error)
}

// Handler serves the conversation change feed over websocket.
type Handler struct {
	hub      *Hub
	members  Membership
	verifier middleware.TokenVerifier
	log      *zap.Logger
}

func NewHandler(hub *Hub, members Membership, verifier middleware.TokenVerifier, log *zap.Logger) *Handler {
	return &Handler{hub: hub, members: members, verifier: verifier, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers it with the hub.
func (h *Handler) Handle(c *gin.Context) {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("ephemeral-chat/feed").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.members.IsParticipant(ctx, conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}
	hidden, err := h.members.HiddenIDs(ctx, userID, conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deletion ledger"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.Add(conversationID, conn, info, hidden)

	// Hides committed between the first ledger read and Add never reached
	// this connection.
	if again, err := h.members.HiddenIDs(ctx, userID, conversationID); err != nil {
		h.log.Warn("ledger reload failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
	} else {
		h.hub.Hide(conversationID, conn, again)
	}

	observability.IncWSActive()
	h.emit(ctx, "ws_connect", conversationID, info, "")
	h.log.Debug("feed connected",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("viewer_id", userID),
		zap.String("conn_id", info.ConnID),
	)

	go h.readLoop(context.WithoutCancel(ctx), conversationID, conn, info)
}

func (h *Handler) readLoop(ctx context.Context, conversationID int64, conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Remove(conversationID, conn)
		observability.DecWSActive()
		h.emit(ctx, "ws_disconnect", conversationID, info, closeReason)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.emit(ctx, "ws_error", conversationID, info, closeReason)
			}
			return
		}
	}
}

func (h *Handler) emit(ctx context.Context, name string, conversationID int64, info ConnInfo, reason string) {
	observability.IncWSEvent(name)
	envelope := observability.WSEvent(name, conversationID, info.ConnID, info.UserID,
		time.Since(info.ConnectedAt).Milliseconds(), reason)
	_ = observability.PublishEvent(ctx, wsRoutingKey, envelope, observability.BuildHeaders(info.RequestID, info.TraceID))
}
