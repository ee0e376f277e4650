package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
)

const wsRoutingKey = "ws_events.conversations"

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type subscriber struct {
	conn   Conn
	info   ConnInfo
	writeM sync.Mutex
	hidden map[uuid.UUID]struct{}
}

func (s *subscriber) write(payload []byte) error {
	s.writeM.Lock()
	defer s.writeM.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub maintains per-conversation rooms of feed subscribers.
type Hub struct {
	rooms map[int64]map[Conn]*subscriber
	mu    sync.RWMutex
	log   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[int64]map[Conn]*subscriber),
		log:   log,
	}
}

// Add registers conn in a conversation room. hidden seeds the viewer's ledger.
func (h *Hub) Add(conversationID int64, conn Conn, info ConnInfo, hidden []uuid.UUID) {
	sub := &subscriber{conn: conn, info: info, hidden: make(map[uuid.UUID]struct{}, len(hidden))}
	for _, id := range hidden {
		sub.hidden[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[conversationID]; !ok {
		h.rooms[conversationID] = make(map[Conn]*subscriber)
	}
	h.rooms[conversationID][conn] = sub
}

// Remove drops conn from the room.
func (h *Hub) Remove(conversationID int64, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[conversationID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

// CloseAll closes and drops every connection and returns how many there were.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	var conns []Conn
	for _, subs := range h.rooms {
		for conn := range subs {
			conns = append(conns, conn)
		}
	}
	h.rooms = make(map[int64]map[Conn]*subscriber)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// Hide merges ids into the connection's ledger and sends a delete for each id
// the connection had not been told about.
func (h *Hub) Hide(conversationID int64, conn Conn, ids []uuid.UUID) {
	h.mu.Lock()
	sub, ok := h.rooms[conversationID][conn]
	var fresh []uuid.UUID
	if ok {
		for _, id := range ids {
			if _, known := sub.hidden[id]; known {
				continue
			}
			sub.hidden[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	h.mu.Unlock()

	for _, id := range fresh {
		payload, err := json.Marshal(models.HideEvent(conversationID, id, sub.info.UserID))
		if err != nil {
			h.log.Error("feed event encode failed", zap.Error(err))
			return
		}
		if err := sub.write(payload); err != nil {
			_ = sub.conn.Close()
			h.Remove(conversationID, sub.conn)
			h.publishWSError(conversationID, sub.info, err)
			return
		}
	}
}

// Size returns the number of connections in a room.
func (h *Hub) Size(conversationID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// Deliver fans event out to the room, applying each viewer's ledger.
func (h *Hub) Deliver(event models.FeedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("feed event encode failed", zap.Error(err))
		return
	}

	for _, sub := range h.recipients(event) {
		if err := sub.write(payload); err != nil {
			h.log.Warn("websocket write error",
				zap.Int64("conversation_id", event.ConversationID),
				zap.String("conn_id", sub.info.ConnID),
				zap.Error(err),
			)
			_ = sub.conn.Close()
			h.Remove(event.ConversationID, sub.conn)
			h.publishWSError(event.ConversationID, sub.info, err)
		}
	}
}

func (h *Hub) recipients(event models.FeedEvent) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.rooms[event.ConversationID]
	out := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		switch {
		case event.Type == models.EventDelete && event.Scope == models.ScopeMe:
			if sub.info.UserID != event.ViewerID {
				continue
			}
			sub.hidden[event.MessageID] = struct{}{}
		case event.Type == models.EventDelete:
		default:
			if _, hidden := sub.hidden[event.MessageID]; hidden {
				continue
			}
		}
		out = append(out, sub)
	}
	return out
}

func (h *Hub) publishWSError(conversationID int64, info ConnInfo, err error) {
	envelope := observability.WSEvent("ws_error", conversationID, info.ConnID, info.UserID,
		time.Since(info.ConnectedAt).Milliseconds(), err.Error())
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, envelope, headers)
	observability.IncWSEvent("ws_error")
}
