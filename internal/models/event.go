package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// FeedEvent is emitted over the change feed. Insert and update carry the
// redacted message; delete carries the scope and, for scope "me", the viewer.
type FeedEvent struct {
	Type           EventType   `json:"type"`
	ConversationID int64       `json:"conversation_id"`
	MessageID      uuid.UUID   `json:"message_id"`
	Message        *Message    `json:"message,omitempty"`
	Scope          DeleteScope `json:"scope,omitempty"`
	ViewerID       int64       `json:"viewer_id,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func InsertEvent(msg Message) FeedEvent {
	redacted := msg.Redacted()
	return FeedEvent{Type: EventInsert, ConversationID: msg.ConversationID, MessageID: msg.ID, Message: &redacted, OccurredAt: time.Now().UTC()}
}

func UpdateEvent(msg Message) FeedEvent {
	redacted := msg.Redacted()
	return FeedEvent{Type: EventUpdate, ConversationID: msg.ConversationID, MessageID: msg.ID, Message: &redacted, OccurredAt: time.Now().UTC()}
}

func DeleteForEveryoneEvent(conversationID int64, messageID uuid.UUID) FeedEvent {
	return FeedEvent{Type: EventDelete, ConversationID: conversationID, MessageID: messageID, Scope: ScopeEveryone, OccurredAt: time.Now().UTC()}
}

func HideEvent(conversationID int64, messageID uuid.UUID, viewerID int64) FeedEvent {
	return FeedEvent{Type: EventDelete, ConversationID: conversationID, MessageID: messageID, Scope: ScopeMe, ViewerID: viewerID, OccurredAt: time.Now().UTC()}
}
