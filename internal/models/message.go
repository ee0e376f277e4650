package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MessageKind fixes the deletion policy of a message at creation time.
type MessageKind string

const (
	KindStandard           MessageKind = "standard"
	KindEphemeralBroadcast MessageKind = "ephemeral_broadcast"
	KindPersonalHide       MessageKind = "personal_hide"
	KindTimed              MessageKind = "timed"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindStandard, KindEphemeralBroadcast, KindPersonalHide, KindTimed:
		return true
	}
	return false
}

// DeleteScope selects between a per-viewer hide and a global delete.
type DeleteScope string

const (
	ScopeMe       DeleteScope = "me"
	ScopeEveryone DeleteScope = "everyone"
)

func (s DeleteScope) Valid() bool {
	return s == ScopeMe || s == ScopeEveryone
}

// Message represents a conversation message and its lifecycle fields.
type Message struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	ConversationID   int64          `db:"conversation_id" json:"conversation_id"`
	AuthorID         int64          `db:"author_id" json:"author_id"`
	Content          *string        `db:"content" json:"content,omitempty"`
	Media            pq.StringArray `db:"media" json:"media,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	DetectedLanguage *string        `db:"detected_language" json:"detected_language,omitempty"`
	Kind             MessageKind    `db:"kind" json:"kind"`
	TTLSeconds       int            `db:"ttl_seconds" json:"ttl_seconds"`
	ViewedAt         *time.Time     `db:"viewed_at" json:"viewed_at,omitempty"`
	ExpiresAt        *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	DeletedAt        *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	IsDeleted        bool           `db:"is_deleted" json:"is_deleted"`
}

// Redacted returns a copy safe to hand to any client: deleted messages never
// carry content or media.
func (m Message) Redacted() Message {
	if !m.IsDeleted {
		return m
	}
	m.Content = nil
	m.Media = nil
	m.DetectedLanguage = nil
	return m
}

// Before orders messages by creation time, ties broken by id.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

// Expired reports whether the message has a canonical expiry at or before now.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// DeletionLedgerEntry records that one viewer hid one message for themselves.
type DeletionLedgerEntry struct {
	MessageID        uuid.UUID `db:"message_id" json:"message_id"`
	ViewerID         int64     `db:"viewer_id" json:"viewer_id"`
	DeletedAt        time.Time `db:"deleted_at" json:"deleted_at"`
	DeletedBy        int64     `db:"deleted_by" json:"deleted_by"`
	OriginalContent  *string   `db:"original_content_snapshot" json:"-"`
	OriginalLanguage *string   `db:"original_language_snapshot" json:"-"`
}

// Translation is a translated rendition of one message.
type Translation struct {
	MessageID      uuid.UUID `json:"message_id"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language"`
	Text           string    `json:"text"`
}
