package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, author_id, content, media, created_at, detected_language, kind, ttl_seconds, viewed_at, expires_at, deleted_at, is_deleted`

// MessageRepository is the canonical message store.
type MessageRepository interface {
	Append(ctx context.Context, msg models.Message, expiresOnSend bool) (models.Message, bool, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error)
	ListForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]models.Message, error)
	MarkViewed(ctx context.Context, messageID uuid.UUID, startsOnView bool) (models.Message, bool, error)
	DeleteForEveryone(ctx context.Context, messageID uuid.UUID) (models.Message, bool, error)
	ListExpired(ctx context.Context, kinds []models.MessageKind, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message in the delivered, unviewed state. A retried append
// with an id that already exists returns the stored row and created=false.
func (r *MessageRepo) Append(ctx context.Context, msg models.Message, expiresOnSend bool) (models.Message, bool, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, author_id, content, media, created_at, detected_language, kind, ttl_seconds, expires_at)
        VALUES ($1, $2, $3, $4, $5, NOW(), $6, $7, $8::int, CASE WHEN $9::boolean THEN NOW() + make_interval(secs => $8::int) ELSE NULL END)
        ON CONFLICT (id) DO NOTHING
        RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.AuthorID, msg.Content, msg.Media, msg.DetectedLanguage, msg.Kind, msg.TTLSeconds, expiresOnSend).
		StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetMessage(ctx, msg.ID)
		return existing, false, getErr
	}
	if err != nil {
		return models.Message{}, false, errors.Wrap(err, "messageRepo.Append")
	}
	return stored, true, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, errors.Wrap(err, "messageRepo.GetMessage")
	}
	return msg, nil
}

// ListForViewer returns the conversation as seen by one viewer: globally
// deleted rows and rows the viewer hid are excluded.
func (r *MessageRepo) ListForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages m
        WHERE m.conversation_id=$1
        AND m.is_deleted = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.viewer_id = $2)
        ORDER BY m.created_at ASC, m.id ASC`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, viewerID); err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListForViewer")
	}
	return msgs, nil
}

// MarkViewed sets viewed_at exactly once. When startsOnView is true the
// expiry is derived from the same instant. Losing or repeated writes read the
// stored row back and report won=false.
func (r *MessageRepo) MarkViewed(ctx context.Context, messageID uuid.UUID, startsOnView bool) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET viewed_at = NOW(),
            expires_at = CASE WHEN $2::boolean AND expires_at IS NULL THEN NOW() + make_interval(secs => ttl_seconds) ELSE expires_at END
        WHERE id=$1 AND viewed_at IS NULL AND is_deleted = FALSE
        RETURNING `+messageColumns, messageID, startsOnView).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetMessage(ctx, messageID)
		return existing, false, getErr
	}
	if err != nil {
		return models.Message{}, false, errors.Wrap(err, "messageRepo.MarkViewed")
	}
	return msg, true, nil
}

// DeleteForEveryone flags the message deleted and erases its payload. A
// message that is already deleted or missing reports deleted=false.
func (r *MessageRepo) DeleteForEveryone(ctx context.Context, messageID uuid.UUID) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET is_deleted = TRUE, deleted_at = NOW(), content = NULL, media = NULL, detected_language = NULL
        WHERE id=$1 AND is_deleted = FALSE
        RETURNING `+messageColumns, messageID).
		StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, errors.Wrap(err, "messageRepo.DeleteForEveryone")
	}
	return msg, true, nil
}

// ListExpired returns live messages of the given kinds whose expiry passed.
func (r *MessageRepo) ListExpired(ctx context.Context, kinds []models.MessageKind, limit int) ([]models.Message, error) {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE is_deleted = FALSE AND expires_at IS NOT NULL AND expires_at <= NOW() AND kind = ANY($1)
        ORDER BY expires_at ASC
        LIMIT $2`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, pq.Array(names), limit); err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListExpired")
	}
	return msgs, nil
}
