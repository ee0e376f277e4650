package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

// SweepActorID is recorded as deleted_by for ledger rows written by the expiry sweep.
const SweepActorID int64 = 0

// ExpiredHide is a ledger row created by the expiry sweep.
type ExpiredHide struct {
	MessageID      uuid.UUID `db:"message_id"`
	ViewerID       int64     `db:"viewer_id"`
	ConversationID int64     `db:"conversation_id"`
}

// DeletionRepository is the per-viewer deletion ledger.
type DeletionRepository interface {
	Hide(ctx context.Context, entry models.DeletionLedgerEntry) (bool, error)
	IsHidden(ctx context.Context, messageID uuid.UUID, viewerID int64) (bool, error)
	HiddenForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]uuid.UUID, error)
	HideExpired(ctx context.Context, kind models.MessageKind, limit int) ([]ExpiredHide, error)
}

// DeletionRepo is a sqlx implementation of DeletionRepository.
type DeletionRepo struct {
	db *sqlx.DB
}

// NewDeletionRepo constructs a DeletionRepo.
func NewDeletionRepo(db *sqlx.DB) *DeletionRepo {
	return &DeletionRepo{db: db}
}

// Hide records the entry once. A second hide for the same pair is a no-op and
// reports created=false; the original row is never updated.
func (r *DeletionRepo) Hide(ctx context.Context, entry models.DeletionLedgerEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_deletions (message_id, viewer_id, deleted_at, deleted_by, original_content_snapshot, original_language_snapshot)
        VALUES ($1, $2, NOW(), $3, $4, $5)
        ON CONFLICT (message_id, viewer_id) DO NOTHING`,
		entry.MessageID, entry.ViewerID, entry.DeletedBy, entry.OriginalContent, entry.OriginalLanguage)
	if err != nil {
		return false, errors.Wrap(err, "deletionRepo.Hide")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "deletionRepo.Hide.RowsAffected")
	}
	return count > 0, nil
}

// IsHidden reports whether the viewer hid the message.
func (r *DeletionRepo) IsHidden(ctx context.Context, messageID uuid.UUID, viewerID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM message_deletions WHERE message_id=$1 AND viewer_id=$2)`, messageID, viewerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrap(err, "deletionRepo.IsHidden")
	}
	return exists, nil
}

// HiddenForViewer lists ids the viewer hid inside one conversation.
func (r *DeletionRepo) HiddenForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `SELECT d.message_id FROM message_deletions d
        JOIN messages m ON m.id = d.message_id
        WHERE m.conversation_id=$1 AND d.viewer_id=$2`, conversationID, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "deletionRepo.HiddenForViewer")
	}
	return ids, nil
}

// HideExpired writes ledger rows for every non-author participant of expired
// messages of the given kind that they have not hidden yet.
func (r *DeletionRepo) HideExpired(ctx context.Context, kind models.MessageKind, limit int) ([]ExpiredHide, error) {
	query := `WITH pending AS (
            SELECT m.id AS message_id, p.user_id AS viewer_id, m.content, m.detected_language
            FROM messages m
            JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id <> m.author_id
            WHERE m.kind = $1 AND m.is_deleted = FALSE AND m.expires_at IS NOT NULL AND m.expires_at <= NOW()
            AND NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = m.id AND d.viewer_id = p.user_id)
            ORDER BY m.expires_at ASC
            LIMIT $2
        ), inserted AS (
            INSERT INTO message_deletions (message_id, viewer_id, deleted_at, deleted_by, original_content_snapshot, original_language_snapshot)
            SELECT message_id, viewer_id, NOW(), $3, content, detected_language FROM pending
            ON CONFLICT (message_id, viewer_id) DO NOTHING
            RETURNING message_id, viewer_id
        )
        SELECT i.message_id, i.viewer_id, m.conversation_id FROM inserted i JOIN messages m ON m.id = i.message_id`
	rows := []ExpiredHide{}
	if err := r.db.SelectContext(ctx, &rows, query, kind, limit, SweepActorID); err != nil {
		return nil, errors.Wrap(err, "deletionRepo.HideExpired")
	}
	return rows, nil
}
