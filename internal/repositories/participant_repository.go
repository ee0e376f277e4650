package repositories

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"ephemeral-chat/internal/models"
)

// ParticipantRepository abstracts conversation membership.
type ParticipantRepository interface {
	CreateConversation(ctx context.Context, participantIDs []int64) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error)
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// CreateConversation inserts a conversation with its distinct participants.
func (r *ParticipantRepo) CreateConversation(ctx context.Context, participantIDs []int64) (models.Conversation, error) {
	ids := uniqueSorted(participantIDs)
	if len(ids) < 2 {
		return models.Conversation{}, errors.New("conversation needs at least two participants")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, errors.Wrap(err, "participantRepo.CreateConversation.Begin")
	}
	defer func() { _ = tx.Rollback() }()

	var conv models.Conversation
	if err := tx.QueryRowxContext(ctx, `INSERT INTO conversations DEFAULT VALUES RETURNING id, created_at`).
		Scan(&conv.ID, &conv.CreatedAt); err != nil {
		return models.Conversation{}, errors.Wrap(err, "participantRepo.CreateConversation.Insert")
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, id); err != nil {
			return models.Conversation{}, errors.Wrap(err, "participantRepo.CreateConversation.Participant")
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, errors.Wrap(err, "participantRepo.CreateConversation.Commit")
	}
	conv.Participants = ids
	return conv, nil
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ParticipantRepo) IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	if err != nil {
		return false, errors.Wrap(err, "participantRepo.IsParticipant")
	}
	return exists, nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
