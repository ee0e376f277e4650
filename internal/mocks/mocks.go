package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, msg models.Message, expiresOnSend bool) (models.Message, bool, error) {
	args := m.Called(ctx, msg, expiresOnSend)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, viewerID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkViewed(ctx context.Context, messageID uuid.UUID, startsOnView bool) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, startsOnView)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) DeleteForEveryone(ctx context.Context, messageID uuid.UUID) (models.Message, bool, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) ListExpired(ctx context.Context, kinds []models.MessageKind, limit int) ([]models.Message, error) {
	args := m.Called(ctx, kinds, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type DeletionRepositoryMock struct {
	mock.Mock
}

func (m *DeletionRepositoryMock) Hide(ctx context.Context, entry models.DeletionLedgerEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *DeletionRepositoryMock) IsHidden(ctx context.Context, messageID uuid.UUID, viewerID int64) (bool, error) {
	args := m.Called(ctx, messageID, viewerID)
	return args.Bool(0), args.Error(1)
}

func (m *DeletionRepositoryMock) HiddenForViewer(ctx context.Context, conversationID int64, viewerID int64) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, viewerID)
	var ids []uuid.UUID
	if val := args.Get(0); val != nil {
		ids = val.([]uuid.UUID)
	}
	return ids, args.Error(1)
}

func (m *DeletionRepositoryMock) HideExpired(ctx context.Context, kind models.MessageKind, limit int) ([]repositories.ExpiredHide, error) {
	args := m.Called(ctx, kind, limit)
	var rows []repositories.ExpiredHide
	if val := args.Get(0); val != nil {
		rows = val.([]repositories.ExpiredHide)
	}
	return rows, args.Error(1)
}

type ParticipantRepositoryMock struct {
	mock.Mock
}

func (m *ParticipantRepositoryMock) CreateConversation(ctx context.Context, participantIDs []int64) (models.Conversation, error) {
	args := m.Called(ctx, participantIDs)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ParticipantRepositoryMock) IsParticipant(ctx context.Context, conversationID int64, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.DeletionRepository = (*DeletionRepositoryMock)(nil)
var _ repositories.ParticipantRepository = (*ParticipantRepositoryMock)(nil)
