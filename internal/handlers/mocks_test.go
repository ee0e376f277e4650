package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ephemeral-chat/internal/lifecycle"
	"ephemeral-chat/internal/models"
)

type messageServiceMock struct {
	mock.Mock
}

func (m *messageServiceMock) CreateConversation(ctx context.Context, creatorID int64, participantIDs []int64) (models.Conversation, error) {
	args := m.Called(ctx, creatorID, participantIDs)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func (m *messageServiceMock) Send(ctx context.Context, authorID, conversationID int64, in lifecycle.SendInput) (models.Message, error) {
	args := m.Called(ctx, authorID, conversationID, in)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *messageServiceMock) MarkViewed(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID) (models.Message, error) {
	args := m.Called(ctx, viewerID, conversationID, messageID)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *messageServiceMock) RequestDelete(ctx context.Context, actorID, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error {
	args := m.Called(ctx, actorID, conversationID, messageID, scope)
	return args.Error(0)
}

func (m *messageServiceMock) ListForViewer(ctx context.Context, viewerID, conversationID int64) ([]models.Message, error) {
	args := m.Called(ctx, viewerID, conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type translatorMock struct {
	mock.Mock
}

func (m *translatorMock) Translate(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID, target string) (models.Translation, error) {
	args := m.Called(ctx, viewerID, conversationID, messageID, target)
	return args.Get(0).(models.Translation), args.Error(1)
}
