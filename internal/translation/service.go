package translation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperrors"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
)

// MessageSource loads messages the viewer may still read.
type MessageSource interface {
	VisibleMessage(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID) (models.Message, error)
}

// Backend renders text in another language.
type Backend interface {
	Translate(ctx context.Context, text, source, target string) (Result, error)
}

// Service translates messages on demand. It never touches view state.
type Service struct {
	messages MessageSource
	backend  Backend
	cache    Cache
	log      *zap.Logger
}

func NewService(messages MessageSource, backend Backend, cache Cache, log *zap.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Service{messages: messages, backend: backend, cache: cache, log: log}
}

// Translate returns the message's text in target. A message deleted or hidden
// while the backend call was in flight yields the visibility error and the
// result is not cached.
func (s *Service) Translate(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID, target string) (models.Translation, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return models.Translation{}, apperrors.InvalidArg("target_lang is required")
	}

	msg, err := s.messages.VisibleMessage(ctx, viewerID, conversationID, messageID)
	if err != nil {
		return models.Translation{}, err
	}
	if msg.Content == nil || strings.TrimSpace(*msg.Content) == "" {
		return models.Translation{}, apperrors.InvalidArg("message has no text to translate")
	}

	source := ""
	if msg.DetectedLanguage != nil {
		source = *msg.DetectedLanguage
	}
	if source == target {
		observability.IncTranslation("same_language")
		return models.Translation{MessageID: messageID, SourceLanguage: source, TargetLanguage: target, Text: *msg.Content}, nil
	}

	if cached, ok, err := s.cache.Get(ctx, messageID, target); err != nil {
		s.log.Warn("translation cache read failed", zap.String("message_id", messageID.String()), zap.Error(err))
	} else if ok {
		observability.IncTranslation("cache_hit")
		return cached, nil
	}

	res, err := s.backend.Translate(ctx, *msg.Content, source, target)
	if err != nil {
		observability.IncTranslation("error")
		return models.Translation{}, apperrors.Upstream("translation backend failed", err)
	}

	if _, err := s.messages.VisibleMessage(ctx, viewerID, conversationID, messageID); err != nil {
		observability.IncTranslation("discarded")
		return models.Translation{}, err
	}

	if res.DetectedSource != "" {
		source = res.DetectedSource
	}
	tr := models.Translation{MessageID: messageID, SourceLanguage: source, TargetLanguage: target, Text: res.Text}
	if err := s.cache.Set(ctx, tr); err != nil {
		s.log.Warn("translation cache write failed", zap.String("message_id", messageID.String()), zap.Error(err))
	}
	observability.IncTranslation("ok")
	return tr, nil
}
