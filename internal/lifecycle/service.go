package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperrors"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
	"ephemeral-chat/internal/repositories"
	"ephemeral-chat/internal/telemetry"
)

var tracer = otel.Tracer("ephemeral-chat/lifecycle")

// Publisher pushes store mutations onto the change feed.
type Publisher interface {
	Publish(ctx context.Context, event models.FeedEvent) error
}

// LanguageDetector returns an ISO-639-1 code, or "" when unsure.
type LanguageDetector func(text string) string

// Auditor records deletions.
type Auditor interface {
	Emit(ctx context.Context, actorID int64, payload telemetry.AuditPayload)
}

// Evictor forgets derived data, such as cached translations, of a message
// deleted for everyone.
type Evictor interface {
	Evict(ctx context.Context, messageID uuid.UUID) error
}

// TTLBounds bound the per-message time-to-live.
type TTLBounds struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

// SendInput is the author-supplied part of a new message.
type SendInput struct {
	ID      *uuid.UUID
	Content *string
	Media   []string
	Kind    models.MessageKind
	TTL     time.Duration
}

// Service owns every lifecycle transition of the message store.
type Service struct {
	messages     repositories.MessageRepository
	deletions    repositories.DeletionRepository
	participants repositories.ParticipantRepository
	publisher    Publisher
	detect       LanguageDetector
	auditor      Auditor
	evictor      Evictor
	ttl          TTLBounds
	log          *zap.Logger
	now          func() time.Time
}

type Option func(*Service)

func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

func WithEvictor(e Evictor) Option {
	return func(s *Service) { s.evictor = e }
}

func WithLanguageDetector(d LanguageDetector) Option {
	return func(s *Service) { s.detect = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the lifecycle engine.
func NewService(
	messages repositories.MessageRepository,
	deletions repositories.DeletionRepository,
	participants repositories.ParticipantRepository,
	publisher Publisher,
	ttl TTLBounds,
	log *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		messages:     messages,
		deletions:    deletions,
		participants: participants,
		publisher:    publisher,
		ttl:          ttl,
		log:          log,
		detect:       func(string) string { return "" },
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation opens a conversation between the creator and others.
func (s *Service) CreateConversation(ctx context.Context, creatorID int64, participantIDs []int64) (models.Conversation, error) {
	ids := append([]int64{creatorID}, participantIDs...)
	conv, err := s.participants.CreateConversation(ctx, ids)
	if err != nil {
		return models.Conversation{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "could not create conversation", err)
	}
	return conv, nil
}

// Send appends a message in the delivered, unviewed state.
func (s *Service) Send(ctx context.Context, authorID, conversationID int64, in SendInput) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Send", trace.WithAttributes(
		attribute.Int64("conversation.id", conversationID),
		attribute.String("message.kind", string(in.Kind)),
	))
	defer span.End()

	if err := s.requireParticipant(ctx, conversationID, authorID); err != nil {
		return models.Message{}, err
	}
	if in.Kind == "" {
		in.Kind = models.KindStandard
	}
	if !in.Kind.Valid() {
		return models.Message{}, ErrInvalidKind
	}
	hasContent := in.Content != nil && strings.TrimSpace(*in.Content) != ""
	if !hasContent && len(in.Media) == 0 {
		return models.Message{}, ErrEmptyMessage
	}

	ttlSeconds, err := s.resolveTTL(in.Kind, in.TTL)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Media:          in.Media,
		Kind:           in.Kind,
		TTLSeconds:     ttlSeconds,
	}
	if in.ID != nil && *in.ID != uuid.Nil {
		msg.ID = *in.ID
	}
	if hasContent {
		msg.Content = in.Content
		if lang := s.detect(*in.Content); lang != "" {
			msg.DetectedLanguage = &lang
		}
	}

	stored, created, err := s.messages.Append(ctx, msg, ExpiresOnSend(in.Kind))
	if err != nil {
		return models.Message{}, apperrors.Internal("failed to store message", err)
	}
	if !created {
		if stored.AuthorID != authorID || stored.ConversationID != conversationID {
			return models.Message{}, ErrIDConflict
		}
		return stored.Redacted(), nil
	}

	observability.IncMessageSent(string(stored.Kind))
	s.publish(ctx, models.InsertEvent(stored))
	return stored, nil
}

// MarkViewed records the first qualifying view. Repeats, the author's own
// views and views of deleted or hidden messages are no-ops that return the
// canonical row.
func (s *Service) MarkViewed(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.MarkViewed", trace.WithAttributes(
		attribute.Int64("conversation.id", conversationID),
		attribute.String("message.id", messageID.String()),
	))
	defer span.End()

	if err := s.requireParticipant(ctx, conversationID, viewerID); err != nil {
		return models.Message{}, err
	}
	msg, err := s.load(ctx, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted || msg.ViewedAt != nil || msg.AuthorID == viewerID {
		observability.IncViewMark("noop")
		return msg.Redacted(), nil
	}
	hidden, err := s.deletions.IsHidden(ctx, messageID, viewerID)
	if err != nil {
		return models.Message{}, apperrors.Internal("failed to read deletion ledger", err)
	}
	if hidden {
		observability.IncViewMark("noop")
		return msg.Redacted(), nil
	}

	updated, won, err := s.messages.MarkViewed(ctx, messageID, StartsOnView(msg.Kind))
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return tombstone(conversationID, messageID), nil
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("failed to mark viewed", err)
	}
	if !won {
		observability.IncViewMark("noop")
		return updated.Redacted(), nil
	}

	observability.IncViewMark("set")
	s.log.Debug("message viewed",
		zap.Int64("conversation_id", conversationID),
		zap.String("message_id", messageID.String()),
		zap.Int64("viewer_id", viewerID),
	)
	s.publish(ctx, models.UpdateEvent(updated))
	return updated, nil
}

// RequestDelete applies a user or expiry triggered delete. Deleting a message
// that is already gone succeeds without effect.
func (s *Service) RequestDelete(ctx context.Context, actorID, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error {
	ctx, span := tracer.Start(ctx, "lifecycle.RequestDelete", trace.WithAttributes(
		attribute.Int64("conversation.id", conversationID),
		attribute.String("message.id", messageID.String()),
		attribute.String("delete.scope", string(scope)),
	))
	defer span.End()

	if err := s.requireParticipant(ctx, conversationID, actorID); err != nil {
		return err
	}
	msg, err := s.load(ctx, conversationID, messageID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}

	now := s.now()
	effective, err := ResolveScope(msg, actorID, scope, now)
	if err != nil {
		return err
	}
	trigger := "user"
	if msg.Expired(now) {
		trigger = "expiry"
	}

	if effective == models.ScopeEveryone {
		return s.deleteForEveryone(ctx, actorID, msg, trigger)
	}
	return s.hideForViewer(ctx, actorID, msg, trigger)
}

// ListForViewer returns the conversation filtered through the viewer's ledger.
func (s *Service) ListForViewer(ctx context.Context, viewerID, conversationID int64) ([]models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListForViewer(ctx, conversationID, viewerID)
	if err != nil {
		return nil, apperrors.Internal("failed to load messages", err)
	}
	return msgs, nil
}

// VisibleMessage loads a message the viewer may still read.
func (s *Service) VisibleMessage(ctx context.Context, viewerID, conversationID int64, messageID uuid.UUID) (models.Message, error) {
	if err := s.requireParticipant(ctx, conversationID, viewerID); err != nil {
		return models.Message{}, err
	}
	msg, err := s.load(ctx, conversationID, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.IsDeleted {
		return models.Message{}, ErrMessageGone
	}
	hidden, err := s.deletions.IsHidden(ctx, messageID, viewerID)
	if err != nil {
		return models.Message{}, apperrors.Internal("failed to read deletion ledger", err)
	}
	if hidden {
		return models.Message{}, ErrMessageGone
	}
	return msg, nil
}

// HiddenIDs lists what the viewer hid inside the conversation.
func (s *Service) HiddenIDs(ctx context.Context, viewerID, conversationID int64) ([]uuid.UUID, error) {
	ids, err := s.deletions.HiddenForViewer(ctx, conversationID, viewerID)
	if err != nil {
		return nil, apperrors.Internal("failed to read deletion ledger", err)
	}
	return ids, nil
}

// IsParticipant reports conversation membership.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return s.participants.IsParticipant(ctx, conversationID, userID)
}

func (s *Service) deleteForEveryone(ctx context.Context, actorID int64, msg models.Message, trigger string) error {
	_, deleted, err := s.messages.DeleteForEveryone(ctx, msg.ID)
	if err != nil {
		return apperrors.Internal("failed to delete message", err)
	}
	if !deleted {
		return nil
	}
	observability.IncDeletion(string(models.ScopeEveryone), trigger)
	s.audit(ctx, actorID, msg, models.ScopeEveryone, trigger)
	s.publish(ctx, models.DeleteForEveryoneEvent(msg.ConversationID, msg.ID))
	evict(ctx, s.evictor, msg.ID, s.log)
	return nil
}

func (s *Service) hideForViewer(ctx context.Context, viewerID int64, msg models.Message, trigger string) error {
	created, err := s.deletions.Hide(ctx, models.DeletionLedgerEntry{
		MessageID:        msg.ID,
		ViewerID:         viewerID,
		DeletedBy:        viewerID,
		OriginalContent:  msg.Content,
		OriginalLanguage: msg.DetectedLanguage,
	})
	if err != nil {
		return apperrors.Internal("failed to hide message", err)
	}
	if !created {
		return nil
	}
	observability.IncDeletion(string(models.ScopeMe), trigger)
	s.audit(ctx, viewerID, msg, models.ScopeMe, trigger)
	s.publish(ctx, models.HideEvent(msg.ConversationID, msg.ID, viewerID))
	return nil
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID int64) error {
	ok, err := s.participants.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return apperrors.Internal("failed to verify membership", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// load returns the stored row; a missing row reads as a tombstone.
func (s *Service) load(ctx context.Context, conversationID int64, messageID uuid.UUID) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return tombstone(conversationID, messageID), nil
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("failed to load message", err)
	}
	if msg.ConversationID != conversationID {
		return models.Message{}, ErrWrongConversation
	}
	return msg, nil
}

func (s *Service) resolveTTL(kind models.MessageKind, requested time.Duration) (int, error) {
	if _, expiring := ExpiryScope(kind); !expiring {
		return 0, nil
	}
	ttl := requested
	if ttl == 0 {
		ttl = s.ttl.Default
	}
	if ttl < s.ttl.Min || ttl > s.ttl.Max {
		return 0, ErrInvalidTTL
	}
	return int(ttl / time.Second), nil
}

func (s *Service) publish(ctx context.Context, event models.FeedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		observability.IncFeedPublishError()
		s.log.Warn("feed publish failed",
			zap.String("type", string(event.Type)),
			zap.Int64("conversation_id", event.ConversationID),
			zap.String("message_id", event.MessageID.String()),
			zap.Error(err),
		)
		return
	}
	observability.IncFeedEvent(string(event.Type))
}

func (s *Service) audit(ctx context.Context, actorID int64, msg models.Message, scope models.DeleteScope, trigger string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, actorID, telemetry.AuditPayload{
		Action:         "message_deleted",
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID.String(),
		Scope:          string(scope),
		Trigger:        trigger,
	})
}

func tombstone(conversationID int64, messageID uuid.UUID) models.Message {
	return models.Message{ID: messageID, ConversationID: conversationID, IsDeleted: true}
}

func evict(ctx context.Context, e Evictor, messageID uuid.UUID, log *zap.Logger) {
	if e == nil {
		return
	}
	if err := e.Evict(ctx, messageID); err != nil {
		log.Warn("derived data eviction failed", zap.String("message_id", messageID.String()), zap.Error(err))
	}
}
