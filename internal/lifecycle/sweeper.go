package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
	"ephemeral-chat/internal/repositories"
	"ephemeral-chat/internal/telemetry"
)

// maxSweepBatches caps how many full batches a single sweep drains.
const maxSweepBatches = 20

// SweepResult counts what one sweep changed.
type SweepResult struct {
	Deleted int
	Hidden  int
}

// Sweeper is the authoritative expiry path: it deletes whatever clients did
// not delete themselves once expires_at has passed.
type Sweeper struct {
	messages  repositories.MessageRepository
	deletions repositories.DeletionRepository
	publisher Publisher
	auditor   Auditor
	evictor   Evictor
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

type SweeperOption func(*Sweeper)

// WithSweepEvictor drops derived data of messages the sweep deletes.
func WithSweepEvictor(e Evictor) SweeperOption {
	return func(s *Sweeper) { s.evictor = e }
}

func NewSweeper(
	messages repositories.MessageRepository,
	deletions repositories.DeletionRepository,
	publisher Publisher,
	auditor Auditor,
	interval time.Duration,
	batchSize int,
	log *zap.Logger,
	opts ...SweeperOption,
) *Sweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	s := &Sweeper{
		messages:  messages,
		deletions: deletions,
		publisher: publisher,
		auditor:   auditor,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	res, err := s.Sweep(ctx)
	if err != nil {
		observability.IncSweepRun("error")
		s.log.Warn("expiry sweep failed", zap.Error(err))
		return
	}
	observability.IncSweepRun("ok")
	if res.Deleted > 0 || res.Hidden > 0 {
		s.log.Info("expiry sweep applied", zap.Int("deleted", res.Deleted), zap.Int("hidden", res.Hidden))
	}
}

// Sweep applies every pending expiry according to the kind's policy.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	for i := 0; i < maxSweepBatches; i++ {
		expired, err := s.messages.ListExpired(ctx, GlobalExpiryKinds(), s.batchSize)
		if err != nil {
			return res, err
		}
		for _, msg := range expired {
			_, deleted, err := s.messages.DeleteForEveryone(ctx, msg.ID)
			if err != nil {
				return res, err
			}
			if !deleted {
				continue
			}
			res.Deleted++
			observability.IncDeletion(string(models.ScopeEveryone), "sweep")
			s.audit(ctx, msg.ConversationID, msg.ID.String(), models.ScopeEveryone)
			s.publish(ctx, models.DeleteForEveryoneEvent(msg.ConversationID, msg.ID))
			evict(ctx, s.evictor, msg.ID, s.log)
		}
		if len(expired) < s.batchSize {
			break
		}
	}

	for i := 0; i < maxSweepBatches; i++ {
		hides, err := s.deletions.HideExpired(ctx, models.KindPersonalHide, s.batchSize)
		if err != nil {
			return res, err
		}
		for _, h := range hides {
			res.Hidden++
			observability.IncDeletion(string(models.ScopeMe), "sweep")
			s.audit(ctx, h.ConversationID, h.MessageID.String(), models.ScopeMe)
			s.publish(ctx, models.HideEvent(h.ConversationID, h.MessageID, h.ViewerID))
		}
		if len(hides) < s.batchSize {
			break
		}
	}
	return res, nil
}

func (s *Sweeper) publish(ctx context.Context, event models.FeedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		observability.IncFeedPublishError()
		s.log.Warn("feed publish failed", zap.String("message_id", event.MessageID.String()), zap.Error(err))
		return
	}
	observability.IncFeedEvent(string(event.Type))
}

func (s *Sweeper) audit(ctx context.Context, conversationID int64, messageID string, scope models.DeleteScope) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, repositories.SweepActorID, telemetry.AuditPayload{
		Action:         "message_deleted",
		ConversationID: conversationID,
		MessageID:      messageID,
		Scope:          string(scope),
		Trigger:        "sweep",
	})
}
