package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ephemeral-chat/internal/models"
)

// subscription queues reconciled events for one rendering surface. The
// queue is unbounded so the engine never blocks on a slow reader.
type subscription struct {
	out  chan models.FeedEvent
	wake chan struct{}

	mu    sync.Mutex
	queue []models.FeedEvent
}

func newSubscription(buffer int) *subscription {
	return &subscription{
		out:  make(chan models.FeedEvent, buffer),
		wake: make(chan struct{}, 1),
	}
}

func (s *subscription) push(ev models.FeedEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) forward(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// pump applies feed events until ctx is done, reconnecting and resyncing
// whenever the feed closes.
func (e *Engine) pump(ctx context.Context, cancel context.CancelFunc, convID int64, feed <-chan models.FeedEvent) {
	defer cancel()
	defer e.dropConversation(convID)

	cancelFeed := func() {}
	defer func() { cancelFeed() }()

	for {
		e.drain(ctx, convID, feed)
		cancelFeed()
		if ctx.Err() != nil {
			return
		}
		e.log.Info("feed closed, reconnecting", zap.Int64("conversation_id", convID))

		feedCtx, cancel := context.WithCancel(ctx)
		next, err := e.reconnect(feedCtx, convID)
		if err != nil {
			cancel()
			return
		}
		feed, cancelFeed = next, cancel
	}
}

func (e *Engine) drain(ctx context.Context, convID int64, feed <-chan models.FeedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			e.handleFeed(convID, ev)
		}
	}
}

func (e *Engine) reconnect(ctx context.Context, convID int64) (<-chan models.FeedEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.ReconnectDelay):
		}

		feed, err := e.backend.Subscribe(ctx, convID)
		if err != nil {
			e.log.Warn("feed resubscribe failed", zap.Int64("conversation_id", convID), zap.Error(err))
			continue
		}
		snapshot, err := e.backend.ListMessages(ctx, convID)
		if err != nil {
			e.log.Warn("snapshot reload failed", zap.Int64("conversation_id", convID), zap.Error(err))
			continue
		}
		e.resync(convID, snapshot)
		return feed, nil
	}
}

func (e *Engine) resync(convID int64, snapshot []models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[convID]
	if !ok {
		return
	}
	for _, ev := range conv.Resync(snapshot) {
		if ev.Type == models.EventDelete {
			e.forgetLocked(ev.MessageID)
		}
		e.emitLocked(convID, ev)
	}
}

// HideHandle is a pending delete-for-me inside its grace countdown.
type HideHandle struct {
	engine         *Engine
	messageID      uuid.UUID
	conversationID int64
	deadline       time.Time

	cancelled bool
	committed bool
}

func (h *HideHandle) MessageID() uuid.UUID { return h.messageID }

// Deadline is when the hide commits unless cancelled.
func (h *HideHandle) Deadline() time.Time { return h.deadline }

// Cancel aborts the countdown. It returns false once the hide has
// committed or was already cancelled.
func (h *HideHandle) Cancel() bool {
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.committed || h.cancelled {
		return false
	}
	h.cancelled = true
	if e.hides[h.messageID] == h {
		delete(e.hides, h.messageID)
	}
	return true
}

func (h *HideHandle) dueLocked(now time.Time) bool {
	return !h.cancelled && !h.committed && !now.Before(h.deadline)
}
