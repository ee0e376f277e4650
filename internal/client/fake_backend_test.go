package client

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ephemeral-chat/internal/lifecycle"
	"ephemeral-chat/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeFeed struct {
	conversationID int64
	ch             chan models.FeedEvent
}

// fakeServer applies the store's lifecycle rules in memory and fans out
// feed events to every subscribed backend.
type fakeServer struct {
	clock *testClock

	mu        sync.Mutex
	messages  map[uuid.UUID]models.Message
	hidden    map[int64]map[uuid.UUID]struct{}
	feeds     []*fakeFeed
	markCalls int
	markErr   error
	transCall int
}

func newFakeServer(clock *testClock) *fakeServer {
	return &fakeServer{
		clock:    clock,
		messages: make(map[uuid.UUID]models.Message),
		hidden:   make(map[int64]map[uuid.UUID]struct{}),
	}
}

func (s *fakeServer) For(viewerID int64) *fakeBackend {
	return &fakeBackend{srv: s, viewer: viewerID}
}

func (s *fakeServer) Send(authorID, conversationID int64, kind models.MessageKind, ttl time.Duration) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	content := "ciao"
	now := s.clock.Now()
	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Content:        &content,
		CreatedAt:      now,
		Kind:           kind,
		TTLSeconds:     int(ttl / time.Second),
	}
	if lifecycle.ExpiresOnSend(kind) {
		expires := now.Add(ttl)
		msg.ExpiresAt = &expires
	}
	s.messages[msg.ID] = msg
	s.broadcastLocked(models.InsertEvent(msg))
	return msg
}

// DropFeeds closes every open feed, simulating a disconnect.
func (s *fakeServer) DropFeeds() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.feeds {
		close(f.ch)
	}
	s.feeds = nil
}

// DeleteQuietly deletes a message without notifying any feed.
func (s *fakeServer) DeleteQuietly(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.messages[id]
	msg.IsDeleted = true
	s.messages[id] = msg
}

func (s *fakeServer) MarkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markCalls
}

func (s *fakeServer) broadcastLocked(ev models.FeedEvent) {
	for _, f := range s.feeds {
		if f.conversationID == ev.ConversationID {
			f.ch <- ev
		}
	}
}

type fakeBackend struct {
	srv    *fakeServer
	viewer int64
}

func (b *fakeBackend) ListMessages(_ context.Context, conversationID int64) ([]models.Message, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for id, msg := range s.messages {
		if msg.ConversationID != conversationID || msg.IsDeleted {
			continue
		}
		if _, hidden := s.hidden[b.viewer][id]; hidden {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (b *fakeBackend) MarkViewed(_ context.Context, _ int64, messageID uuid.UUID) (models.Message, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return models.Message{}, s.markErr
	}
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, &StatusError{StatusCode: http.StatusNotFound}
	}
	if msg.IsDeleted || msg.AuthorID == b.viewer || msg.ViewedAt != nil {
		return msg.Redacted(), nil
	}
	now := s.clock.Now()
	msg.ViewedAt = &now
	if lifecycle.StartsOnView(msg.Kind) {
		expires := now.Add(time.Duration(msg.TTLSeconds) * time.Second)
		msg.ExpiresAt = &expires
	}
	s.messages[messageID] = msg
	s.broadcastLocked(models.UpdateEvent(msg))
	return msg, nil
}

func (b *fakeBackend) RequestDelete(_ context.Context, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return &StatusError{StatusCode: http.StatusNotFound}
	}
	if msg.IsDeleted {
		return nil
	}
	effective, err := lifecycle.ResolveScope(msg, b.viewer, scope, s.clock.Now())
	if err != nil {
		return &StatusError{StatusCode: http.StatusForbidden, Body: err.Error()}
	}
	if effective == models.ScopeEveryone {
		msg.IsDeleted = true
		s.messages[messageID] = msg
		s.broadcastLocked(models.DeleteForEveryoneEvent(conversationID, messageID))
		return nil
	}
	if s.hidden[b.viewer] == nil {
		s.hidden[b.viewer] = make(map[uuid.UUID]struct{})
	}
	if _, done := s.hidden[b.viewer][messageID]; done {
		return nil
	}
	s.hidden[b.viewer][messageID] = struct{}{}
	s.broadcastLocked(models.HideEvent(conversationID, messageID, b.viewer))
	return nil
}

func (b *fakeBackend) Translate(_ context.Context, _ int64, messageID uuid.UUID, target string) (models.Translation, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transCall++
	msg, ok := s.messages[messageID]
	if !ok || msg.IsDeleted || msg.Content == nil {
		return models.Translation{}, errors.New("message is no longer available")
	}
	return models.Translation{MessageID: messageID, TargetLanguage: target, Text: "[" + target + "] " + *msg.Content}, nil
}

func (b *fakeBackend) Subscribe(_ context.Context, conversationID int64) (<-chan models.FeedEvent, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &fakeFeed{conversationID: conversationID, ch: make(chan models.FeedEvent, 256)}
	s.feeds = append(s.feeds, f)
	return f.ch, nil
}

var _ Backend = (*fakeBackend)(nil)
