package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/telemetry"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// FeedRecorder captures feed events in publish order.
type FeedRecorder struct {
	mu     sync.Mutex
	events []models.FeedEvent
	Err    error
}

func (r *FeedRecorder) Publish(_ context.Context, event models.FeedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *FeedRecorder) Events() []models.FeedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.FeedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// AuditRecorder captures audit payloads.
type AuditRecorder struct {
	mu       sync.Mutex
	Payloads []telemetry.AuditPayload
}

func (r *AuditRecorder) Emit(_ context.Context, _ int64, payload telemetry.AuditPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payloads = append(r.Payloads, payload)
}

// EvictRecorder captures evicted message ids.
type EvictRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
	Err error
}

func (r *EvictRecorder) Evict(_ context.Context, messageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, messageID)
	return r.Err
}

func (r *EvictRecorder) IDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}
