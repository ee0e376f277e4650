package client

import (
	"time"

	"github.com/google/uuid"

	"ephemeral-chat/internal/models"
)

const (
	DefaultMinCoverage = 0.5
	DefaultMinDwell    = time.Second
)

// TriggerConfig sets what counts as "actually seen".
type TriggerConfig struct {
	MinCoverage float64
	MinDwell    time.Duration
}

func (c TriggerConfig) withDefaults() TriggerConfig {
	if c.MinCoverage <= 0 {
		c.MinCoverage = DefaultMinCoverage
	}
	if c.MinDwell <= 0 {
		c.MinDwell = DefaultMinDwell
	}
	return c
}

// ViewTrigger decides when a rendered message has been seen long enough to
// mark it viewed. Each message fires at most once unless Rearm is called.
type ViewTrigger struct {
	cfg          TriggerConfig
	viewerID     int64
	visibleSince map[uuid.UUID]time.Time
	requested    map[uuid.UUID]struct{}
}

func NewViewTrigger(viewerID int64, cfg TriggerConfig) *ViewTrigger {
	return &ViewTrigger{
		cfg:          cfg.withDefaults(),
		viewerID:     viewerID,
		visibleSince: make(map[uuid.UUID]time.Time),
		requested:    make(map[uuid.UUID]struct{}),
	}
}

// Eligible reports whether msg could still be marked viewed by this viewer.
func (t *ViewTrigger) Eligible(msg models.Message) bool {
	if msg.AuthorID == t.viewerID || msg.ViewedAt != nil || msg.IsDeleted {
		return false
	}
	_, done := t.requested[msg.ID]
	return !done
}

// Observe records the message's viewport coverage at now and returns true
// exactly when markViewed should be issued.
func (t *ViewTrigger) Observe(msg models.Message, coverage float64, now time.Time) bool {
	if !t.Eligible(msg) {
		delete(t.visibleSince, msg.ID)
		return false
	}
	if coverage < t.cfg.MinCoverage {
		delete(t.visibleSince, msg.ID)
		return false
	}
	since, ok := t.visibleSince[msg.ID]
	if !ok {
		since = now
		t.visibleSince[msg.ID] = now
	}
	if now.Sub(since) < t.cfg.MinDwell {
		return false
	}
	t.Claim(msg.ID)
	return true
}

// Claim marks id as requested so later visibility does not re-fire.
func (t *ViewTrigger) Claim(id uuid.UUID) {
	delete(t.visibleSince, id)
	t.requested[id] = struct{}{}
}

// Rearm forgets a failed request so the next qualifying visibility retries.
func (t *ViewTrigger) Rearm(id uuid.UUID) {
	delete(t.requested, id)
}

// Forget drops all state for a message that is gone.
func (t *ViewTrigger) Forget(id uuid.UUID) {
	delete(t.visibleSince, id)
	delete(t.requested, id)
}
