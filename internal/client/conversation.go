package client

import (
	"sort"

	"github.com/google/uuid"

	"ephemeral-chat/internal/models"
)

// Conversation is one viewer's reconciled copy of a conversation. It is not
// safe for concurrent use; Engine serialises access.
type Conversation struct {
	id       int64
	viewerID int64

	ordered    []models.Message
	tombstones map[uuid.UUID]struct{}
	hidden     map[uuid.UUID]struct{}
}

func NewConversation(id, viewerID int64) *Conversation {
	return &Conversation{
		id:         id,
		viewerID:   viewerID,
		tombstones: make(map[uuid.UUID]struct{}),
		hidden:     make(map[uuid.UUID]struct{}),
	}
}

func (c *Conversation) ID() int64 { return c.id }

// Messages returns the visible messages in (created_at, id) order.
func (c *Conversation) Messages() []models.Message {
	out := make([]models.Message, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Conversation) Get(id uuid.UUID) (models.Message, bool) {
	if i := c.position(id); i >= 0 {
		return c.ordered[i], true
	}
	return models.Message{}, false
}

// Gone reports whether id was deleted globally or hidden for this viewer.
func (c *Conversation) Gone(id uuid.UUID) bool {
	if _, ok := c.tombstones[id]; ok {
		return true
	}
	_, ok := c.hidden[id]
	return ok
}

// Load merges a snapshot as a sequence of inserts.
func (c *Conversation) Load(snapshot []models.Message) []models.FeedEvent {
	var out []models.FeedEvent
	for _, msg := range snapshot {
		if ev, ok := c.Apply(models.InsertEvent(msg)); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Resync merges a fresh snapshot taken after a feed reconnect. Local messages
// missing from it were deleted or hidden while disconnected.
func (c *Conversation) Resync(snapshot []models.Message) []models.FeedEvent {
	present := make(map[uuid.UUID]struct{}, len(snapshot))
	for _, msg := range snapshot {
		present[msg.ID] = struct{}{}
	}
	var out []models.FeedEvent
	for _, msg := range c.Messages() {
		if _, ok := present[msg.ID]; ok {
			continue
		}
		if ev, ok := c.Apply(models.DeleteForEveryoneEvent(c.id, msg.ID)); ok {
			out = append(out, ev)
		}
	}
	return append(out, c.Load(snapshot)...)
}

// Apply reconciles one feed event. It returns the event the rendering layer
// should see, or false when the event changes nothing visible.
func (c *Conversation) Apply(ev models.FeedEvent) (models.FeedEvent, bool) {
	if ev.ConversationID != c.id || ev.MessageID == uuid.Nil {
		return models.FeedEvent{}, false
	}
	if c.Gone(ev.MessageID) {
		return models.FeedEvent{}, false
	}

	switch ev.Type {
	case models.EventDelete:
		if ev.Scope == models.ScopeMe {
			if ev.ViewerID != c.viewerID {
				return models.FeedEvent{}, false
			}
			c.hidden[ev.MessageID] = struct{}{}
		} else {
			c.tombstones[ev.MessageID] = struct{}{}
		}
		if !c.remove(ev.MessageID) {
			return models.FeedEvent{}, false
		}
		return ev, true

	case models.EventInsert, models.EventUpdate:
		if ev.Message == nil {
			return models.FeedEvent{}, false
		}
		if ev.Message.IsDeleted {
			return c.Apply(models.DeleteForEveryoneEvent(c.id, ev.MessageID))
		}
		incoming := *ev.Message
		if i := c.position(ev.MessageID); i >= 0 {
			merged := mergeLifecycle(c.ordered[i], incoming)
			if sameLifecycle(c.ordered[i], merged) {
				return models.FeedEvent{}, false
			}
			c.ordered[i] = merged
			return models.UpdateEvent(merged), true
		}
		c.insert(incoming)
		return models.InsertEvent(incoming), true
	}
	return models.FeedEvent{}, false
}

func (c *Conversation) position(id uuid.UUID) int {
	for i := range c.ordered {
		if c.ordered[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) insert(msg models.Message) {
	i := sort.Search(len(c.ordered), func(i int) bool { return msg.Before(c.ordered[i]) })
	c.ordered = append(c.ordered, models.Message{})
	copy(c.ordered[i+1:], c.ordered[i:])
	c.ordered[i] = msg
}

func (c *Conversation) remove(id uuid.UUID) bool {
	i := c.position(id)
	if i < 0 {
		return false
	}
	c.ordered = append(c.ordered[:i], c.ordered[i+1:]...)
	return true
}

// mergeLifecycle takes incoming as the new copy but never lets a stale copy
// clear viewed_at or expires_at.
func mergeLifecycle(current, incoming models.Message) models.Message {
	merged := incoming
	if merged.ViewedAt == nil {
		merged.ViewedAt = current.ViewedAt
	}
	if merged.ExpiresAt == nil {
		merged.ExpiresAt = current.ExpiresAt
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = current.CreatedAt
	}
	return merged
}

func sameLifecycle(a, b models.Message) bool {
	return timesEqual(a.ViewedAt, b.ViewedAt) && timesEqual(a.ExpiresAt, b.ExpiresAt) &&
		stringsEqual(a.Content, b.Content) && stringsEqual(a.DetectedLanguage, b.DetectedLanguage)
}
