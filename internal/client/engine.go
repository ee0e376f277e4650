package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ephemeral-chat/internal/lifecycle"
	"ephemeral-chat/internal/models"
)

// Backend is the persistence and change-feed substrate the engine talks to.
type Backend interface {
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	MarkViewed(ctx context.Context, conversationID int64, messageID uuid.UUID) (models.Message, error)
	RequestDelete(ctx context.Context, conversationID int64, messageID uuid.UUID, scope models.DeleteScope) error
	Translate(ctx context.Context, conversationID int64, messageID uuid.UUID, target string) (models.Translation, error)
	Subscribe(ctx context.Context, conversationID int64) (<-chan models.FeedEvent, error)
}

type Config struct {
	ViewerID       int64
	Trigger        TriggerConfig
	HideGrace      time.Duration
	TickInterval   time.Duration
	WriteTimeout   time.Duration
	ReconnectDelay time.Duration
	Buffer         int
}

func (c Config) withDefaults() Config {
	if c.HideGrace <= 0 {
		c.HideGrace = 10 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	return c
}

// MessageState is the lifecycle phase shown for a message.
type MessageState string

const (
	StateActive   MessageState = "active"
	StateCounting MessageState = "counting"
	// StateExpiring is terminal: the countdown hit zero locally and the
	// message stays until the store confirms deletion.
	StateExpiring MessageState = "expiring"
	StateGone     MessageState = "gone"
)

type pendingDelete struct {
	conversationID int64
	scope          models.DeleteScope
	inFlight       bool
}

type translationKey struct {
	messageID uuid.UUID
	target    string
}

// Engine is one viewer's lifecycle engine. Rendering surfaces subscribe to
// conversations, report visibility and read countdowns; the engine issues
// the view and delete writes.
type Engine struct {
	backend Backend
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	spawn   func(func())

	mu           sync.Mutex
	convs        map[int64]*Conversation
	subs         map[int64]*subscription
	owner        map[uuid.UUID]int64
	trigger      *ViewTrigger
	coverage     map[uuid.UUID]float64
	pending      map[uuid.UUID]*pendingDelete
	abandoned    map[uuid.UUID]struct{}
	hides        map[uuid.UUID]*HideHandle
	translations map[translationKey]models.Translation
	translateErr map[uuid.UUID]error
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSpawn replaces the goroutine used for network writes.
func WithSpawn(spawn func(func())) Option {
	return func(e *Engine) { e.spawn = spawn }
}

func NewEngine(backend Backend, cfg Config, log *zap.Logger, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		backend:      backend,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
		spawn:        func(f func()) { go f() },
		convs:        make(map[int64]*Conversation),
		subs:         make(map[int64]*subscription),
		owner:        make(map[uuid.UUID]int64),
		trigger:      NewViewTrigger(cfg.ViewerID, cfg.Trigger),
		coverage:     make(map[uuid.UUID]float64),
		pending:      make(map[uuid.UUID]*pendingDelete),
		abandoned:    make(map[uuid.UUID]struct{}),
		hides:        make(map[uuid.UUID]*HideHandle),
		translations: make(map[translationKey]models.Translation),
		translateErr: make(map[uuid.UUID]error),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe opens the conversation's feed, loads the snapshot and returns
// the reconciled event stream. The stream closes when ctx is done.
func (e *Engine) Subscribe(ctx context.Context, conversationID int64) (<-chan models.FeedEvent, error) {
	conv := NewConversation(conversationID, e.cfg.ViewerID)
	sub := newSubscription(e.cfg.Buffer)

	e.mu.Lock()
	if _, exists := e.convs[conversationID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("client: conversation %d already subscribed", conversationID)
	}
	e.convs[conversationID] = conv
	e.subs[conversationID] = sub
	e.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	fail := func(err error) (<-chan models.FeedEvent, error) {
		cancel()
		e.mu.Lock()
		if e.convs[conversationID] == conv {
			delete(e.convs, conversationID)
			delete(e.subs, conversationID)
		}
		e.mu.Unlock()
		return nil, err
	}

	feed, err := e.backend.Subscribe(subCtx, conversationID)
	if err != nil {
		return fail(fmt.Errorf("client: subscribe: %w", err))
	}
	snapshot, err := e.backend.ListMessages(subCtx, conversationID)
	if err != nil {
		return fail(fmt.Errorf("client: load snapshot: %w", err))
	}

	e.mu.Lock()
	for _, ev := range conv.Load(snapshot) {
		e.emitLocked(conversationID, ev)
	}
	e.mu.Unlock()

	go sub.forward(subCtx)
	go e.pump(subCtx, cancel, conversationID, feed)
	return sub.out, nil
}

// Messages returns the visible messages of a subscribed conversation.
func (e *Engine) Messages(conversationID int64) []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if conv, ok := e.convs[conversationID]; ok {
		return conv.Messages()
	}
	return nil
}

// ReportVisibility records the fraction of the viewport a message covers.
func (e *Engine) ReportVisibility(messageID uuid.UUID, coverage float64) {
	now := e.now()
	e.mu.Lock()
	if coverage <= 0 {
		delete(e.coverage, messageID)
	} else {
		e.coverage[messageID] = coverage
	}
	var job func()
	if msg, convID, ok := e.lookupLocked(messageID); ok && e.trigger.Observe(msg, coverage, now) {
		job = e.markViewedJob(convID, messageID)
	}
	e.mu.Unlock()

	if job != nil {
		e.spawn(job)
	}
}

// MarkViewed requests the view write directly. Own messages, viewed
// messages and requests already issued are skipped.
func (e *Engine) MarkViewed(messageID uuid.UUID) {
	e.mu.Lock()
	msg, convID, ok := e.lookupLocked(messageID)
	if !ok || !e.trigger.Eligible(msg) {
		e.mu.Unlock()
		return
	}
	e.trigger.Claim(messageID)
	job := e.markViewedJob(convID, messageID)
	e.mu.Unlock()

	e.spawn(job)
}

// RequestDelete deletes for everyone immediately, or starts the grace
// countdown of a hide for this viewer and returns its handle.
func (e *Engine) RequestDelete(messageID uuid.UUID, scope models.DeleteScope) (*HideHandle, error) {
	now := e.now()
	e.mu.Lock()
	msg, convID, ok := e.lookupLocked(messageID)
	if !ok {
		gone := e.goneLocked(messageID)
		e.mu.Unlock()
		if gone {
			return nil, nil
		}
		return nil, ErrUnknownMessage
	}

	effective, err := lifecycle.ResolveScope(msg, e.cfg.ViewerID, scope, now)
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrNotPermitted, err)
	}

	if effective == models.ScopeEveryone {
		job := e.deleteJobLocked(convID, messageID, models.ScopeEveryone)
		e.mu.Unlock()
		if job != nil {
			e.spawn(job)
		}
		return nil, nil
	}

	if h, ok := e.hides[messageID]; ok {
		e.mu.Unlock()
		return h, nil
	}
	h := &HideHandle{engine: e, messageID: messageID, conversationID: convID, deadline: now.Add(e.cfg.HideGrace)}
	e.hides[messageID] = h
	e.mu.Unlock()
	return h, nil
}

// RemainingSeconds is the countdown of a viewed message, or nil.
func (e *Engine) RemainingSeconds(messageID uuid.UUID) *int {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, _, ok := e.lookupLocked(messageID)
	if !ok {
		return nil
	}
	return RemainingSeconds(e.countdownLocked(msg), now)
}

// ViewState is RemainingSeconds with the urgency flag.
func (e *Engine) ViewState(messageID uuid.UUID) (ViewState, bool) {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, _, ok := e.lookupLocked(messageID)
	if !ok {
		return ViewState{}, false
	}
	return viewStateOf(e.countdownLocked(msg), now)
}

func (e *Engine) State(messageID uuid.UUID) MessageState {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, _, ok := e.lookupLocked(messageID)
	if !ok {
		return StateGone
	}
	expiresAt := e.countdownLocked(msg)
	switch {
	case expiresAt == nil:
		return StateActive
	case now.Before(*expiresAt):
		return StateCounting
	default:
		return StateExpiring
	}
}

// Tick advances dwell detection, fires expiry deletes, commits elapsed hide
// countdowns and retries failed deletes.
func (e *Engine) Tick(now time.Time) {
	var jobs []func()

	e.mu.Lock()
	for id, h := range e.hides {
		if !h.dueLocked(now) {
			continue
		}
		h.committed = true
		delete(e.hides, id)
		if job := e.deleteJobLocked(h.conversationID, id, models.ScopeMe); job != nil {
			jobs = append(jobs, job)
		}
	}
	for convID, conv := range e.convs {
		for _, msg := range conv.Messages() {
			if cov, ok := e.coverage[msg.ID]; ok && e.trigger.Observe(msg, cov, now) {
				jobs = append(jobs, e.markViewedJob(convID, msg.ID))
			}
			if job := e.expiryJobLocked(convID, msg, now); job != nil {
				jobs = append(jobs, job)
			}
		}
	}
	for id, p := range e.pending {
		if job := e.deleteJobLocked(p.conversationID, id, p.scope); job != nil {
			jobs = append(jobs, job)
		}
	}
	e.mu.Unlock()

	for _, job := range jobs {
		e.spawn(job)
	}
}

// Run drives Tick until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(e.now())
		}
	}
}

// Translate returns the message text in target, cached for the session.
func (e *Engine) Translate(ctx context.Context, messageID uuid.UUID, target string) (string, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return "", fmt.Errorf("client: empty target language")
	}
	key := translationKey{messageID: messageID, target: target}

	e.mu.Lock()
	_, convID, ok := e.lookupLocked(messageID)
	if !ok {
		gone := e.goneLocked(messageID)
		e.mu.Unlock()
		if gone {
			return "", ErrMessageGone
		}
		return "", ErrUnknownMessage
	}
	if tr, ok := e.translations[key]; ok {
		e.mu.Unlock()
		return tr.Text, nil
	}
	e.mu.Unlock()

	tr, err := e.backend.Translate(ctx, convID, messageID, target)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.goneLocked(messageID) {
		return "", ErrMessageGone
	}
	if err != nil {
		e.translateErr[messageID] = err
		return "", err
	}
	delete(e.translateErr, messageID)
	e.translations[key] = tr
	return tr.Text, nil
}

// TranslationError is the last translation failure of a message, if any.
func (e *Engine) TranslationError(messageID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.translateErr[messageID]
}

// countdownLocked is the expiry this viewer sees. The author of a
// personal_hide message keeps it, so there is no countdown for them.
func (e *Engine) countdownLocked(msg models.Message) *time.Time {
	if scope, ok := lifecycle.ExpiryScope(msg.Kind); ok && scope == models.ScopeMe && msg.AuthorID == e.cfg.ViewerID {
		return nil
	}
	return msg.ExpiresAt
}

func (e *Engine) markViewedJob(convID int64, messageID uuid.UUID) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
		defer cancel()
		msg, err := e.backend.MarkViewed(ctx, convID, messageID)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			if !permanent(err) {
				e.trigger.Rearm(messageID)
			}
			e.log.Debug("mark viewed failed", zap.String("message_id", messageID.String()), zap.Error(err))
			return
		}
		msg.ID = messageID
		msg.ConversationID = convID
		e.applyLocked(convID, models.UpdateEvent(msg))
	}
}

func (e *Engine) expiryJobLocked(convID int64, msg models.Message, now time.Time) func() {
	scope, expiring := lifecycle.ExpiryScope(msg.Kind)
	if !expiring || !msg.Expired(now) {
		return nil
	}
	if scope == models.ScopeMe && msg.AuthorID == e.cfg.ViewerID {
		return nil
	}
	if _, ok := e.abandoned[msg.ID]; ok {
		return nil
	}
	if _, ok := e.pending[msg.ID]; ok {
		return nil
	}
	return e.deleteJobLocked(convID, msg.ID, scope)
}

// deleteJobLocked registers a pending delete and returns the write, or nil
// when one is already in flight.
func (e *Engine) deleteJobLocked(convID int64, messageID uuid.UUID, scope models.DeleteScope) func() {
	p, ok := e.pending[messageID]
	if !ok {
		p = &pendingDelete{conversationID: convID, scope: scope}
		e.pending[messageID] = p
	}
	if scope == models.ScopeEveryone {
		p.scope = scope
	}
	if p.inFlight {
		return nil
	}
	p.inFlight = true
	scope = p.scope

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
		defer cancel()
		err := e.backend.RequestDelete(ctx, convID, messageID, scope)

		e.mu.Lock()
		defer e.mu.Unlock()
		p.inFlight = false
		if err != nil {
			if permanent(err) {
				delete(e.pending, messageID)
				e.abandoned[messageID] = struct{}{}
			}
			e.log.Debug("delete failed",
				zap.String("message_id", messageID.String()),
				zap.String("scope", string(scope)),
				zap.Error(err),
			)
			return
		}
		delete(e.pending, messageID)
		if scope == models.ScopeEveryone {
			e.applyLocked(convID, models.DeleteForEveryoneEvent(convID, messageID))
		} else {
			e.applyLocked(convID, models.HideEvent(convID, messageID, e.cfg.ViewerID))
		}
	}
}

func (e *Engine) handleFeed(convID int64, ev models.FeedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(convID, ev)
}

func (e *Engine) applyLocked(convID int64, ev models.FeedEvent) {
	conv, ok := e.convs[convID]
	if !ok {
		return
	}
	out, changed := conv.Apply(ev)
	if conv.Gone(ev.MessageID) {
		e.forgetLocked(ev.MessageID)
	}
	if changed {
		e.emitLocked(convID, out)
	}
}

func (e *Engine) emitLocked(convID int64, ev models.FeedEvent) {
	if ev.Type == models.EventInsert {
		e.owner[ev.MessageID] = convID
	}
	if sub, ok := e.subs[convID]; ok {
		sub.push(ev)
	}
}

func (e *Engine) forgetLocked(id uuid.UUID) {
	e.trigger.Forget(id)
	delete(e.coverage, id)
	delete(e.abandoned, id)
	if p, ok := e.pending[id]; ok && !p.inFlight {
		delete(e.pending, id)
	}
	if h, ok := e.hides[id]; ok {
		h.cancelled = true
		delete(e.hides, id)
	}
	for key := range e.translations {
		if key.messageID == id {
			delete(e.translations, key)
		}
	}
	delete(e.translateErr, id)
}

func (e *Engine) lookupLocked(id uuid.UUID) (models.Message, int64, bool) {
	convID, ok := e.owner[id]
	if !ok {
		return models.Message{}, 0, false
	}
	conv, ok := e.convs[convID]
	if !ok {
		return models.Message{}, 0, false
	}
	msg, ok := conv.Get(id)
	return msg, convID, ok
}

func (e *Engine) goneLocked(id uuid.UUID) bool {
	convID, ok := e.owner[id]
	if !ok {
		return false
	}
	conv, ok := e.convs[convID]
	return ok && conv.Gone(id)
}

// dropConversation discards local state, including uncommitted hides.
func (e *Engine) dropConversation(convID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.convs, convID)
	delete(e.subs, convID)
	for id, owner := range e.owner {
		if owner != convID {
			continue
		}
		e.forgetLocked(id)
		delete(e.pending, id)
		delete(e.owner, id)
	}
}
