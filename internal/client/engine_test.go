package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ephemeral-chat/internal/models"
)

const testConversation int64 = 7

func newTestEngine(t *testing.T, srv *fakeServer, clock *testClock, viewerID int64) (*Engine, <-chan models.FeedEvent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	e := NewEngine(srv.For(viewerID), Config{ViewerID: viewerID, ReconnectDelay: 10 * time.Millisecond}, zaptest.NewLogger(t),
		WithClock(clock.Now),
		WithSpawn(func(f func()) { f() }),
	)
	events, err := e.Subscribe(ctx, testConversation)
	require.NoError(t, err)
	return e, events
}

func waitPresent(t *testing.T, e *Engine, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State(id) != StateGone }, time.Second, 5*time.Millisecond)
}

func waitGone(t *testing.T, e *Engine, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State(id) == StateGone }, time.Second, 5*time.Millisecond)
}

func TestEngineBroadcastSelfDestructs(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	author, _ := newTestEngine(t, srv, clock, 1)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindEphemeralBroadcast, 5*time.Second)
	waitPresent(t, viewer, msg.ID)
	waitPresent(t, author, msg.ID)
	assert.Nil(t, viewer.RemainingSeconds(msg.ID))
	assert.Equal(t, StateActive, viewer.State(msg.ID))

	viewer.ReportVisibility(msg.ID, 0.8)
	clock.Advance(500 * time.Millisecond)
	viewer.Tick(clock.Now())
	assert.Equal(t, 0, srv.MarkCalls(), "dwell not reached")

	clock.Advance(500 * time.Millisecond)
	viewer.Tick(clock.Now())
	require.Equal(t, 1, srv.MarkCalls())

	secs := viewer.RemainingSeconds(msg.ID)
	require.NotNil(t, secs)
	assert.Equal(t, 5, *secs)
	assert.Equal(t, StateCounting, viewer.State(msg.ID))
	require.Eventually(t, func() bool { return author.RemainingSeconds(msg.ID) != nil }, time.Second, 5*time.Millisecond)

	clock.Advance(3 * time.Second)
	assert.Equal(t, 2, *viewer.RemainingSeconds(msg.ID))

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateExpiring, viewer.State(msg.ID))
	assert.Equal(t, 0, *viewer.RemainingSeconds(msg.ID))

	viewer.Tick(clock.Now())
	assert.Equal(t, StateGone, viewer.State(msg.ID))
	waitGone(t, author, msg.ID)
}

func TestEnginePersonalHideOnlyForViewer(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	author, _ := newTestEngine(t, srv, clock, 1)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindPersonalHide, 5*time.Second)
	waitPresent(t, viewer, msg.ID)

	viewer.MarkViewed(msg.ID)
	require.NotNil(t, viewer.RemainingSeconds(msg.ID))

	clock.Advance(5 * time.Second)
	viewer.Tick(clock.Now())
	author.Tick(clock.Now())
	assert.Equal(t, StateGone, viewer.State(msg.ID))

	marker := srv.Send(2, testConversation, models.KindStandard, 0)
	waitPresent(t, author, marker.ID)
	assert.Equal(t, StateActive, author.State(msg.ID), "author keeps the message")
	assert.Nil(t, author.RemainingSeconds(msg.ID))
	_, counting := author.ViewState(msg.ID)
	assert.False(t, counting)

	clock.Advance(time.Hour)
	author.Tick(clock.Now())
	assert.Equal(t, StateActive, author.State(msg.ID))
	assert.Nil(t, author.RemainingSeconds(msg.ID))
}

func TestEngineLateSubscriberShowsRemainingTime(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindEphemeralBroadcast, 120*time.Second)
	waitPresent(t, viewer, msg.ID)
	viewer.MarkViewed(msg.ID)
	require.Equal(t, 120, *viewer.RemainingSeconds(msg.ID))

	clock.Advance(50 * time.Second)
	late, _ := newTestEngine(t, srv, clock, 3)

	secs := late.RemainingSeconds(msg.ID)
	require.NotNil(t, secs, "snapshot carries expires_at")
	assert.Equal(t, 70, *secs)
	assert.Equal(t, StateCounting, late.State(msg.ID))
	assert.Equal(t, *viewer.RemainingSeconds(msg.ID), *secs)
}

func TestEngineTwoTabsShareOneView(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	author, _ := newTestEngine(t, srv, clock, 1)
	tab1, _ := newTestEngine(t, srv, clock, 2)
	tab2, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindEphemeralBroadcast, 30*time.Second)
	waitPresent(t, tab1, msg.ID)
	waitPresent(t, tab2, msg.ID)

	tab1.ReportVisibility(msg.ID, 1)
	tab2.ReportVisibility(msg.ID, 1)
	clock.Advance(time.Second)
	tab1.Tick(clock.Now())
	require.Eventually(t, func() bool { return tab2.RemainingSeconds(msg.ID) != nil }, time.Second, 5*time.Millisecond)
	tab2.Tick(clock.Now())
	assert.Equal(t, 1, srv.MarkCalls())
	assert.Equal(t, *tab1.RemainingSeconds(msg.ID), *tab2.RemainingSeconds(msg.ID))

	plain := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, tab1, plain.ID)
	waitPresent(t, tab2, plain.ID)
	waitPresent(t, author, plain.ID)

	h, err := tab1.RequestDelete(plain.ID, models.ScopeMe)
	require.NoError(t, err)
	require.NotNil(t, h)
	clock.Advance(10 * time.Second)
	tab1.Tick(clock.Now())

	assert.Equal(t, StateGone, tab1.State(plain.ID))
	waitGone(t, tab2, plain.ID)

	marker := srv.Send(2, testConversation, models.KindStandard, 0)
	waitPresent(t, author, marker.ID)
	assert.Equal(t, StateActive, author.State(plain.ID))
}

func TestEngineHideCancelWithinGrace(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, msg.ID)

	h, err := viewer.RequestDelete(msg.ID, models.ScopeMe)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Second), h.Deadline())

	again, err := viewer.RequestDelete(msg.ID, models.ScopeMe)
	require.NoError(t, err)
	assert.Same(t, h, again)

	clock.Advance(5 * time.Second)
	assert.True(t, h.Cancel())
	clock.Advance(10 * time.Second)
	viewer.Tick(clock.Now())

	assert.Equal(t, StateActive, viewer.State(msg.ID))
	assert.False(t, h.Cancel())
}

func TestEngineHideCommitsAfterGrace(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, msg.ID)

	h, err := viewer.RequestDelete(msg.ID, models.ScopeMe)
	require.NoError(t, err)

	clock.Advance(9 * time.Second)
	viewer.Tick(clock.Now())
	assert.Equal(t, StateActive, viewer.State(msg.ID))

	clock.Advance(time.Second)
	viewer.Tick(clock.Now())
	assert.Equal(t, StateGone, viewer.State(msg.ID))
	assert.False(t, h.Cancel())
}

func TestEngineDeleteForEveryoneRequiresAuthor(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	author, _ := newTestEngine(t, srv, clock, 1)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, msg.ID)
	waitPresent(t, author, msg.ID)

	_, err := viewer.RequestDelete(msg.ID, models.ScopeEveryone)
	assert.ErrorIs(t, err, ErrNotPermitted)

	h, err := author.RequestDelete(msg.ID, models.ScopeEveryone)
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Equal(t, StateGone, author.State(msg.ID))
	waitGone(t, viewer, msg.ID)

	h, err = viewer.RequestDelete(msg.ID, models.ScopeMe)
	assert.NoError(t, err, "deleting a gone message is a no-op")
	assert.Nil(t, h)

	_, err = viewer.RequestDelete(uuid.New(), models.ScopeMe)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestEngineRetriesTransientViewFailure(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindEphemeralBroadcast, 5*time.Second)
	waitPresent(t, viewer, msg.ID)

	srv.mu.Lock()
	srv.markErr = context.DeadlineExceeded
	srv.mu.Unlock()

	viewer.ReportVisibility(msg.ID, 1)
	clock.Advance(time.Second)
	viewer.Tick(clock.Now())
	require.Equal(t, 1, srv.MarkCalls())
	assert.Nil(t, viewer.RemainingSeconds(msg.ID))

	srv.mu.Lock()
	srv.markErr = nil
	srv.mu.Unlock()

	viewer.Tick(clock.Now())
	clock.Advance(time.Second)
	viewer.Tick(clock.Now())
	assert.Equal(t, 2, srv.MarkCalls())
	assert.NotNil(t, viewer.RemainingSeconds(msg.ID))
}

func TestEngineDoesNotRetryPermanentViewFailure(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindEphemeralBroadcast, 5*time.Second)
	waitPresent(t, viewer, msg.ID)

	srv.mu.Lock()
	srv.markErr = &StatusError{StatusCode: http.StatusForbidden}
	srv.mu.Unlock()

	viewer.ReportVisibility(msg.ID, 1)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		viewer.Tick(clock.Now())
	}
	assert.Equal(t, 1, srv.MarkCalls())
}

func TestEngineTranslateCachesAndDropsOnDelete(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	author, _ := newTestEngine(t, srv, clock, 1)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, msg.ID)
	waitPresent(t, author, msg.ID)

	ctx := context.Background()
	text, err := viewer.Translate(ctx, msg.ID, "IT")
	require.NoError(t, err)
	assert.Equal(t, "[it] ciao", text)

	_, err = viewer.Translate(ctx, msg.ID, "it")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.transCall)

	_, err = author.RequestDelete(msg.ID, models.ScopeEveryone)
	require.NoError(t, err)
	waitGone(t, viewer, msg.ID)

	_, err = viewer.Translate(ctx, msg.ID, "it")
	assert.ErrorIs(t, err, ErrMessageGone)
}

func TestEngineResyncAfterReconnect(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	viewer, _ := newTestEngine(t, srv, clock, 2)

	msg := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, msg.ID)

	srv.DeleteQuietly(msg.ID)
	srv.DropFeeds()
	waitGone(t, viewer, msg.ID)

	later := srv.Send(1, testConversation, models.KindStandard, 0)
	waitPresent(t, viewer, later.ID)
}

func TestEngineSubscriptionStream(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	existing := srv.Send(1, testConversation, models.KindStandard, 0)

	viewer, events := newTestEngine(t, srv, clock, 2)
	_, err := viewer.Subscribe(context.Background(), testConversation)
	assert.Error(t, err, "second subscription to the same conversation")

	next := func() models.FeedEvent {
		select {
		case ev := <-events:
			return ev
		case <-time.After(time.Second):
			t.Fatal("no event")
			return models.FeedEvent{}
		}
	}

	ev := next()
	assert.Equal(t, models.EventInsert, ev.Type)
	assert.Equal(t, existing.ID, ev.MessageID)

	fresh := srv.Send(1, testConversation, models.KindStandard, 0)
	ev = next()
	assert.Equal(t, models.EventInsert, ev.Type)
	assert.Equal(t, fresh.ID, ev.MessageID)

	_, err = viewer.RequestDelete(existing.ID, models.ScopeMe)
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	viewer.Tick(clock.Now())

	ev = next()
	assert.Equal(t, models.EventDelete, ev.Type)
	assert.Equal(t, existing.ID, ev.MessageID)
	assert.Equal(t, models.ScopeMe, ev.Scope)
	assert.Len(t, viewer.Messages(testConversation), 1)
}

// snapshotGate wraps the fake backend to hold or fail the snapshot load and
// to expose the feed's context.
type snapshotGate struct {
	*fakeBackend
	entered chan struct{}
	release chan struct{}
	listErr error
	feedCtx context.Context
}

func (g *snapshotGate) Subscribe(ctx context.Context, conversationID int64) (<-chan models.FeedEvent, error) {
	g.feedCtx = ctx
	return g.fakeBackend.Subscribe(ctx, conversationID)
}

func (g *snapshotGate) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.fakeBackend.ListMessages(ctx, conversationID)
}

func TestEngineSubscribeReservesConversation(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	gate := &snapshotGate{fakeBackend: srv.For(2), entered: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(gate, Config{ViewerID: 2}, zaptest.NewLogger(t), WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	first := make(chan error, 1)
	go func() {
		_, err := e.Subscribe(ctx, testConversation)
		first <- err
	}()
	<-gate.entered

	_, err := e.Subscribe(ctx, testConversation)
	assert.Error(t, err, "slot is taken while the first snapshot loads")

	close(gate.release)
	assert.NoError(t, <-first)
}

func TestEngineSubscribeFailureReleasesFeed(t *testing.T) {
	clock := newTestClock()
	srv := newFakeServer(clock)
	gate := &snapshotGate{fakeBackend: srv.For(2), listErr: &StatusError{StatusCode: http.StatusServiceUnavailable}}
	e := NewEngine(gate, Config{ViewerID: 2}, zaptest.NewLogger(t), WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := e.Subscribe(ctx, testConversation)
	require.Error(t, err)
	require.NotNil(t, gate.feedCtx)
	assert.ErrorIs(t, gate.feedCtx.Err(), context.Canceled, "feed is torn down on failure")

	gate.listErr = nil
	_, err = e.Subscribe(ctx, testConversation)
	assert.NoError(t, err, "failed subscribe frees the conversation")
}
