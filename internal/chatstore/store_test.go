package chatstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association-chat/internal/models"
	"association-chat/internal/push"
)

type fakeSource struct {
	mu        sync.Mutex
	convs     []models.ConversationSummary
	staff     []models.Counterpart
	convCalls int
	err       error
}

func (f *fakeSource) Conversations(context.Context) ([]models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return append([]models.ConversationSummary(nil), f.convs...), f.err
}

func (f *fakeSource) Staff(context.Context) ([]models.Counterpart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staff, f.err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls
}

type fakeChannel struct {
	handlers map[string][]push.Handler
}

func (f *fakeChannel) On(event string, h push.Handler) func() {
	if f.handlers == nil {
		f.handlers = map[string][]push.Handler{}
	}
	f.handlers[event] = append(f.handlers[event], h)
	return func() { delete(f.handlers, event) }
}

func (f *fakeChannel) fire(t *testing.T, event string, data any) {
	t.Helper()
	env, err := models.NewEnvelope(event, data)
	require.NoError(t, err)
	for _, h := range f.handlers[event] {
		h(env)
	}
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seededSource() *fakeSource {
	return &fakeSource{
		convs: []models.ConversationSummary{
			{User: models.Counterpart{ID: 2, Name: "Ana"}, LastMessage: models.LastMessage{Content: "a", CreatedAt: t0}, UnreadCount: 1},
			{User: models.Counterpart{ID: 3, Name: "Bruno"}, LastMessage: models.LastMessage{Content: "b", CreatedAt: t0.Add(-time.Hour)}},
		},
		staff: []models.Counterpart{{ID: 2, Name: "Ana"}, {ID: 3, Name: "Bruno"}, {ID: 4, Name: "Carla"}},
	}
}

func TestApplyReceivedUpdatesRowInOneNotification(t *testing.T) {
	src := seededSource()
	s := New(1, src, WithReconcileDelay(time.Hour))
	defer s.Close()
	require.NoError(t, s.LoadConversations(context.Background()))
	s.SetUnread(1)

	var notes []Snapshot
	s.Subscribe(func(snap Snapshot) { notes = append(notes, snap) })

	s.ApplyReceived(models.Message{ID: 9, Sender: models.Counterpart{ID: 3, Name: "Bruno"}, ReceiverID: 1, Content: "new", Type: models.MessageTypeText, CreatedAt: t0.Add(time.Minute)})

	require.Len(t, notes, 1)
	snap := notes[0]
	assert.Equal(t, 1, snap.Unread, "total is not predicted locally")
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, int64(2), snap.Conversations[0].User.ID, "rows keep server order until reconcile")
	assert.Equal(t, "new", snap.Conversations[1].LastMessage.Content)
	assert.Equal(t, 1, snap.Conversations[1].UnreadCount)
}

func TestApplyReceivedFromNewCounterpartInsertsRow(t *testing.T) {
	s := New(1, seededSource(), WithReconcileDelay(time.Hour))
	defer s.Close()
	require.NoError(t, s.LoadConversations(context.Background()))

	s.ApplyReceived(models.Message{Sender: models.Counterpart{ID: 4, Name: "Carla"}, ReceiverID: 1, Content: "hey"})

	snap := s.Snapshot()
	require.Len(t, snap.Conversations, 3)
	assert.Equal(t, "Carla", snap.Conversations[0].User.Name)
	assert.Equal(t, 1, snap.Conversations[0].UnreadCount)
}

func TestApplySentPatchesPreviewWithoutUnread(t *testing.T) {
	s := New(1, seededSource(), WithReconcileDelay(time.Hour))
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.LoadConversations(ctx))
	require.NoError(t, s.LoadStaff(ctx))

	s.ApplySent(models.Message{Sender: models.Counterpart{ID: 1}, ReceiverID: 2, Content: "reply"})
	s.ApplySent(models.Message{Sender: models.Counterpart{ID: 1}, ReceiverID: 4, Content: "first"})

	snap := s.Snapshot()
	require.Len(t, snap.Conversations, 3)
	assert.Equal(t, "Carla", snap.Conversations[0].User.Name, "staff lookup names the new row")
	assert.Equal(t, 0, snap.Conversations[0].UnreadCount)
	assert.Equal(t, "reply", snap.Conversations[1].LastMessage.Content)
	assert.Equal(t, 1, snap.Conversations[1].UnreadCount)
}

func TestMarkReadSubtractsRowFromTotal(t *testing.T) {
	s := New(1, seededSource(), WithReconcileDelay(time.Hour))
	defer s.Close()
	require.NoError(t, s.LoadConversations(context.Background()))
	s.SetUnread(5)

	s.MarkRead(2)
	assert.Equal(t, 4, s.Unread())
	assert.Equal(t, 0, s.Snapshot().Conversations[0].UnreadCount)

	s.MarkRead(2)
	assert.Equal(t, 4, s.Unread(), "second mark-read is a no-op")
}

func TestReconcileCoalescesBursts(t *testing.T) {
	src := seededSource()
	s := New(1, src, WithReconcileDelay(30*time.Millisecond))
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.ApplyReceived(models.Message{Sender: models.Counterpart{ID: 2}, ReceiverID: 1, Content: "burst"})
	}
	require.Eventually(t, func() bool { return src.calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, src.calls())

	snap := s.Snapshot()
	assert.Equal(t, "a", snap.Conversations[0].LastMessage.Content, "reconcile replaces patched rows with the server list")
}

func TestPresenceMarksRowsOnline(t *testing.T) {
	ch := &fakeChannel{}
	s := New(1, seededSource(), WithReconcileDelay(time.Hour))
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.LoadConversations(ctx))
	require.NoError(t, s.LoadStaff(ctx))
	s.Attach(ch)

	ch.fire(t, models.EventUsersOnline, []int64{3, 4})

	snap := s.Snapshot()
	assert.False(t, snap.Conversations[0].User.Online)
	assert.True(t, snap.Conversations[1].User.Online)
	assert.True(t, snap.Staff[2].Online)
	assert.True(t, s.IsOnline(4))

	ch.fire(t, models.EventUsersOnline, []int64{})
	assert.False(t, s.IsOnline(4), "snapshot replaces the set")
}

func TestAttachAppliesPushEvents(t *testing.T) {
	ch := &fakeChannel{}
	s := New(1, seededSource(), WithReconcileDelay(time.Hour))
	defer s.Close()
	require.NoError(t, s.LoadConversations(context.Background()))
	off := s.Attach(ch)

	ch.fire(t, models.EventMessageReceived, models.Message{Sender: models.Counterpart{ID: 2}, ReceiverID: 1, Content: "push"})
	assert.Equal(t, 0, s.Unread(), "total only moves on a fetch")
	assert.Equal(t, 2, s.Snapshot().Conversations[0].UnreadCount)

	off()
	assert.Empty(t, ch.handlers)
}

func TestClosedStoreIgnoresUpdates(t *testing.T) {
	s := New(1, seededSource())
	s.Close()
	s.SetUnread(3)
	assert.Equal(t, 0, s.Unread())
}
