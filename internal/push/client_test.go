package push

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association-chat/internal/mocks"
	"association-chat/internal/models"
	"association-chat/internal/ws"
)

type fakeConn struct {
	in        chan models.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []models.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan models.Envelope, 8), closed: make(chan struct{})}
}

func (c *fakeConn) Send(_ context.Context, env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Recv(_ context.Context) (models.Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return models.Envelope{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	name  string
	mu    sync.Mutex
	conns []*fakeConn
	fails int
}

func (d *fakeDialer) Name() string { return d.name }

func (d *fakeDialer) Dial(context.Context, string, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(5 * time.Millisecond)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestClientStateTransitionsAndReconnect(t *testing.T) {
	dialer := &fakeDialer{name: "fake"}
	c := New("http://chat", "tok", WithDialers(dialer), WithBackoff(fastBackoff))
	rec := &stateRecorder{}
	c.OnState(rec.record)

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, time.Millisecond)
	assert.Equal(t, "fake", c.Transport())

	// Unexpected drop.
	require.NoError(t, dialer.conn(0).Close())
	require.Eventually(t, func() bool { return dialer.conn(1) != nil && c.State() == StateOpen }, time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, []State{StateConnecting, StateOpen, StateClosed, StateConnecting, StateOpen, StateClosed}, rec.snapshot())
}

func TestClientDialErrorState(t *testing.T) {
	dialer := &fakeDialer{name: "fake", fails: 2}
	c := New("http://chat", "tok", WithDialers(dialer), WithBackoff(fastBackoff))
	rec := &stateRecorder{}
	c.OnState(rec.record)

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	assert.Contains(t, rec.snapshot(), StateError)
}

func TestClientFallsBackToNextTransport(t *testing.T) {
	primary := &fakeDialer{name: TransportWebSocket, fails: 1000}
	fallback := &fakeDialer{name: TransportPolling}
	c := New("http://chat", "tok", WithDialers(primary, fallback), WithBackoff(fastBackoff))
	defer c.Close()

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, time.Millisecond)
	assert.Equal(t, TransportPolling, c.Transport())
}

func TestClientDispatchOrderAndUnsubscribe(t *testing.T) {
	dialer := &fakeDialer{name: "fake"}
	c := New("http://chat", "tok", WithDialers(dialer), WithBackoff(fastBackoff))
	defer c.Close()

	var mu sync.Mutex
	var calls []string
	record := func(name string) Handler {
		return func(models.Envelope) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	c.On(models.EventMessageReceived, record("store"))
	unsubscribe := c.On(models.EventMessageReceived, record("thread"))
	c.On(models.EventMessageReceived, record("unread"))
	c.On(models.EventTypingUser, record("typing"))

	c.Connect(context.Background())
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, time.Millisecond)
	conn := dialer.conn(0)

	conn.in <- models.Envelope{Event: models.EventMessageReceived}
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(calls) == 3 }, time.Second, time.Millisecond)

	unsubscribe()
	conn.in <- models.Envelope{Event: models.EventMessageReceived}
	conn.in <- models.Envelope{Event: models.EventTypingUser}
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(calls) == 6 }, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"store", "thread", "unread", "store", "unread", "typing"}, calls)
	mu.Unlock()
}

func TestClientEmit(t *testing.T) {
	dialer := &fakeDialer{name: "fake"}
	c := New("http://chat", "tok", WithDialers(dialer), WithBackoff(fastBackoff))

	err := c.Emit(context.Background(), models.EventTypingStart, models.TypingPayload{ReceiverID: 2})
	assert.ErrorIs(t, err, ErrNotConnected)

	c.Connect(context.Background())
	defer c.Close()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, time.Millisecond)
	require.NoError(t, c.Emit(context.Background(), models.EventTypingStart, models.TypingPayload{ReceiverID: 2}))

	conn := dialer.conn(0)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.sent, 1)
	assert.Equal(t, models.EventTypingStart, conn.sent[0].Event)
}

type staticTokens map[string]int64

func (s staticTokens) ValidateToken(token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid")
}

func newPushServer(t *testing.T, withWebSocket bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(new(mocks.MessageRepositoryMock))
	tokens := staticTokens{"alice": 1, "bob": 2}
	polling := ws.NewPollingHandler(hub, tokens, 50*time.Millisecond, time.Minute, 32)

	r := gin.New()
	if withWebSocket {
		r.GET("/push/ws", ws.NewWebSocketHandler(hub, tokens, time.Second).Handle)
	}
	r.POST("/push/poll", polling.Open)
	r.GET("/push/poll/:sid", polling.Poll)
	r.POST("/push/poll/:sid", polling.Emit)
	r.DELETE("/push/poll/:sid", polling.Close)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func typingRoundTrip(t *testing.T, srv *httptest.Server, wantTransport string) {
	t.Helper()
	alice := New(srv.URL, "alice", WithBackoff(fastBackoff))
	bob := New(srv.URL, "bob", WithBackoff(fastBackoff))
	defer alice.Close()
	defer bob.Close()

	got := make(chan models.TypingUserPayload, 4)
	bob.On(models.EventTypingUser, func(env models.Envelope) {
		var p models.TypingUserPayload
		if env.Decode(&p) == nil {
			got <- p
		}
	})

	// users:online reaches bob only once the hub has registered him.
	bobOnline := make(chan struct{}, 4)
	bob.On(models.EventUsersOnline, func(models.Envelope) { bobOnline <- struct{}{} })

	alice.Connect(context.Background())
	bob.Connect(context.Background())
	require.Eventually(t, func() bool {
		return alice.State() == StateOpen && bob.State() == StateOpen
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, wantTransport, alice.Transport())
	select {
	case <-bobOnline:
	case <-time.After(3 * time.Second):
		t.Fatal("bob never registered")
	}

	require.NoError(t, alice.Emit(context.Background(), models.EventTypingStart, models.TypingPayload{ReceiverID: 2}))
	select {
	case p := <-got:
		assert.Equal(t, models.TypingUserPayload{UserID: 1, IsTyping: true}, p)
	case <-time.After(3 * time.Second):
		t.Fatal("typing event not delivered")
	}
}

func TestClientWebSocketAgainstHub(t *testing.T) {
	typingRoundTrip(t, newPushServer(t, true), TransportWebSocket)
}

func TestClientPollingFallbackAgainstHub(t *testing.T) {
	typingRoundTrip(t, newPushServer(t, false), TransportPolling)
}

func TestEndpoint(t *testing.T) {
	u, err := endpoint("https://host/api/", "/push/ws", true)
	require.NoError(t, err)
	assert.Equal(t, "wss://host/api/push/ws", u)

	u, err = endpoint("http://host:8083", "/push/poll", false)
	require.NoError(t, err)
	assert.Equal(t, "http://host:8083/push/poll", u)
}
