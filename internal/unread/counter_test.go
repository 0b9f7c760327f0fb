package unread

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association-chat/internal/models"
	"association-chat/internal/push"
)

func TestBadge(t *testing.T) {
	cases := map[int]string{0: "", -1: "", 1: "1", 42: "42", 99: "99", 100: "99+", 250: "99+"}
	for n, want := range cases {
		assert.Equal(t, want, Badge(n), "n=%d", n)
	}
}

type scriptedFetcher struct {
	calls  atomic.Int32
	mu     sync.Mutex
	values []int
	err    error
}

func (f *scriptedFetcher) UnreadCount(context.Context) (int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if len(f.values) == 0 {
		return 0, nil
	}
	v := f.values[0]
	if len(f.values) > 1 {
		f.values = f.values[1:]
	}
	return v, nil
}

type channel struct {
	mu       sync.Mutex
	handlers []push.Handler
}

func (c *channel) On(_ string, h push.Handler) func() {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.handlers = nil
		c.mu.Unlock()
	}
}

func (c *channel) fire() {
	c.mu.Lock()
	hs := append([]push.Handler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h(models.Envelope{Event: models.EventMessageReceived})
	}
}

func TestCounterFetchesOnStartAndOnReceived(t *testing.T) {
	f := &scriptedFetcher{values: []int{3, 4}}
	ch := &channel{}
	c := New(f, WithInterval(time.Hour))
	c.Start(context.Background(), ch)
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, "3", c.Badge())

	ch.fire()
	require.Eventually(t, func() bool { return c.Count() == 4 }, time.Second, time.Millisecond)
}

func TestCounterPollsOnInterval(t *testing.T) {
	f := &scriptedFetcher{values: []int{1}}
	c := New(f, WithInterval(10*time.Millisecond))
	c.Start(context.Background(), nil)
	defer c.Stop()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestCounterKeepsStaleValueOnError(t *testing.T) {
	total := &localTotal{}
	total.SetUnread(7)
	f := &scriptedFetcher{err: errors.New("offline")}
	c := New(f, WithTotal(total))

	c.Refresh(context.Background())

	assert.Equal(t, 7, c.Count())
}

func TestCounterStopCancelsPolling(t *testing.T) {
	f := &scriptedFetcher{}
	ch := &channel{}
	c := New(f, WithInterval(5*time.Millisecond))
	c.Start(context.Background(), ch)
	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)

	c.Stop()
	after := f.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, f.calls.Load())
	assert.Empty(t, ch.handlers)

	c.Stop()
}
