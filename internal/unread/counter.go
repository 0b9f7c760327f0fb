package unread

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/push"
)

const DefaultInterval = 30 * time.Second

// Fetcher returns the authoritative unread total.
type Fetcher interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Subscriber is the push surface the counter listens on.
type Subscriber interface {
	On(event string, h push.Handler) func()
}

// Total holds the count. The chat store implements it so the badge and the
// conversation rows share one value.
type Total interface {
	SetUnread(n int)
	Unread() int
}

type localTotal struct {
	mu sync.Mutex
	n  int
}

func (t *localTotal) SetUnread(n int) { t.mu.Lock(); t.n = n; t.mu.Unlock() }
func (t *localTotal) Unread() int     { t.mu.Lock(); defer t.mu.Unlock(); return t.n }

// Badge renders a count: empty for zero, the number up to 99, "99+" above.
func Badge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}

// Counter keeps the unread total fresh by polling and by refetching whenever
// a message arrives.
type Counter struct {
	fetcher  Fetcher
	total    Total
	interval time.Duration
	logger   logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	off    func()
}

// Option configures a Counter.
type Option func(*Counter)

func WithInterval(d time.Duration) Option {
	return func(c *Counter) {
		if d > 0 {
			c.interval = d
		}
	}
}

func WithTotal(t Total) Option {
	return func(c *Counter) { c.total = t }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Counter) { c.logger = l }
}

func New(fetcher Fetcher, opts ...Option) *Counter {
	c := &Counter{
		fetcher:  fetcher,
		total:    &localTotal{},
		interval: DefaultInterval,
		logger:   observability.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start fetches immediately, then on every tick and every message:received,
// until ctx is done or Stop is called.
func (c *Counter) Start(ctx context.Context, ch Subscriber) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	trigger := make(chan struct{}, 1)
	if ch != nil {
		off := ch.On(models.EventMessageReceived, func(models.Envelope) {
			select {
			case trigger <- struct{}{}:
			default:
			}
		})
		c.mu.Lock()
		c.off = off
		c.mu.Unlock()
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		c.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Refresh(ctx)
			case <-trigger:
				c.Refresh(ctx)
			}
		}
	}()
}

// Stop cancels the poll and waits for it to exit.
func (c *Counter) Stop() {
	c.mu.Lock()
	cancel, done, off := c.cancel, c.done, c.off
	c.cancel, c.off = nil, nil
	c.mu.Unlock()
	if off != nil {
		off()
	}
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh fetches the total once. Errors leave the previous value.
func (c *Counter) Refresh(ctx context.Context) {
	n, err := c.fetcher.UnreadCount(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.WithError(err).Warn("unread count fetch failed")
		}
		return
	}
	c.total.SetUnread(n)
}

// Count returns the last known total.
func (c *Counter) Count() int {
	return c.total.Unread()
}

// Badge renders the last known total.
func (c *Counter) Badge() string {
	return Badge(c.Count())
}
