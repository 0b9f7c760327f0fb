package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
)

var ErrNotConnected = errors.New("push channel not connected")

// Handler receives one server event.
type Handler func(env models.Envelope)

// Client holds the single push connection of a console session. It dials
// transports in preference order and reconnects with exponential backoff
// until Close.
type Client struct {
	baseURL    string
	token      string
	dialers    []Dialer
	newBackoff func() backoff.BackOff
	logger     logrus.FieldLogger

	mu        sync.Mutex
	handlers  map[string][]subscription
	listeners map[int]func(State)
	nextID    int
	state     State
	conn      Conn
	transport string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures the Client.
type Option func(*Client)

// WithTransports selects transports by name, in preference order.
func WithTransports(names ...string) Option {
	return func(c *Client) {
		var dialers []Dialer
		for _, name := range names {
			switch name {
			case TransportWebSocket:
				dialers = append(dialers, WebSocketDialer{})
			case TransportPolling:
				dialers = append(dialers, PollingDialer{})
			}
		}
		if len(dialers) > 0 {
			c.dialers = dialers
		}
	}
}

// WithDialers replaces the transports.
func WithDialers(dialers ...Dialer) Option {
	return func(c *Client) { c.dialers = dialers }
}

// WithBackoff sets the reconnect policy factory.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = factory }
}

// WithLogger sets the client logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// DefaultBackoff retries forever, from 500ms up to 30s between attempts.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// New creates a disconnected client.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		dialers:    []Dialer{WebSocketDialer{}, PollingDialer{}},
		newBackoff: DefaultBackoff,
		logger:     observability.Discard(),
		handlers:   make(map[string][]subscription),
		listeners:  make(map[int]func(State)),
		state:      StateClosed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the connection loop. It returns immediately; progress is
// reported through OnState. Calling Connect on a running client is a no-op.
func (c *Client) Connect(ctx context.Context) {
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

	go c.run(ctx, done)
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done
	c.setState(StateClosed)
	return nil
}

type subscription struct {
	id int
	h  Handler
}

// On subscribes h to event and returns the matching unsubscribe. Handlers
// run in subscription order.
func (c *Client) On(event string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], subscription{id: id, h: h})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.handlers[event]
		for i, sub := range subs {
			if sub.id == id {
				c.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// OnState subscribes to connection state changes.
func (c *Client) OnState(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Emit sends one client event.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(ctx, env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport returns the name of the transport in use, if connected.
func (c *Client) Transport() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	b := backoff.WithContext(c.newBackoff(), ctx)
	b.Reset()

	for ctx.Err() == nil {
		c.setState(StateConnecting)
		conn, transport, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Debug("push dial failed")
			c.setState(StateError)
			if !c.wait(ctx, b) {
				return
			}
			continue
		}

		b.Reset()
		c.mu.Lock()
		c.conn, c.transport = conn, transport
		c.mu.Unlock()
		c.logger.WithField("transport", transport).Debug("push connected")
		c.setState(StateOpen)

		err = c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn, c.transport = nil, ""
		c.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.WithError(err).WithField("transport", transport).Debug("push disconnected")
		c.setState(StateClosed)
		if !c.wait(ctx, b) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (Conn, string, error) {
	var errs []error
	for _, d := range c.dialers {
		conn, err := d.Dial(ctx, c.baseURL, c.token)
		if err == nil {
			return conn, d.Name(), nil
		}
		c.logger.WithError(err).WithField("transport", d.Name()).Debug("push transport failed")
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, "", errors.Join(errs...)
}

func (c *Client) wait(ctx context.Context, b backoff.BackOff) bool {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, sub := range c.handlers[env.Event] {
		hs = append(hs, sub.h)
	}
	c.mu.Unlock()

	if env.Event == models.EventError {
		var payload models.ErrorPayload
		_ = env.Decode(&payload)
		c.logger.WithField("message", payload.Message).Warn("push server error")
	}
	for _, h := range hs {
		h(env)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
