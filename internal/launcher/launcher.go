package launcher

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/chatstore"
	"association-chat/internal/directory"
	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/push"
	"association-chat/internal/session"
	"association-chat/internal/thread"
	"association-chat/internal/unread"
)

// API is the REST surface the chat components need. *api.Client satisfies it.
type API interface {
	chatstore.Source
	unread.Fetcher
	thread.API
}

// Shell owns the push connection and the chat components built on it.
type Shell struct {
	sess   session.Session
	logger logrus.FieldLogger

	push    *push.Client
	store   *chatstore.Store
	counter *unread.Counter
	dir     *directory.Directory
	thread  *thread.Thread

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	visible  bool
	everOpen bool
	subs     map[int]func()
	nextID   int
	offs     []func()
}

type options struct {
	unreadInterval time.Duration
	typingIdle     time.Duration
	reconcileDelay time.Duration
	pushOpts       []push.Option
	logger         logrus.FieldLogger
}

// Option configures a Shell.
type Option func(*options)

func WithUnreadInterval(d time.Duration) Option {
	return func(o *options) { o.unreadInterval = d }
}

func WithTypingIdle(d time.Duration) Option {
	return func(o *options) { o.typingIdle = d }
}

func WithReconcileDelay(d time.Duration) Option {
	return func(o *options) { o.reconcileDelay = d }
}

// WithPushOptions forwards options to the push client.
func WithPushOptions(opts ...push.Option) Option {
	return func(o *options) { o.pushOpts = append(o.pushOpts, opts...) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// New wires the components for sess. Nothing connects until Start.
func New(sess session.Session, baseURL string, api API, opts ...Option) *Shell {
	o := options{logger: observability.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Shell{
		sess:   sess,
		logger: o.logger.WithField("component", "launcher"),
		subs:   make(map[int]func()),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	pushOpts := append([]push.Option{push.WithLogger(o.logger)}, o.pushOpts...)
	s.push = push.New(baseURL, sess.Token, pushOpts...)

	storeOpts := []chatstore.Option{chatstore.WithLogger(o.logger)}
	if o.reconcileDelay > 0 {
		storeOpts = append(storeOpts, chatstore.WithReconcileDelay(o.reconcileDelay))
	}
	s.store = chatstore.New(sess.User.ID, api, storeOpts...)

	counterOpts := []unread.Option{unread.WithTotal(s.store), unread.WithLogger(o.logger)}
	if o.unreadInterval > 0 {
		counterOpts = append(counterOpts, unread.WithInterval(o.unreadInterval))
	}
	s.counter = unread.New(api, counterOpts...)

	// The store subscribes before the thread so a received message is counted
	// before the thread marks it read.
	s.offs = append(s.offs, s.store.Attach(s.push))

	threadOpts := []thread.Option{thread.WithReadMarker(s.store), thread.WithLogger(o.logger)}
	if o.typingIdle > 0 {
		threadOpts = append(threadOpts, thread.WithTypingIdle(o.typingIdle))
	}
	s.thread = thread.New(api, s.push, threadOpts...)

	s.dir = directory.New(s.store,
		directory.WithOnSelect(s.openThread),
		directory.WithUnread(s.counter),
		directory.WithLogger(o.logger),
	)

	s.offs = append(s.offs,
		s.push.OnState(s.onState),
		s.store.Subscribe(func(chatstore.Snapshot) { s.notify() }),
		s.thread.Subscribe(s.notify),
	)
	return s
}

// Start connects the push channel, starts the unread poll and loads the
// directory. Without a token nothing starts and ErrNoSession is returned.
func (s *Shell) Start(ctx context.Context) error {
	if !s.sess.Authenticated() {
		return session.ErrNoSession
	}
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.push.Connect(s.ctx)
	s.counter.Start(s.ctx, s.push)
	s.dir.Load(ctx)
	return nil
}

// Toggle flips overlay visibility and returns the new value.
func (s *Shell) Toggle() bool {
	s.mu.Lock()
	s.visible = !s.visible
	v := s.visible
	s.mu.Unlock()
	s.notify()
	return v
}

func (s *Shell) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Select opens the thread with c and refreshes the unread total.
func (s *Shell) Select(ctx context.Context, c models.Counterpart) {
	s.dir.Select(ctx, c)
}

// CloseThread clears the selection; the overlay stays open.
func (s *Shell) CloseThread() {
	s.thread.Clear()
}

// Subscribe registers fn for any visible change: store, thread, overlay or
// connection state.
func (s *Shell) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Shell) Session() session.Session        { return s.sess }
func (s *Shell) Directory() *directory.Directory { return s.dir }
func (s *Shell) Thread() *thread.Thread          { return s.thread }
func (s *Shell) Store() *chatstore.Store         { return s.store }
func (s *Shell) Counter() *unread.Counter        { return s.counter }
func (s *Shell) ConnectionState() push.State     { return s.push.State() }
func (s *Shell) Transport() string               { return s.push.Transport() }

// Close ends the session: background work stops and the push connection is
// closed. It is safe to call more than once.
func (s *Shell) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	offs := s.offs
	s.offs = nil
	s.subs = map[int]func(){}
	s.mu.Unlock()

	s.cancel()
	s.counter.Stop()
	s.thread.Close()
	s.wg.Wait()
	for _, off := range offs {
		off()
	}
	s.store.Close()
	if err := s.push.Close(); err != nil {
		s.logger.WithError(err).Warn("push close failed")
	}
	s.logger.Info("chat session closed")
}

func (s *Shell) openThread(c models.Counterpart) {
	s.spawn(func(ctx context.Context) { s.thread.Open(ctx, c) })
}

// resync catches up on what was pushed while the connection was down.
func (s *Shell) resync() {
	s.spawn(func(ctx context.Context) {
		s.dir.Load(ctx)
		s.counter.Refresh(ctx)
		s.thread.Refresh(ctx)
	})
}

func (s *Shell) spawn(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Shell) onState(st push.State) {
	fields := logrus.Fields{"state": st.String()}
	switch st {
	case push.StateOpen:
		s.mu.Lock()
		reconnect := s.everOpen
		s.everOpen = true
		s.mu.Unlock()
		fields["transport"] = s.push.Transport()
		fields["reconnect"] = reconnect
		s.logger.WithFields(fields).Info("chat connected")
		if reconnect {
			s.resync()
		}
	case push.StateError:
		s.logger.WithFields(fields).Warn("chat connection failed, retrying")
	case push.StateClosed:
		s.logger.WithFields(fields).Info("chat disconnected")
	default:
		s.logger.WithFields(fields).Debug("chat connecting")
	}
	s.notify()
}

func (s *Shell) notify() {
	s.mu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
