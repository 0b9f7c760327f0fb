package chatstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/push"
)

const defaultReconcileDelay = 500 * time.Millisecond

// Source is the REST surface the store loads from.
type Source interface {
	Conversations(ctx context.Context) ([]models.ConversationSummary, error)
	Staff(ctx context.Context) ([]models.Counterpart, error)
}

// Subscriber is the push surface the store listens on.
type Subscriber interface {
	On(event string, h push.Handler) func()
}

// Snapshot is an immutable copy of the store.
type Snapshot struct {
	Conversations       []models.ConversationSummary
	Staff               []models.Counterpart
	Online              map[int64]bool
	Unread              int
	ConversationsLoaded bool
	StaffLoaded         bool
}

// Store is the single client-side view of conversations, staff, presence and
// the unread total, keyed by counterpart id. Each push event is applied under
// one lock and observers are notified once per change.
type Store struct {
	self           int64
	src            Source
	reconcileDelay time.Duration
	logger         logrus.FieldLogger

	mu          sync.Mutex
	order       []int64
	rows        map[int64]models.ConversationSummary
	staff       []models.Counterpart
	online      map[int64]bool
	unread      int
	convsLoaded bool
	staffLoaded bool
	subs        map[int]func(Snapshot)
	nextSub     int
	reconcile   *time.Timer
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Store.
type Option func(*Store)

// WithReconcileDelay sets how long bursts of events are coalesced before
// the conversation list is refetched.
func WithReconcileDelay(d time.Duration) Option {
	return func(s *Store) { s.reconcileDelay = d }
}

// WithLogger sets the store logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store for the signed-in user self.
func New(self int64, src Source, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		self:           self,
		src:            src,
		reconcileDelay: defaultReconcileDelay,
		logger:         observability.Discard(),
		rows:           make(map[int64]models.ConversationSummary),
		online:         make(map[int64]bool),
		subs:           make(map[int]func(Snapshot)),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes the store to the push events it owns and returns the
// matching unsubscribe.
func (s *Store) Attach(ch Subscriber) func() {
	offs := []func(){
		ch.On(models.EventMessageReceived, func(env models.Envelope) {
			var msg models.Message
			if err := env.Decode(&msg); err != nil {
				s.logger.WithError(err).Warn("drop malformed message:received")
				return
			}
			s.ApplyReceived(msg)
		}),
		ch.On(models.EventMessageSent, func(env models.Envelope) {
			var msg models.Message
			if err := env.Decode(&msg); err != nil {
				s.logger.WithError(err).Warn("drop malformed message:sent")
				return
			}
			s.ApplySent(msg)
		}),
		ch.On(models.EventUsersOnline, func(env models.Envelope) {
			var ids []int64
			if err := env.Decode(&ids); err != nil {
				s.logger.WithError(err).Warn("drop malformed users:online")
				return
			}
			s.SetOnline(ids)
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// LoadConversations replaces the conversation rows with the server list.
func (s *Store) LoadConversations(ctx context.Context) error {
	list, err := s.src.Conversations(ctx)
	if err != nil {
		return err
	}
	s.update(func() {
		s.order = s.order[:0]
		s.rows = make(map[int64]models.ConversationSummary, len(list))
		for _, row := range list {
			if _, dup := s.rows[row.User.ID]; dup {
				continue
			}
			s.order = append(s.order, row.User.ID)
			s.rows[row.User.ID] = row
		}
		s.convsLoaded = true
	})
	return nil
}

// LoadStaff replaces the staff directory.
func (s *Store) LoadStaff(ctx context.Context) error {
	staff, err := s.src.Staff(ctx)
	if err != nil {
		return err
	}
	s.update(func() {
		s.staff = staff
		s.staffLoaded = true
	})
	return nil
}

// SetUnread stores the authoritative unread total.
func (s *Store) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	s.update(func() { s.unread = n })
}

// Unread returns the current unread total.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// ApplyReceived patches the sender's row preview and row unread count, then
// schedules a reconcile. The unread total is left to the next fetch.
func (s *Store) ApplyReceived(msg models.Message) {
	sender := msg.SenderKey()
	if sender == 0 || sender == s.self {
		return
	}
	s.update(func() {
		row, ok := s.rows[sender]
		if !ok {
			row = models.ConversationSummary{User: msg.Sender}
			row.User.ID = sender
			s.order = append([]int64{sender}, s.order...)
		}
		row.LastMessage = preview(msg)
		row.UnreadCount++
		s.rows[sender] = row
	})
	s.scheduleReconcile()
}

// ApplySent patches the receiver's row preview after the server echo.
func (s *Store) ApplySent(msg models.Message) {
	receiver := msg.ReceiverID
	if receiver == 0 {
		return
	}
	s.update(func() {
		row, ok := s.rows[receiver]
		if !ok {
			row = models.ConversationSummary{User: s.lookupStaff(receiver)}
			s.order = append([]int64{receiver}, s.order...)
		}
		row.LastMessage = preview(msg)
		s.rows[receiver] = row
	})
	s.scheduleReconcile()
}

// MarkRead clears the row unread count of counterpart and subtracts it from
// the total.
func (s *Store) MarkRead(counterpart int64) {
	s.update(func() {
		row, ok := s.rows[counterpart]
		if !ok || row.UnreadCount == 0 {
			return
		}
		s.unread -= row.UnreadCount
		if s.unread < 0 {
			s.unread = 0
		}
		row.UnreadCount = 0
		s.rows[counterpart] = row
	})
}

// SetOnline replaces the presence set.
func (s *Store) SetOnline(ids []int64) {
	s.update(func() {
		s.online = make(map[int64]bool, len(ids))
		for _, id := range ids {
			s.online[id] = true
		}
	})
}

// IsOnline reports membership in the latest presence snapshot.
func (s *Store) IsOnline(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[id]
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close stops the pending reconcile and drops subscribers.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	if s.reconcile != nil {
		s.reconcile.Stop()
	}
	s.subs = map[int]func(Snapshot){}
	s.mu.Unlock()
	s.cancel()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Conversations:       make([]models.ConversationSummary, 0, len(s.order)),
		Staff:               make([]models.Counterpart, len(s.staff)),
		Online:              make(map[int64]bool, len(s.online)),
		Unread:              s.unread,
		ConversationsLoaded: s.convsLoaded,
		StaffLoaded:         s.staffLoaded,
	}
	for _, id := range s.order {
		row := s.rows[id]
		row.User.Online = s.online[id]
		snap.Conversations = append(snap.Conversations, row)
	}
	for i, u := range s.staff {
		u.Online = s.online[u.ID]
		snap.Staff[i] = u
	}
	for id := range s.online {
		snap.Online[id] = true
	}
	return snap
}

func (s *Store) update(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fn()
	snap := s.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

func (s *Store) scheduleReconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reconcile != nil {
		s.reconcile.Reset(s.reconcileDelay)
		return
	}
	s.reconcile = time.AfterFunc(s.reconcileDelay, s.runReconcile)
}

func (s *Store) runReconcile() {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.LoadConversations(s.ctx); err != nil {
		s.logger.WithError(err).Warn("conversation reconcile failed")
	}
}

func (s *Store) lookupStaff(id int64) models.Counterpart {
	for _, u := range s.staff {
		if u.ID == id {
			return u
		}
	}
	return models.Counterpart{ID: id}
}

func preview(msg models.Message) models.LastMessage {
	return models.LastMessage{Content: msg.Content, Type: msg.Type, CreatedAt: msg.CreatedAt}
}
