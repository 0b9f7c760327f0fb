package directory

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/chatstore"
	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/unread"
)

// Tab selects which list is shown.
type Tab int

const (
	TabConversations Tab = iota
	TabStaff
)

func (t Tab) String() string {
	if t == TabStaff {
		return "staff"
	}
	return "conversations"
}

// Refresher refetches the unread total.
type Refresher interface {
	Refresh(ctx context.Context)
}

// Row is one rendered directory entry.
type Row struct {
	Counterpart models.Counterpart
	Preview     string
	When        string
	Badge       string
	Online      bool
}

// View is the rendered state of the directory.
type View struct {
	Tab           Tab
	Query         string
	Conversations []Row
	Staff         []Row
	// Set only when the matching list is empty.
	EmptyConversations string
	EmptyStaff         string
}

// Directory lists conversations and staff from the chat store.
type Directory struct {
	store    *chatstore.Store
	unread   Refresher
	onSelect func(models.Counterpart)
	logger   logrus.FieldLogger

	mu    sync.Mutex
	tab   Tab
	query string
}

// Option configures a Directory.
type Option func(*Directory)

func WithOnSelect(fn func(models.Counterpart)) Option {
	return func(d *Directory) { d.onSelect = fn }
}

func WithUnread(r Refresher) Option {
	return func(d *Directory) { d.unread = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Directory) { d.logger = l }
}

func New(store *chatstore.Store, opts ...Option) *Directory {
	d := &Directory{store: store, logger: observability.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load fetches both lists. Failures are logged and leave the list empty.
func (d *Directory) Load(ctx context.Context) {
	if err := d.store.LoadConversations(ctx); err != nil {
		d.logger.WithError(err).Warn("conversation list fetch failed")
	}
	if err := d.store.LoadStaff(ctx); err != nil {
		d.logger.WithError(err).Warn("staff list fetch failed")
	}
}

func (d *Directory) SetTab(t Tab) {
	d.mu.Lock()
	d.tab = t
	d.mu.Unlock()
}

func (d *Directory) Tab() Tab {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tab
}

// NextTab switches between the two lists.
func (d *Directory) NextTab() Tab {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tab == TabConversations {
		d.tab = TabStaff
	} else {
		d.tab = TabConversations
	}
	return d.tab
}

func (d *Directory) SetQuery(q string) {
	d.mu.Lock()
	d.query = q
	d.mu.Unlock()
}

func (d *Directory) Query() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query
}

// Render builds the view at now. Relative times are computed here, not
// refreshed on a timer.
func (d *Directory) Render(now time.Time) View {
	d.mu.Lock()
	tab, query := d.tab, d.query
	d.mu.Unlock()
	snap := d.store.Snapshot()

	v := View{Tab: tab, Query: query}
	for _, c := range FilterConversations(snap.Conversations, query) {
		v.Conversations = append(v.Conversations, Row{
			Counterpart: c.User,
			Preview:     Preview(c.LastMessage),
			When:        RelativeTime(c.LastMessage.CreatedAt, now),
			Badge:       unread.Badge(c.UnreadCount),
			Online:      snap.Online[c.User.ID],
		})
	}
	for _, s := range FilterStaff(snap.Staff, query) {
		v.Staff = append(v.Staff, Row{Counterpart: s, Online: snap.Online[s.ID]})
	}
	if len(v.Conversations) == 0 {
		v.EmptyConversations = EmptyConversations
	}
	if len(v.Staff) == 0 {
		v.EmptyStaff = EmptyStaff
	}
	return v
}

// Select hands c to the selection callback and refreshes the unread total.
func (d *Directory) Select(ctx context.Context, c models.Counterpart) {
	if d.onSelect != nil {
		d.onSelect(c)
	}
	if d.unread != nil {
		d.unread.Refresh(ctx)
	}
}
