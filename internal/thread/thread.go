package thread

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/push"
)

const DefaultTypingIdle = time.Second

var (
	ErrEmptyContent = errors.New("message is empty")
	ErrNoSelection  = errors.New("no conversation selected")
)

// State is the rendering state of the thread.
type State int

const (
	StateNoSelection State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "no-selection"
	}
}

// API is the REST surface used by the thread.
type API interface {
	Messages(ctx context.Context, userID int64) ([]models.Message, error)
	MarkRead(ctx context.Context, userID int64) (int64, error)
	UploadAttachment(ctx context.Context, name string, r io.Reader) (models.Attachment, error)
}

// Channel is the push surface used by the thread.
type Channel interface {
	On(event string, h push.Handler) func()
	Emit(ctx context.Context, event string, data any) error
}

// ReadMarker is told when a conversation has been marked read.
type ReadMarker interface {
	MarkRead(counterpart int64)
}

// View is a copy of the thread state for rendering.
type View struct {
	State        State
	Counterpart  models.Counterpart
	Messages     []models.Message
	RemoteTyping bool
}

type typingBurst struct {
	active bool
	target int64
	arm    uint64
	timer  *time.Timer
}

// Thread shows the conversation with one counterpart.
type Thread struct {
	api    API
	ch     Channel
	reads  ReadMarker
	idle   time.Duration
	logger logrus.FieldLogger

	mu           sync.Mutex
	state        State
	counterpart  models.Counterpart
	gen          uint64
	messages     []models.Message
	pending      []models.Message
	remoteTyping bool
	typing       typingBurst
	subs         map[int]func()
	nextSub      int
	offs         []func()
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Thread.
type Option func(*Thread)

// WithTypingIdle sets how long after the last keystroke typing:stop is sent.
func WithTypingIdle(d time.Duration) Option {
	return func(t *Thread) {
		if d > 0 {
			t.idle = d
		}
	}
}

// WithReadMarker reports successful mark-read calls, normally to the chat store.
func WithReadMarker(r ReadMarker) Option {
	return func(t *Thread) { t.reads = r }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Thread) { t.logger = l }
}

// New creates a thread with no selection and subscribes it to ch.
func New(api API, ch Channel, opts ...Option) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		api:    api,
		ch:     ch,
		idle:   DefaultTypingIdle,
		logger: observability.Discard(),
		subs:   make(map[int]func()),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.offs = []func(){
		ch.On(models.EventMessageSent, t.onSent),
		ch.On(models.EventMessageReceived, t.onReceived),
		ch.On(models.EventTypingUser, t.onTyping),
	}
	return t
}

// Subscribe registers fn to be called after every state change.
func (t *Thread) Subscribe(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// View returns a copy of the current state.
func (t *Thread) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return View{
		State:        t.state,
		Counterpart:  t.counterpart,
		Messages:     append([]models.Message(nil), t.messages...),
		RemoteTyping: t.remoteTyping,
	}
}

// Open switches to c, loads the history and then marks it read. A failed
// history fetch leaves the thread loading. Responses that arrive after
// another Open are dropped.
func (t *Thread) Open(ctx context.Context, c models.Counterpart) {
	t.endTyping(ctx)

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.state = StateLoading
	t.counterpart = c
	t.messages = nil
	t.pending = nil
	t.remoteTyping = false
	t.mu.Unlock()
	t.notify()

	history, err := t.api.Messages(ctx, c.ID)
	if err != nil {
		t.logger.WithError(err).WithField("counterpart", c.ID).Warn("message history fetch failed")
		return
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.messages = mergePending(history, t.pending)
	t.pending = nil
	t.state = StateLoaded
	t.mu.Unlock()
	t.notify()

	// A message delivered between the history fetch and this call is covered
	// by it server-side but was never fetched; the push echo still appends it.
	t.markRead(ctx, gen, c.ID)
}

// Refresh refetches the open conversation, for example after the push
// connection came back. What is shown stays until the history lands; messages
// pushed meanwhile are kept. A thread still loading is opened again.
func (t *Thread) Refresh(ctx context.Context) {
	t.mu.Lock()
	state, gen, c := t.state, t.gen, t.counterpart
	t.mu.Unlock()

	switch state {
	case StateNoSelection:
		return
	case StateLoading:
		t.Open(ctx, c)
		return
	}

	history, err := t.api.Messages(ctx, c.ID)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.WithError(err).WithField("counterpart", c.ID).Warn("message history refresh failed")
		}
		return
	}

	t.mu.Lock()
	if t.gen != gen || t.state != StateLoaded {
		t.mu.Unlock()
		return
	}
	t.messages = mergePending(history, t.messages)
	t.mu.Unlock()
	t.notify()

	t.markRead(ctx, gen, c.ID)
}

// Clear returns to the no-selection state.
func (t *Thread) Clear() {
	t.endTyping(t.ctx)
	t.mu.Lock()
	t.gen++
	t.state = StateNoSelection
	t.counterpart = models.Counterpart{}
	t.messages = nil
	t.pending = nil
	t.remoteTyping = false
	t.mu.Unlock()
	t.notify()
}

// Send emits a text message to the open counterpart. The message shows up
// when the server echoes it back.
func (t *Thread) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return t.emitMessage(ctx, content, models.MessageTypeText)
}

// SendFile uploads the file at path and sends its URL as a file message.
func (t *Thread) SendFile(ctx context.Context, path string) error {
	if _, ok := t.selected(); !ok {
		return ErrNoSelection
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	att, err := t.api.UploadAttachment(ctx, filepath.Base(path), f)
	if err != nil {
		t.logger.WithError(err).WithField("file", path).Warn("attachment upload failed")
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	return t.emitMessage(ctx, att.URL, models.MessageTypeFile)
}

func (t *Thread) emitMessage(ctx context.Context, content string, kind models.MessageType) error {
	id, ok := t.selected()
	if !ok {
		return ErrNoSelection
	}
	t.endTyping(ctx)
	err := t.ch.Emit(ctx, models.EventMessageSend, models.SendMessagePayload{
		ReceiverID: id,
		Content:    content,
		Type:       kind,
	})
	if err != nil {
		t.logger.WithError(err).WithField("counterpart", id).Warn("send failed")
	}
	return err
}

// Keystroke reports local typing. The first keystroke of a burst emits
// typing:start; typing:stop follows once the input has been idle.
func (t *Thread) Keystroke(ctx context.Context) {
	t.mu.Lock()
	if t.state == StateNoSelection {
		t.mu.Unlock()
		return
	}
	start := !t.typing.active
	if start {
		t.typing.active = true
		t.typing.target = t.counterpart.ID
	}
	if t.typing.timer != nil {
		t.typing.timer.Stop()
	}
	t.typing.arm++
	arm := t.typing.arm
	t.typing.timer = time.AfterFunc(t.idle, func() { t.typingIdle(arm) })
	target := t.typing.target
	t.mu.Unlock()

	if start {
		t.emitTyping(ctx, models.EventTypingStart, target)
	}
}

func (t *Thread) typingIdle(arm uint64) {
	t.mu.Lock()
	if !t.typing.active || t.typing.arm != arm {
		t.mu.Unlock()
		return
	}
	target := t.typing.target
	t.typing = typingBurst{arm: t.typing.arm}
	t.mu.Unlock()
	t.emitTyping(t.ctx, models.EventTypingStop, target)
}

// endTyping closes an active burst immediately.
func (t *Thread) endTyping(ctx context.Context) {
	t.mu.Lock()
	if !t.typing.active {
		t.mu.Unlock()
		return
	}
	if t.typing.timer != nil {
		t.typing.timer.Stop()
	}
	target := t.typing.target
	t.typing = typingBurst{arm: t.typing.arm + 1}
	t.mu.Unlock()
	t.emitTyping(ctx, models.EventTypingStop, target)
}

func (t *Thread) emitTyping(ctx context.Context, event string, target int64) {
	if err := t.ch.Emit(ctx, event, models.TypingPayload{ReceiverID: target}); err != nil {
		t.logger.WithError(err).WithField("event", event).Debug("typing emit failed")
	}
}

// Close stops timers, unsubscribes and waits for background mark-read calls.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.typing.timer != nil {
		t.typing.timer.Stop()
	}
	t.typing = typingBurst{arm: t.typing.arm + 1}
	t.closed = true
	offs := t.offs
	t.offs = nil
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
	t.cancel()
	t.wg.Wait()
}

func (t *Thread) onSent(env models.Envelope) {
	var msg models.Message
	if err := env.Decode(&msg); err != nil {
		return
	}
	t.mu.Lock()
	if t.state == StateNoSelection || msg.ReceiverID != t.counterpart.ID {
		t.mu.Unlock()
		return
	}
	t.appendLocked(msg)
	t.mu.Unlock()
	t.notify()
}

func (t *Thread) onReceived(env models.Envelope) {
	var msg models.Message
	if err := env.Decode(&msg); err != nil {
		return
	}
	t.mu.Lock()
	if t.closed || t.state == StateNoSelection || msg.SenderKey() != t.counterpart.ID {
		t.mu.Unlock()
		return
	}
	t.appendLocked(msg)
	gen, id := t.gen, t.counterpart.ID
	t.wg.Add(1)
	t.mu.Unlock()
	t.notify()

	go func() {
		defer t.wg.Done()
		t.markRead(t.ctx, gen, id)
	}()
}

func (t *Thread) onTyping(env models.Envelope) {
	var p models.TypingUserPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	t.mu.Lock()
	if t.state == StateNoSelection || p.UserID != t.counterpart.ID || t.remoteTyping == p.IsTyping {
		t.mu.Unlock()
		return
	}
	t.remoteTyping = p.IsTyping
	t.mu.Unlock()
	t.notify()
}

// appendLocked appends in arrival order; while loading, events are held
// until the history lands.
func (t *Thread) appendLocked(msg models.Message) {
	if t.state == StateLoading {
		t.pending = append(t.pending, msg)
		return
	}
	t.messages = append(t.messages, msg)
}

func (t *Thread) markRead(ctx context.Context, gen uint64, id int64) {
	if _, err := t.api.MarkRead(ctx, id); err != nil {
		if ctx.Err() == nil {
			t.logger.WithError(err).WithField("counterpart", id).Warn("mark read failed")
		}
		return
	}
	t.mu.Lock()
	current := t.gen == gen
	t.mu.Unlock()
	if current && t.reads != nil {
		t.reads.MarkRead(id)
	}
}

func (t *Thread) selected() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateNoSelection {
		return 0, false
	}
	return t.counterpart.ID, true
}

func (t *Thread) notify() {
	t.mu.Lock()
	subs := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// mergePending appends events received during loading that the history
// does not already contain.
func mergePending(history, pending []models.Message) []models.Message {
	if len(pending) == 0 {
		return history
	}
	seen := make(map[int64]bool, len(history))
	for _, m := range history {
		seen[m.ID] = true
	}
	for _, m := range pending {
		if m.ID != 0 && seen[m.ID] {
			continue
		}
		history = append(history, m)
	}
	return history
}
