package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"association-chat/internal/middleware"
	"association-chat/internal/models"
	"association-chat/internal/observability"
)

var errQueueFull = errors.New("poll queue full")

// pollPeer buffers events for a client on the long-polling transport.
type pollPeer struct {
	id     string
	userID int64
	queue  chan models.Envelope
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	polling  int
	lastSeen time.Time
}

func newPollPeer(id string, userID int64, size int) *pollPeer {
	return &pollPeer{
		id:       id,
		userID:   userID,
		queue:    make(chan models.Envelope, size),
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}
}

func (p *pollPeer) ID() string        { return p.id }
func (p *pollPeer) UserID() int64     { return p.userID }
func (p *pollPeer) Transport() string { return TransportPolling }

func (p *pollPeer) Send(env models.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	select {
	case p.queue <- env:
		return nil
	default:
		return errQueueFull
	}
}

func (p *pollPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *pollPeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pollPeer) touch(delta int) {
	p.mu.Lock()
	p.polling += delta
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *pollPeer) idleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polling > 0 {
		return 0
	}
	return now.Sub(p.lastSeen)
}

// drain waits up to wait for the first event, then returns everything queued.
func (p *pollPeer) drain(ctx context.Context, wait time.Duration) []models.Envelope {
	out := []models.Envelope{}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case env := <-p.queue:
		out = append(out, env)
	case <-timer.C:
		return out
	case <-p.done:
		return out
	case <-ctx.Done():
		return out
	}
	for {
		select {
		case env := <-p.queue:
			out = append(out, env)
		default:
			return out
		}
	}
}

// PollingHandler serves the long-polling fallback transport.
type PollingHandler struct {
	hub       *Hub
	tokens    middleware.TokenValidator
	wait      time.Duration
	idle      time.Duration
	queueSize int

	mu       sync.Mutex
	sessions map[string]*pollPeer
}

// NewPollingHandler constructs a PollingHandler.
func NewPollingHandler(hub *Hub, tokens middleware.TokenValidator, wait, idle time.Duration, queueSize int) *PollingHandler {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &PollingHandler{
		hub:       hub,
		tokens:    tokens,
		wait:      wait,
		idle:      idle,
		queueSize: queueSize,
		sessions:  make(map[string]*pollPeer),
	}
}

type openRequest struct {
	Token string `json:"token"`
}

// Open performs the handshake and returns a session id.
func (h *PollingHandler) Open(c *gin.Context) {
	token := tokenFromRequest(c)
	if token == "" {
		var req openRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			token = req.Token
		}
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	peer := newPollPeer(newConnID(), userID, h.queueSize)
	h.mu.Lock()
	h.sessions[peer.id] = peer
	h.mu.Unlock()

	h.hub.Register(c.Request.Context(), peer, ConnInfo{
		ConnID:      peer.id,
		UserID:      userID,
		Transport:   TransportPolling,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(c),
		ConnectedAt: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"sid": peer.id})
}

// Poll returns queued events, waiting for the first one when none are ready.
func (h *PollingHandler) Poll(c *gin.Context) {
	peer, ok := h.lookup(c)
	if !ok {
		return
	}
	peer.touch(1)
	events := peer.drain(c.Request.Context(), h.wait)
	peer.touch(-1)

	if len(events) == 0 && peer.isClosed() {
		h.forget(peer.id)
		c.JSON(http.StatusGone, gin.H{"error": "session closed"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// Emit accepts one client event.
func (h *PollingHandler) Emit(c *gin.Context) {
	peer, ok := h.lookup(c)
	if !ok {
		return
	}
	var env models.Envelope
	if err := c.ShouldBindJSON(&env); err != nil || env.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
		return
	}
	peer.touch(0)
	h.hub.HandleClientEvent(c.Request.Context(), peer, env)
	c.Status(http.StatusNoContent)
}

// Close ends a polling session.
func (h *PollingHandler) Close(c *gin.Context) {
	peer, ok := h.lookup(c)
	if !ok {
		return
	}
	h.forget(peer.id)
	h.hub.Unregister(c.Request.Context(), peer, "client closed")
	c.Status(http.StatusNoContent)
}

// Run reaps sessions whose client stopped polling.
func (h *PollingHandler) Run(ctx context.Context) {
	interval := h.idle / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.reap(ctx, now)
		}
	}
}

func (h *PollingHandler) reap(ctx context.Context, now time.Time) {
	h.mu.Lock()
	var stale []*pollPeer
	for id, peer := range h.sessions {
		if peer.isClosed() || peer.idleSince(now) > h.idle {
			stale = append(stale, peer)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, peer := range stale {
		h.hub.Unregister(ctx, peer, "poll timeout")
	}
}

func (h *PollingHandler) lookup(c *gin.Context) (*pollPeer, bool) {
	h.mu.Lock()
	peer, ok := h.sessions[c.Param("sid")]
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return nil, false
	}
	return peer, true
}

func (h *PollingHandler) forget(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}
