package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/repositories"
	"association-chat/internal/telemetry"
)

const pushRoutingKey = "push_events.chat"

// Hub maintains the push peers of every connected staff member and routes
// events between them.
type Hub struct {
	peers    map[int64]map[string]Peer
	connInfo map[string]ConnInfo
	mu       sync.RWMutex

	messages repositories.MessageRepository
	presence Presence
	relay    Relay
	audit    *telemetry.AuditEmitter
	logger   logrus.FieldLogger
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithPresence replaces the in-memory presence set.
func WithPresence(p Presence) HubOption {
	return func(h *Hub) { h.presence = p }
}

// WithRelay routes deliveries through a cross-instance relay.
func WithRelay(r Relay) HubOption {
	return func(h *Hub) { h.relay = r }
}

// WithAudit records sent messages in the audit trail.
func WithAudit(a *telemetry.AuditEmitter) HubOption {
	return func(h *Hub) { h.audit = a }
}

// WithLogger sets the hub logger.
func WithLogger(l logrus.FieldLogger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty hub.
func NewHub(messages repositories.MessageRepository, opts ...HubOption) *Hub {
	h := &Hub{
		peers:    make(map[int64]map[string]Peer),
		connInfo: make(map[string]ConnInfo),
		messages: messages,
		presence: NewMemoryPresence(),
		logger:   observability.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run consumes relayed deliveries until ctx is done. Without a relay it
// just waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Run(ctx, h.deliverLocal)
}

// Register adds a peer and publishes the presence change it causes.
func (h *Hub) Register(ctx context.Context, peer Peer, info ConnInfo) {
	h.mu.Lock()
	if _, ok := h.peers[peer.UserID()]; !ok {
		h.peers[peer.UserID()] = make(map[string]Peer)
	}
	h.peers[peer.UserID()][peer.ID()] = peer
	h.connInfo[peer.ID()] = info
	h.mu.Unlock()

	observability.IncPushActive(peer.Transport())
	observability.IncPushEvent(peer.Transport(), "push_connect")
	h.publishLifecycle(ctx, "push_connect", info, "")
	h.logger.WithFields(info.logFields(peer)).Info("push peer connected")

	changed, err := h.presence.Join(ctx, peer.UserID())
	if err != nil {
		h.logger.WithError(err).Warn("presence join failed")
	}
	if changed {
		h.broadcastPresence(ctx)
		return
	}
	h.sendPresence(ctx, peer)
}

// Unregister removes and closes a peer. Calling it twice is harmless.
func (h *Hub) Unregister(ctx context.Context, peer Peer, reason string) {
	h.mu.Lock()
	peers, ok := h.peers[peer.UserID()]
	if ok {
		if _, ok = peers[peer.ID()]; ok {
			delete(peers, peer.ID())
			if len(peers) == 0 {
				delete(h.peers, peer.UserID())
			}
		}
	}
	info := h.connInfo[peer.ID()]
	delete(h.connInfo, peer.ID())
	h.mu.Unlock()

	_ = peer.Close()
	if !ok {
		return
	}

	observability.DecPushActive(peer.Transport())
	observability.IncPushEvent(peer.Transport(), "push_disconnect")
	h.publishLifecycle(ctx, "push_disconnect", info, reason)
	h.logger.WithFields(info.logFields(peer)).WithField("reason", reason).Info("push peer disconnected")

	changed, err := h.presence.Leave(ctx, peer.UserID())
	if err != nil {
		h.logger.WithError(err).Warn("presence leave failed")
	}
	if changed {
		h.broadcastPresence(ctx)
	}
}

// Deliver sends env to every peer of target, or to everyone when target is 0.
func (h *Hub) Deliver(ctx context.Context, target int64, env models.Envelope) {
	if h.relay != nil {
		err := h.relay.Publish(ctx, target, env)
		if err == nil {
			return
		}
		h.logger.WithError(err).WithField("event", env.Event).Warn("relay publish failed, delivering locally")
	}
	h.deliverLocal(target, env)
}

func (h *Hub) deliverLocal(target int64, env models.Envelope) {
	h.mu.RLock()
	var peers []Peer
	if target == 0 {
		for _, byID := range h.peers {
			for _, p := range byID {
				peers = append(peers, p)
			}
		}
	} else {
		for _, p := range h.peers[target] {
			peers = append(peers, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.Send(env); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": p.UserID(),
				"conn_id": p.ID(),
				"event":   env.Event,
			}).Warn("push write failed")
			h.Unregister(context.Background(), p, err.Error())
			continue
		}
		observability.IncPushEvent(p.Transport(), env.Event)
	}
}

func (h *Hub) broadcastPresence(ctx context.Context) {
	env, ok := h.presenceEnvelope(ctx)
	if !ok {
		return
	}
	h.Deliver(ctx, 0, env)
}

func (h *Hub) sendPresence(ctx context.Context, peer Peer) {
	env, ok := h.presenceEnvelope(ctx)
	if !ok {
		return
	}
	if err := peer.Send(env); err != nil {
		h.logger.WithError(err).WithField("conn_id", peer.ID()).Warn("presence snapshot write failed")
	}
}

func (h *Hub) presenceEnvelope(ctx context.Context) (models.Envelope, bool) {
	online, err := h.presence.Online(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("presence snapshot failed")
		return models.Envelope{}, false
	}
	observability.SetOnlineUsers(len(online))
	env, err := models.NewEnvelope(models.EventUsersOnline, online)
	if err != nil {
		return models.Envelope{}, false
	}
	return env, true
}

func (h *Hub) publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	duration := int64(0)
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, pushRoutingKey, observability.EventEnvelope{
		EventType: "push_events",
		EventName: event,
		Payload: map[string]interface{}{
			"push": map[string]interface{}{
				"transport":   info.Transport,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

// Snapshot describes the peers held by this instance.
type Snapshot struct {
	Online []int64            `json:"online"`
	Peers  map[int64][]string `json:"peers"`
}

// Snapshot returns the local peer table, transports per user.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := Snapshot{Online: make([]int64, 0, len(h.peers)), Peers: make(map[int64][]string, len(h.peers))}
	for userID, byID := range h.peers {
		snap.Online = append(snap.Online, userID)
		for _, p := range byID {
			snap.Peers[userID] = append(snap.Peers[userID], p.Transport())
		}
		sort.Strings(snap.Peers[userID])
	}
	sort.Slice(snap.Online, func(i, j int) bool { return snap.Online[i] < snap.Online[j] })
	return snap
}
