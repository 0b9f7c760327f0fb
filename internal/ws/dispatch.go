package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"association-chat/internal/models"
	"association-chat/internal/observability"
	"association-chat/internal/telemetry"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrSelfMessage    = errors.New("cannot message yourself")
)

// HandleClientEvent processes one envelope received from peer. Failures are
// answered with an error event on the same peer.
func (h *Hub) HandleClientEvent(ctx context.Context, peer Peer, env models.Envelope) {
	observability.IncPushEvent(peer.Transport(), env.Event)

	var err error
	switch env.Event {
	case models.EventMessageSend:
		err = h.handleSend(ctx, peer, env)
	case models.EventTypingStart, models.EventTypingStop:
		err = h.handleTyping(ctx, peer, env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err == nil {
		return
	}

	h.logger.WithError(err).WithFields(logrus.Fields{
		"user_id": peer.UserID(),
		"conn_id": peer.ID(),
		"event":   env.Event,
	}).Warn("push event rejected")
	h.sendError(peer, err)
}

func (h *Hub) handleSend(ctx context.Context, peer Peer, env models.Envelope) error {
	var payload models.SendMessagePayload
	if err := env.Decode(&payload); err != nil {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(payload.Content) == "" {
		return ErrEmptyContent
	}
	if payload.Type == "" {
		payload.Type = models.MessageTypeText
	}
	if !payload.Type.Valid() || payload.ReceiverID <= 0 {
		return ErrInvalidPayload
	}
	senderID := peer.UserID()
	if payload.ReceiverID == senderID {
		return ErrSelfMessage
	}

	msg, err := h.messages.CreateMessage(ctx, senderID, payload.ReceiverID, payload.Content, payload.Type)
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	observability.IncMessageStored(string(msg.Type))

	sent, err := models.NewEnvelope(models.EventMessageSent, msg)
	if err != nil {
		return err
	}
	received, err := models.NewEnvelope(models.EventMessageReceived, msg)
	if err != nil {
		return err
	}
	h.Deliver(ctx, senderID, sent)
	h.Deliver(ctx, payload.ReceiverID, received)

	h.mu.RLock()
	requestID := h.connInfo[peer.ID()].RequestID
	h.mu.RUnlock()
	h.audit.Emit(ctx, telemetry.ActionMessageSent, requestID, senderID, payload.ReceiverID, string(msg.Type))
	return nil
}

func (h *Hub) handleTyping(ctx context.Context, peer Peer, env models.Envelope) error {
	var payload models.TypingPayload
	if err := env.Decode(&payload); err != nil || payload.ReceiverID <= 0 {
		return ErrInvalidPayload
	}
	out, err := models.NewEnvelope(models.EventTypingUser, models.TypingUserPayload{
		UserID:   peer.UserID(),
		IsTyping: env.Event == models.EventTypingStart,
	})
	if err != nil {
		return err
	}
	h.Deliver(ctx, payload.ReceiverID, out)
	return nil
}

func (h *Hub) sendError(peer Peer, err error) {
	message := "failed to process event"
	for _, known := range []error{ErrUnknownEvent, ErrInvalidPayload, ErrEmptyContent, ErrSelfMessage} {
		if errors.Is(err, known) {
			message = known.Error()
			break
		}
	}
	env, mErr := models.NewEnvelope(models.EventError, models.ErrorPayload{Message: message})
	if mErr != nil {
		return
	}
	_ = peer.Send(env)
}
