package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Audit actions recorded by the chat API.
const (
	ActionLogin        = "auth.login"
	ActionMessageSent  = "chat.message_sent"
	ActionMessagesRead = "chat.messages_read"
	ActionAttachment   = "chat.attachment_uploaded"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AuditEmitter records who did what in the chat for the association's audit trail.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      logrus.FieldLogger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Action       string `json:"action"`
	Counterparty *int64 `json:"counterparty_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger logrus.FieldLogger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one audit record. Failures are logged and otherwise ignored.
func (e *AuditEmitter) Emit(ctx context.Context, action, requestID string, userID int64, counterparty int64, detail string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		Payload: AuditPayload{
			Action: action,
			Detail: detail,
		},
	}
	if userID != 0 {
		id := strconv.FormatInt(userID, 10)
		envelope.UserID = &id
	}
	if counterparty != 0 {
		envelope.Payload.Counterparty = &counterparty
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil && e.logger != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"action":     action,
			"request_id": requestID,
		}).Warn("audit publish failed")
	}
}
