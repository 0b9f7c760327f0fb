package models

import "encoding/json"

// Push channel event names.
const (
	EventMessageSend     = "message:send"
	EventMessageSent     = "message:sent"
	EventMessageReceived = "message:received"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventTypingUser      = "typing:user"
	EventUsersOnline     = "users:online"
	EventError           = "error"
)

// Envelope is the frame exchanged on the push channel in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("null"), out)
	}
	return json.Unmarshal(e.Data, out)
}

// SendMessagePayload is the client request to deliver a message.
type SendMessagePayload struct {
	ReceiverID int64       `json:"receiverId"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
}

// TypingPayload is sent with typing:start and typing:stop.
type TypingPayload struct {
	ReceiverID int64 `json:"receiverId"`
}

// TypingUserPayload tells a client that a counterpart is or stopped typing.
type TypingUserPayload struct {
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// ErrorPayload is pushed back when a client event cannot be processed.
type ErrorPayload struct {
	Message string `json:"message"`
}
