package models

import "time"

// MessageType distinguishes plain text from attachment messages.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeFile
}

// Message represents a one-to-one chat message.
type Message struct {
	ID         int64       `db:"id" json:"id"`
	Sender     Counterpart `db:"-" json:"sender"`
	SenderID   int64       `db:"sender_id" json:"-"`
	ReceiverID int64       `db:"receiver_id" json:"receiverId"`
	Content    string      `db:"content" json:"content"`
	Type       MessageType `db:"type" json:"type"`
	Read       bool        `db:"read" json:"read"`
	CreatedAt  time.Time   `db:"created_at" json:"createdAt"`
}

// SenderKey returns the sender id whether or not the sender was expanded.
func (m Message) SenderKey() int64 {
	if m.Sender.ID != 0 {
		return m.Sender.ID
	}
	return m.SenderID
}

// Counterparty returns the participant of m that is not self.
func (m Message) Counterparty(self int64) int64 {
	if m.SenderKey() == self {
		return m.ReceiverID
	}
	return m.SenderKey()
}
