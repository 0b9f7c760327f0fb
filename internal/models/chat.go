package models

import "time"

// Role values carried by staff accounts.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Counterpart is a staff member or admin reachable through the chat.
type Counterpart struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Role   string `db:"role" json:"role"`
	Avatar string `db:"avatar" json:"avatar,omitempty"`
	// Online is derived from presence snapshots on the client.
	Online bool `db:"-" json:"online"`
}

// StaffUser is the persisted staff account behind a Counterpart.
type StaffUser struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Role         string    `db:"role" json:"role"`
	Avatar       string    `db:"avatar" json:"avatar,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Counterpart projects the account to its public chat identity.
func (u StaffUser) Counterpart() Counterpart {
	return Counterpart{ID: u.ID, Name: u.Name, Role: u.Role, Avatar: u.Avatar}
}

// LastMessage is the preview shown in a conversation row.
type LastMessage struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ConversationSummary is one row of the caller's conversation list.
type ConversationSummary struct {
	User        Counterpart `json:"user"`
	LastMessage LastMessage `json:"lastMessage"`
	UnreadCount int         `json:"unreadCount"`
}
