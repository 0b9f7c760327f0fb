package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"association-chat/internal/models"
)

// MessageRepository defines persistence for one-to-one chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string, messageType models.MessageType) (models.Message, error)
	ListMessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error)
	MarkRead(ctx context.Context, readerID, senderID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID           int64     `db:"id"`
	SenderID     int64     `db:"sender_id"`
	ReceiverID   int64     `db:"receiver_id"`
	Content      string    `db:"content"`
	Type         string    `db:"type"`
	Read         bool      `db:"read"`
	CreatedAt    time.Time `db:"created_at"`
	SenderName   string    `db:"sender_name"`
	SenderRole   string    `db:"sender_role"`
	SenderAvatar string    `db:"sender_avatar"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID: r.ID,
		Sender: models.Counterpart{
			ID:     r.SenderID,
			Name:   r.SenderName,
			Role:   r.SenderRole,
			Avatar: r.SenderAvatar,
		},
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		Type:       models.MessageType(r.Type),
		Read:       r.Read,
		CreatedAt:  r.CreatedAt,
	}
}

const messageSelect = `SELECT m.id, m.sender_id, m.receiver_id, m.content, m.type, m.read, m.created_at,
        u.name AS sender_name, u.role AS sender_role, u.avatar AS sender_avatar
        FROM chat_messages m JOIN staff_users u ON u.id = m.sender_id`

// CreateMessage stores a message and returns it with the sender expanded.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID int64, content string, messageType models.MessageType) (models.Message, error) {
	var row messageRow
	err := r.db.QueryRowxContext(ctx, `WITH inserted AS (
            INSERT INTO chat_messages (sender_id, receiver_id, content, type) VALUES ($1, $2, $3, $4)
            RETURNING id, sender_id, receiver_id, content, type, read, created_at
        )
        SELECT m.id, m.sender_id, m.receiver_id, m.content, m.type, m.read, m.created_at,
        u.name AS sender_name, u.role AS sender_role, u.avatar AS sender_avatar
        FROM inserted m JOIN staff_users u ON u.id = m.sender_id`,
		senderID, receiverID, content, string(messageType)).StructScan(&row)
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

// ListMessagesBetween returns the full history of a pair, oldest first.
func (r *MessageRepo) ListMessagesBetween(ctx context.Context, userID, otherID int64) ([]models.Message, error) {
	var rows []messageRow
	query := messageSelect + `
        WHERE (m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1)
        ORDER BY m.created_at ASC, m.id ASC`
	if err := r.db.SelectContext(ctx, &rows, query, userID, otherID); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

// MarkRead flags every message from senderID to readerID as read. It is
// idempotent and reports how many rows changed.
func (r *MessageRepo) MarkRead(ctx context.Context, readerID, senderID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_messages SET read = TRUE
        WHERE receiver_id=$1 AND sender_id=$2 AND read = FALSE`, readerID, senderID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnreadCount returns the number of unread messages addressed to userID.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages WHERE receiver_id=$1 AND read = FALSE`, userID)
	return count, err
}

type conversationRow struct {
	OtherID     int64     `db:"other_id"`
	Name        string    `db:"name"`
	Role        string    `db:"role"`
	Avatar      string    `db:"avatar"`
	Content     string    `db:"content"`
	Type        string    `db:"type"`
	CreatedAt   time.Time `db:"created_at"`
	UnreadCount int       `db:"unread_count"`
}

// ListConversations returns one row per counterpart, most recent first.
func (r *MessageRepo) ListConversations(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	query := `WITH pairs AS (
            SELECT CASE WHEN sender_id=$1 THEN receiver_id ELSE sender_id END AS other_id,
                   id, content, type, created_at
            FROM chat_messages WHERE sender_id=$1 OR receiver_id=$1
        ), latest AS (
            SELECT DISTINCT ON (other_id) other_id, content, type, created_at
            FROM pairs ORDER BY other_id, created_at DESC, id DESC
        )
        SELECT l.other_id, u.name, u.role, u.avatar, l.content, l.type, l.created_at,
            (SELECT COUNT(*) FROM chat_messages c
             WHERE c.sender_id=l.other_id AND c.receiver_id=$1 AND c.read = FALSE) AS unread_count
        FROM latest l JOIN staff_users u ON u.id = l.other_id
        ORDER BY l.created_at DESC`

	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	result := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.ConversationSummary{
			User: models.Counterpart{ID: row.OtherID, Name: row.Name, Role: row.Role, Avatar: row.Avatar},
			LastMessage: models.LastMessage{
				Content:   row.Content,
				Type:      models.MessageType(row.Type),
				CreatedAt: row.CreatedAt,
			},
			UnreadCount: row.UnreadCount,
		})
	}
	return result, nil
}
