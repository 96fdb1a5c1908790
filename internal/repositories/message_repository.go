package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"chat-session/internal/models"
)

const messageColumns = `m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.file_url, m.file_name, m.file_size, m.created_at`

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessagesWithSenders(ctx context.Context, chatID string) ([]models.MessageView, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message. The insert trigger notifies subscribers.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, sender_id, content, message_type, file_url, file_name, file_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, chat_id, sender_id, content, message_type, file_url, file_name, file_size, created_at`,
		msg.ChatID, msg.SenderID, msg.Content, msg.MessageType, msg.FileURL, msg.FileName, msg.FileSize).
		StructScan(&stored)
	return stored, err
}

type messageRow struct {
	models.Message
	SenderName      sql.NullString `db:"sender_name"`
	SenderAvatarURL sql.NullString `db:"sender_avatar_url"`
}

// ListMessagesWithSenders returns the chat's messages ordered by (created_at, id)
// joined with the sender profile.
func (r *MessageRepo) ListMessagesWithSenders(ctx context.Context, chatID string) ([]models.MessageView, error) {
	query := `SELECT ` + messageColumns + `, p.name AS sender_name, p.avatar_url AS sender_avatar_url
        FROM messages m
        LEFT JOIN profiles p ON p.id = m.sender_id
        WHERE m.chat_id=$1
        ORDER BY m.created_at ASC, m.id ASC`
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, chatID); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row messageRow, _ int) models.MessageView {
		view := models.MessageView{Message: row.Message}
		if row.SenderName.Valid {
			view.Sender = &models.Sender{Name: row.SenderName.String}
			if row.SenderAvatarURL.Valid {
				view.Sender.AvatarURL = lo.ToPtr(row.SenderAvatarURL.String)
			}
		}
		return view
	}), nil
}

// ListMessages returns the chat's messages ordered by (created_at, id) without
// sender enrichment.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages m WHERE m.chat_id=$1 ORDER BY m.created_at ASC, m.id ASC`, chatID)
	return msgs, err
}
