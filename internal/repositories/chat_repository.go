package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-session/internal/models"
)

const chatColumns = `c.id, c.name, c.is_group, c.created_by, c.created_at, c.updated_at`

// ChatRepository abstracts chat and membership persistence.
type ChatRepository interface {
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID string, userID string) (bool, error)
	OtherParticipants(ctx context.Context, chatID string, selfID string) ([]string, error)
	FindDirectChat(ctx context.Context, userID string, otherUserID string) (models.Chat, error)
	CreateDirectChat(ctx context.Context, creatorID string, otherUserID string) (models.Chat, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// ListChatsForUser returns chats the user has a participant row in.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats c
        INNER JOIN chat_participants cp ON cp.chat_id = c.id
        WHERE cp.user_id=$1
        ORDER BY c.updated_at DESC, c.id ASC`
	chats := []models.Chat{}
	if err := r.db.SelectContext(ctx, &chats, query, userID); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// OtherParticipants lists the user ids of a chat excluding selfID, in join order.
func (r *ChatRepo) OtherParticipants(ctx context.Context, chatID string, selfID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_participants WHERE chat_id=$1 AND user_id<>$2 ORDER BY joined_at ASC, user_id ASC`, chatID, selfID)
	return ids, err
}

// FindDirectChat scans the user's direct chats for one the other user also
// participates in. The oldest match is the canonical chat. Chats without
// participant rows never match.
func (r *ChatRepo) FindDirectChat(ctx context.Context, userID string, otherUserID string) (models.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_participants mine
        INNER JOIN chats c ON c.id = mine.chat_id AND c.is_group = FALSE
        INNER JOIN chat_participants theirs ON theirs.chat_id = mine.chat_id AND theirs.user_id=$2
        WHERE mine.user_id=$1
        ORDER BY c.created_at ASC, c.id ASC
        LIMIT 1`
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, query, userID, otherUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// CreateDirectChat creates a direct chat and both participant rows atomically.
// The unordered user pair is claimed in direct_chat_pairs; if another
// transaction already holds it, nothing is written and ErrDirectChatConflict
// is returned.
func (r *ChatRepo) CreateDirectChat(ctx context.Context, creatorID string, otherUserID string) (models.Chat, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	if err = tx.QueryRowxContext(ctx, `INSERT INTO chats (is_group, created_by) VALUES (FALSE, $1) RETURNING id, name, is_group, created_by, created_at, updated_at`, creatorID).
		StructScan(&chat); err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	low, high := models.PairKey(creatorID, otherUserID)
	res, err := tx.ExecContext(ctx, `INSERT INTO direct_chat_pairs (user_low, user_high, chat_id) VALUES ($1, $2, $3)
        ON CONFLICT (user_low, user_high) DO NOTHING`, low, high, chat.ID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("claim pair: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return models.Chat{}, err
	}
	if claimed == 0 {
		err = ErrDirectChatConflict
		return models.Chat{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2), ($1, $3)`, chat.ID, creatorID, otherUserID); err != nil {
		return models.Chat{}, fmt.Errorf("insert participants: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}
