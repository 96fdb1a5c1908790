package composer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chat-session/internal/models"
	"chat-session/internal/observability"
	"chat-session/internal/repositories"
)

const messageSentRoutingKey = "chat.message.sent"

var ErrInvalidUpload = errors.New("invalid file upload")

// FileUpload describes an already stored attachment.
type FileUpload struct {
	ChatID   string             `json:"chat_id" validate:"required"`
	SenderID string             `json:"sender_id" validate:"required"`
	Name     string             `json:"name" validate:"required"`
	Size     int64              `json:"size" validate:"gte=0"`
	URL      string             `json:"url" validate:"required,url"`
	Type     models.MessageType `json:"type" validate:"required,oneof=image file"`
}

// Composer writes outgoing messages. It never echoes them locally: senders see
// their own messages through their subscription like everyone else.
type Composer struct {
	messages  repositories.MessageRepository
	validator *validator.Validate
	now       func() time.Time
	log       zerolog.Logger
}

func New(messages repositories.MessageRepository, log zerolog.Logger) *Composer {
	return &Composer{
		messages:  messages,
		validator: validator.New(),
		now:       time.Now,
		log:       log.With().Str("component", "composer").Logger(),
	}
}

// SendText stores a trimmed text message. Empty or whitespace-only content is
// ignored without error.
func (c *Composer) SendText(ctx context.Context, chatID, senderID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return c.send(ctx, models.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     content,
		MessageType: models.MessageTypeText,
	})
}

// SendEmoji stores the glyph as an emoji message. The glyph is not validated.
func (c *Composer) SendEmoji(ctx context.Context, chatID, senderID, glyph string) error {
	return c.send(ctx, models.Message{
		ChatID:      chatID,
		SenderID:    senderID,
		Content:     glyph,
		MessageType: models.MessageTypeEmoji,
	})
}

// SendFile stores a message for an uploaded attachment. The content is the
// file name.
func (c *Composer) SendFile(ctx context.Context, upload FileUpload) error {
	if err := c.validator.Struct(upload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	return c.send(ctx, models.Message{
		ChatID:      upload.ChatID,
		SenderID:    upload.SenderID,
		Content:     upload.Name,
		MessageType: upload.Type,
		FileURL:     lo.ToPtr(upload.URL),
		FileName:    lo.ToPtr(upload.Name),
		FileSize:    lo.ToPtr(upload.Size),
	})
}

func (c *Composer) send(ctx context.Context, msg models.Message) error {
	if msg.ChatID == "" || msg.SenderID == "" {
		return errors.New("chat id and sender id are required")
	}

	stored, err := c.messages.CreateMessage(ctx, msg)
	if err != nil {
		c.log.Error().Err(err).Str("chat_id", msg.ChatID).Str("type", string(msg.MessageType)).Msg("send message")
		return fmt.Errorf("send %s message: %w", msg.MessageType, err)
	}
	observability.IncMessageSent(string(stored.MessageType))

	envelope := observability.EventEnvelope{
		EventType: "domain",
		EventName: "message.sent",
		TraceID:   observability.TraceIDFromContext(ctx),
		Payload: models.MessageEvent{
			ChatID:    stored.ChatID,
			MessageID: stored.ID,
		},
	}
	if err := observability.PublishEvent(ctx, messageSentRoutingKey, envelope); err != nil {
		c.log.Warn().Err(err).Str("message_id", stored.ID).Msg("publish message.sent")
	}
	return nil
}

// ClassifyUpload picks the attachment type from the first bytes of a file.
func ClassifyUpload(header []byte) models.MessageType {
	if strings.HasPrefix(mimetype.Detect(header).String(), "image/") {
		return models.MessageTypeImage
	}
	return models.MessageTypeFile
}

// UploadPath builds the storage key for an upload:
// uploads/<unix-millis>-<uuid>.<ext>. Keys never repeat, even within one
// millisecond.
func (c *Composer) UploadPath(name string) string {
	return uploadPath(name, c.now(), uuid.NewString())
}

func uploadPath(name string, at time.Time, id string) string {
	key := "uploads/" + strconv.FormatInt(at.UnixMilli(), 10) + "-" + id
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return key
	}
	return key + "." + ext
}
