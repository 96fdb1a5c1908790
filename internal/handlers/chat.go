package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-session/internal/composer"
	"chat-session/internal/directory"
	"chat-session/internal/models"
	"chat-session/internal/stream"
	"chat-session/internal/telemetry"
)

// ChatHandler serves chat listing, direct chat creation and messaging.
type ChatHandler struct {
	directory *directory.Service
	stream    *stream.Stream
	composer  *composer.Composer
	audit     *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(dir *directory.Service, st *stream.Stream, comp *composer.Composer, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{directory: dir, stream: st, composer: comp, audit: audit}
}

// ListChats returns the caller's chats with display names.
func (h *ChatHandler) ListChats(c *gin.Context) {
	summaries, err := h.directory.ListChatSummaries(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": summaries})
}

// StartDirectChat returns the direct chat with another user, creating it when
// needed.
func (h *ChatHandler) StartDirectChat(c *gin.Context) {
	var req struct {
		OtherUserID string `json:"other_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	chat, err := h.directory.GetOrCreateDirectChat(c.Request.Context(), userID, req.OtherUserID)
	switch {
	case errors.Is(err, directory.ErrSelfChat), errors.Is(err, directory.ErrMissingUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, directory.ErrUnknownUser):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "direct chat opened with "+req.OtherUserID, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

// GetChatMessages returns the chat's ordered messages.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	msgs, err := h.stream.FetchMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostChatMessage sends a text or emoji message. The stored message reaches
// clients through their subscriptions, so the response carries no body.
func (h *ChatHandler) PostChatMessage(c *gin.Context) {
	chatID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	var req struct {
		Content string             `json:"content"`
		Type    models.MessageType `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	var err error
	switch req.Type {
	case "", models.MessageTypeText:
		err = h.composer.SendText(c.Request.Context(), chatID, userID, req.Content)
	case models.MessageTypeEmoji:
		err = h.composer.SendEmoji(c.Request.Context(), chatID, userID, req.Content)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported message type"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	c.Status(http.StatusAccepted)
}

// PostFileMessage sends a message for an already uploaded file.
func (h *ChatHandler) PostFileMessage(c *gin.Context) {
	chatID, ok := h.requireParticipant(c)
	if !ok {
		return
	}

	var req struct {
		URL  string             `json:"url"`
		Name string             `json:"name"`
		Size int64              `json:"size"`
		Type models.MessageType `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.composer.SendFile(c.Request.Context(), composer.FileUpload{
		ChatID:   chatID,
		SenderID: c.GetString("userID"),
		Name:     req.Name,
		Size:     req.Size,
		URL:      req.URL,
		Type:     req.Type,
	})
	switch {
	case errors.Is(err, composer.ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send file"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ChatHandler) requireParticipant(c *gin.Context) (string, bool) {
	chatID := strings.TrimSpace(c.Param("chat_id"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return "", false
	}

	err := h.directory.EnsureParticipant(c.Request.Context(), chatID, c.GetString("userID"))
	switch {
	case errors.Is(err, directory.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return "", false
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return "", false
	}
	return chatID, true
}
