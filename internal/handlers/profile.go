package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-session/internal/presence"
	"chat-session/internal/profiles"
)

// ProfileHandler serves contact search and presence updates.
type ProfileHandler struct {
	resolver *profiles.Resolver
	presence *presence.Manager
}

func NewProfileHandler(resolver *profiles.Resolver, pres *presence.Manager) *ProfileHandler {
	return &ProfileHandler{resolver: resolver, presence: pres}
}

// SearchProfiles lists other users, filtered by the q parameter when given.
func (h *ProfileHandler) SearchProfiles(c *gin.Context) {
	found, err := h.resolver.Search(c.Request.Context(), c.GetString("userID"), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profiles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": found})
}

// SetPresence updates the caller's own online flag.
func (h *ProfileHandler) SetPresence(c *gin.Context) {
	var req struct {
		Online *bool `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.presence.SetOnline(c.Request.Context(), c.GetString("userID"), *req.Online); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update presence"})
		return
	}
	c.Status(http.StatusNoContent)
}
