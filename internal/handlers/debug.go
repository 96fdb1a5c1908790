package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-session/internal/events"
	"chat-session/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, hub *events.Hub, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/subscribers/:chat_id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"chat_id": c.Param("chat_id"), "subscribers": hub.Subscribers(c.Param("chat_id"))})
	})
}
