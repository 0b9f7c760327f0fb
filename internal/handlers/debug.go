package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"association-chat/internal/middleware"
	"association-chat/internal/observability"
	"association-chat/internal/telemetry"
	"association-chat/internal/ws"
)

// HubInspector exposes the local push peer table.
type HubInspector interface {
	Snapshot() ws.Snapshot
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, hub HubInspector, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/hub", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Snapshot())
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "debug.audit_test", observability.RequestIDFromContext(c), middleware.UserID(c), 0, "audit test")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
