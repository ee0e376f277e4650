package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ephemeral-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints on an authenticated group.
func RegisterDebugRoutes(r gin.IRoutes, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	r.POST("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		ctx := telemetry.WithRequestID(c.Request.Context(), requestIDFromContext(c))
		emitter.Emit(ctx, c.GetInt64("userID"), telemetry.AuditPayload{Action: "audit_test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
