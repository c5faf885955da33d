package main

import (
	"carecall-rtc/internal/auth"
	"carecall-rtc/internal/httpapi"
	"carecall-rtc/internal/webhook"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *auth.Manager, wh *webhook.Handler) {
	// media-router webhooks authenticate by signature
	r.POST("/webhook/livekit", wh.Receive)

	h.Register(r, m)
}
