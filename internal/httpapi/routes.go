package httpapi

import (
	"carecall-rtc/internal/auth"
	"carecall-rtc/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the API routes. The media-router webhook is mounted by the
// caller since it authenticates by signature, not bearer.
func (h Handlers) Register(r gin.IRouter, m *auth.Manager) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")

	// device and operator joins; anonymous refresh is allowed for known identities
	v1.POST("/rtc/token", auth.OptionalAccessToken(m), h.IssueToken)

	lk := v1.Group("/livekit")
	lk.Use(auth.RequireAccessToken(m), rbac.RequireStaff())
	{
		lk.GET("/rooms", h.ListRooms)
		lk.POST("/rooms/reap", h.Reap)
		lk.POST("/rooms/:roomName/takeover", h.Takeover)
		lk.POST("/bot", h.StartBot)
		lk.GET("/events", h.Events)
	}
}
