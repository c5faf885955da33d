package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"carecall-rtc/internal/audit"
	"carecall-rtc/internal/auth"
	"carecall-rtc/internal/events"
	"carecall-rtc/internal/reaper"
	"carecall-rtc/internal/rtc"
	"carecall-rtc/internal/rtcerr"
	"carecall-rtc/internal/takeover"
	"carecall-rtc/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Issuer    *rtc.Issuer
	Registrar *rtc.Registrar
	Reaper    *reaper.Reaper
	Takeover  *takeover.Controller
	Audit     *audit.Service
	Hub       *events.Hub
	RouterURL string
}

// writeError maps the rtcerr taxonomy to a status and a client-safe message.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rtcerr.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, rtcerr.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, rtcerr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, rtcerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rtcerr.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": rtcerr.Message(err)})
}

func caller(c *gin.Context) *rtc.Caller {
	ctx := c.Request.Context()
	id, err := auth.Identity(ctx)
	if err != nil {
		return nil
	}
	role, _ := auth.Role(ctx)
	return &rtc.Caller{Identity: id, Name: auth.Name(ctx), Role: role}
}

func actor(c *gin.Context) string {
	id, _ := auth.Identity(c.Request.Context())
	return id
}

func (h Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Tokens ---

type tokenRequest struct {
	RoomName        string `json:"roomName"`
	Identity        string `json:"identity"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	APNsToken       string `json:"apnsToken"`
	VoIPToken       string `json:"voipToken"`
	Platform        string `json:"platform"`
	Env             string `json:"env"`
	SupportsCallKit bool   `json:"supportsCallKit"`
}

// IssueToken mints a room token. Bearer auth is optional; without one the
// identity must already be registered.
func (h Handlers) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	in := rtc.TokenRequest{
		RoomName: req.RoomName,
		Identity: req.Identity,
		Name:     req.Name,
		Role:     req.Role,
		Caller:   caller(c),
	}
	if req.VoIPToken != "" || req.APNsToken != "" {
		in.Device = &rtc.DeviceInfo{
			VoIPToken:       strings.TrimSpace(req.VoIPToken),
			APNsToken:       strings.TrimSpace(req.APNsToken),
			Platform:        req.Platform,
			Env:             req.Env,
			SupportsCallKit: req.SupportsCallKit,
		}
	}

	s, err := h.Issuer.Issue(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Rooms (staff) ---

func (h Handlers) ListRooms(c *gin.Context) {
	ov, err := h.Registrar.Overview(c.Request.Context(), h.RouterURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

func (h Handlers) StartBot(c *gin.Context) {
	s, err := h.Issuer.StartBot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Audit.LogBotSession(c.Request.Context(), actor(c), s.RoomName, s.Identity); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
	c.JSON(http.StatusOK, s)
}

type takeoverRequest struct {
	Active *bool `json:"active"`
}

// Takeover toggles operator takeover. Channel failures are reported in the
// body with a 200; only an unreadable room roster fails the request.
func (h Handlers) Takeover(c *gin.Context) {
	room := c.Param("roomName")
	var req takeoverRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "active (bool) required"})
		return
	}

	out, err := h.Takeover.Set(c.Request.Context(), room, *req.Active)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Audit.LogTakeover(c.Request.Context(), actor(c), room, *req.Active, out); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
	c.JSON(http.StatusOK, out)
}

type reapRequest struct {
	RoomName string `json:"roomName"`
}

// Reap runs a reap pass now, over every room or the one named in the body.
func (h Handlers) Reap(c *gin.Context) {
	var req reapRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	ctx := c.Request.Context()

	var body any
	if req.RoomName != "" {
		o, err := h.Reaper.ReapRoom(ctx, req.RoomName)
		if err != nil {
			writeError(c, err)
			return
		}
		body = gin.H{"roomName": req.RoomName, "outcome": o}
	} else {
		rep, err := h.Reaper.ReapDeadRooms(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		body = rep
	}

	if err := h.Audit.LogManualReap(ctx, actor(c), req.RoomName, body); err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
	c.JSON(http.StatusOK, body)
}

// Events upgrades to a websocket streaming lifecycle events, optionally
// filtered to ?room=.
func (h Handlers) Events(c *gin.Context) {
	h.Hub.Serve(c.Writer, c.Request, actor(c), c.Query("room"))
}
