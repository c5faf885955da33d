package webhook

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"carecall-rtc/internal/identity"
	"carecall-rtc/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lkwebhook "github.com/livekit/protocol/webhook"
	"google.golang.org/protobuf/encoding/protojson"
)

const maxBody = 1 << 20

var decoder = protojson.UnmarshalOptions{DiscardUnknown: true}

// Handler serves POST /webhook/livekit.
type Handler struct {
	proc *Processor
	keys auth.KeyProvider
	log  *slog.Logger
}

// NewHandler verifies signatures with keys. A nil key provider accepts
// unsigned bodies; config refuses that in production.
func NewHandler(proc *Processor, keys auth.KeyProvider, log *slog.Logger) *Handler {
	return &Handler{proc: proc, keys: keys, log: log}
}

func (h *Handler) Receive(c *gin.Context) {
	l := logger.FromOr(c.Request.Context(), h.log)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var body []byte
	var err error
	if h.keys != nil {
		body, err = lkwebhook.Receive(c.Request, h.keys)
		if err != nil {
			l.Warn("webhook signature rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
			return
		}
	} else {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
	}

	body = bytes.TrimSpace(body)
	ev := &livekit.WebhookEvent{}
	if len(body) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty webhook payload"})
		return
	}
	if err := decoder.Unmarshal(body, ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed webhook payload"})
		return
	}
	if ev.GetEvent() == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "event is required"})
		return
	}

	h.proc.Process(c.Request.Context(), FromLiveKit(ev))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// FromLiveKit maps the wire envelope to a Notification and classifies the participant.
func FromLiveKit(ev *livekit.WebhookEvent) Notification {
	n := Notification{
		ID:       ev.GetId(),
		Kind:     ev.GetEvent(),
		RoomName: ev.GetRoom().GetName(),
		Identity: ev.GetParticipant().GetIdentity(),
	}
	n.Role = identity.Classify(n.Identity)
	if tr := ev.GetTrack(); tr != nil {
		n.TrackKind = strings.ToLower(tr.GetType().String())
	}
	if ev.GetCreatedAt() > 0 {
		n.At = time.Unix(ev.GetCreatedAt(), 0).UTC()
	}
	return n
}
