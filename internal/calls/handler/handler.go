// Package handler exposes the telephony webhook and call status HTTP
// endpoints.
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"phoneagent_backend/internal/calls"
	"phoneagent_backend/platform/httpkit"
	"phoneagent_backend/platform/logger"
)

// Tracker is the call-tracking surface the handler feeds.
type Tracker interface {
	Dispatch(ctx context.Context, ev calls.Event)
	Snapshot() []calls.ActiveCall
}

const intakeBufferSize = 256

type Handler struct {
	tracker       Tracker
	secret        string
	verifySig     bool
	voiceCacheDir string
	intake        chan calls.Event
	log           *logger.Logger
}

func New(tracker Tracker, secret string, verifySig bool, voiceCacheDir string, log *logger.Logger) *Handler {
	h := &Handler{
		tracker:       tracker,
		secret:        secret,
		verifySig:     verifySig,
		voiceCacheDir: voiceCacheDir,
		intake:        make(chan calls.Event, intakeBufferSize),
		log:           log,
	}
	go h.drainIntake()
	return h
}

// drainIntake feeds webhook events to the tracker one at a time, so
// events delivered in sequence reach the per-call queues in arrival
// order. Dispatch itself never blocks on conversation work.
func (h *Handler) drainIntake() {
	ctx := context.Background()
	for ev := range h.intake {
		h.tracker.Dispatch(ctx, ev)
	}
}

// RegisterRoutes mounts the telephony endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/telephony/events", h.verifyEndpoint)
	r.POST("/api/v1/telephony/events", h.handleEvent)
	r.GET("/api/v1/calls/status", h.callStatus)
	r.GET("/audio/:filename", h.serveAudio)
}

// verifyEndpoint answers the gateway's ownership probe: a GET with
// zd_echo must be echoed back verbatim.
func (h *Handler) verifyEndpoint(c *gin.Context) {
	if echo := c.Query("zd_echo"); echo != "" {
		c.String(http.StatusOK, echo)
		return
	}
	c.String(http.StatusOK, "OK")
}

// handleEvent accepts a gateway webhook. The gateway retries on slow
// responses, so the 200 goes out before any processing happens.
func (h *Handler) handleEvent(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "OK")
		return
	}
	form := c.Request.PostForm

	if h.verifySig && !h.signatureValid(c.GetHeader("Signature"), form) {
		h.log.Warn("rejecting webhook with bad signature", "event", form.Get("event"))
		httpkit.Error(c, http.StatusForbidden, "invalid signature", nil)
		return
	}

	c.String(http.StatusOK, "OK")

	ev := calls.ParseWebhook(form)
	if ev == nil {
		h.log.Debug("ignoring untracked webhook event", "event", form.Get("event"))
		return
	}

	// The response is already sent; the intake queue decouples
	// processing from the connection while preserving arrival order.
	h.intake <- ev
}

// signatureValid checks the gateway's HMAC-SHA1 signature over
// caller_id + callee_id + call_start.
func (h *Handler) signatureValid(signature string, form map[string][]string) bool {
	if signature == "" {
		return false
	}
	get := func(key string) string {
		if vals := form[key]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	payload := get("caller_id") + firstOf(get("callee_id"), get("called_did")) + get("call_start")

	mac := hmac.New(sha1.New, []byte(h.secret))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) callStatus(c *gin.Context) {
	active := h.tracker.Snapshot()
	httpkit.JSON(c, http.StatusOK, gin.H{
		"active": len(active),
		"calls":  active,
	})
}

// serveAudio hands synthesized speech files to the gateway for
// playback. Only bare filenames inside the voice cache are served.
func (h *Handler) serveAudio(c *gin.Context) {
	filename := c.Param("filename")
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		httpkit.Error(c, http.StatusBadRequest, "invalid filename", nil)
		return
	}
	if !strings.HasSuffix(filename, ".mp3") {
		httpkit.Error(c, http.StatusNotFound, "audio not found", nil)
		return
	}
	c.File(filepath.Join(h.voiceCacheDir, filename))
}
