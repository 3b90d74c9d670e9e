package handlers

import (
	"io"
	"net/http"
	"time"

	"kiosk-service/internal/broadcast"
	"kiosk-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LiveHandler struct {
	bc        *broadcast.Broadcaster
	state     *broadcast.StateCache
	queueSize int
	heartbeat time.Duration
	log       *zap.Logger
}

func NewLiveHandler(bc *broadcast.Broadcaster, state *broadcast.StateCache, queueSize int, heartbeat time.Duration, log *zap.Logger) *LiveHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &LiveHandler{bc: bc, state: state, queueSize: queueSize, heartbeat: heartbeat, log: log}
}

// Stream is the SSE push channel. The first event is always inventory:init.
func (h *LiveHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	admin, err := service.RequireAdmin(ctx)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	q := broadcast.NewQueue(h.queueSize)
	id, err := h.bc.Register(ctx, q, admin)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	defer h.bc.Remove(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-q.C():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev.Data)
			return len(c.Errors) == 0
		case <-ticker.C:
			_, err := io.WriteString(w, ": heartbeat\n\n")
			return err == nil
		case <-ctx.Done():
			return false
		}
	})
}

// Status is the polling fallback. It answers 304 when If-None-Match matches the current fingerprint.
func (h *LiveHandler) Status(c *gin.Context) {
	p, err := h.state.Current(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Header("ETag", p.ETag)
	c.Header("Cache-Control", "no-cache")
	if match := c.GetHeader("If-None-Match"); match != "" && match == p.ETag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", p.Body)
}
