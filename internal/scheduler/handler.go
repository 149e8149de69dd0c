package scheduler

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/valeevte/PricePulse/internal/reconcile"
	"github.com/valeevte/PricePulse/internal/snapshot"
)

// maxSnapshotBody caps a posted snapshot.
const maxSnapshotBody = 32 << 20

type Handler struct {
	sched *Scheduler
}

func NewHandler(s *Scheduler) *Handler {
	return &Handler{sched: s}
}

func (h *Handler) Register(api gin.IRouter) {
	api.POST("/runs", h.TriggerRun)
	api.GET("/runs/last", h.LastRun)
}

// TriggerRun reconciles the JSON array in the request body. An empty body
// runs the configured snapshot source instead.
func (h *Handler) TriggerRun(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSnapshotBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(body) > maxSnapshotBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "snapshot too large"})
		return
	}

	ctx := c.Request.Context()
	var summary reconcile.Summary
	if len(bytes.TrimSpace(body)) == 0 {
		summary, err = h.sched.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, snapshot.ErrNoSnapshot) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot available"})
				return
			}
			h.sched.log.WithError(err).Error("TriggerRun: load snapshot")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
			return
		}
	} else {
		snap, err := snapshot.Decode(bytes.NewReader(body))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot"})
			return
		}
		summary = h.sched.Reconcile(ctx, snap)
	}

	status := http.StatusOK
	if summary.Status == reconcile.RunFatal {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, summary)
}

func (h *Handler) LastRun(c *gin.Context) {
	summary, ok := h.sched.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
