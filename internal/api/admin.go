package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Admin sweep triggers run one pass of a recovery loop on demand, on top of
// the periodic background schedules. Useful after an incident.

func (r *Router) SweepFinalizer(c *gin.Context) {
	n, err := r.finalizer.Sweep(c.Request.Context(), r.cfg.FinalizerBatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": n})
}

func (r *Router) SweepReaper(c *gin.Context) {
	n, err := r.reaper.Sweep(c.Request.Context(), r.cfg.ReaperTimeout, r.cfg.ReaperBatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": n})
}

func (r *Router) SweepRetention(c *gin.Context) {
	n, err := r.retention.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
