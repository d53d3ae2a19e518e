package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
	"github.com/sellerwatch/crawl-cloud/pkg/telemetry/correlation"
)

type scheduleRequest struct {
	Cadence string `json:"cadence" binding:"required"`
}

func (r *Router) CreateSchedule(c *gin.Context) {
	sellerID, ok := r.sellerID(c)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	r.submit(c, idemKey(c, "create", sellerID), operation.CreateScheduleCommand{
		SellerID: sellerID,
		Cadence:  req.Cadence,
	})
}

func (r *Router) UpdateSchedule(c *gin.Context) {
	sellerID, ok := r.sellerID(c)
	if !ok {
		return
	}

	var req struct {
		Cadence string `json:"cadence" binding:"required"`
		Enabled *bool  `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	r.submit(c, idemKey(c, "update", sellerID), operation.UpdateScheduleCommand{
		SellerID: sellerID,
		Cadence:  req.Cadence,
		Enabled:  enabled,
	})
}

func (r *Router) DisableSchedule(c *gin.Context) {
	sellerID, ok := r.sellerID(c)
	if !ok {
		return
	}

	r.submit(c, idemKey(c, "disable", sellerID), operation.DisableScheduleCommand{
		SellerID: sellerID,
	})
}

func (r *Router) GetSchedule(c *gin.Context) {
	sellerID, ok := r.sellerID(c)
	if !ok {
		return
	}

	sched, err := r.schedules.FindBySellerID(c.Request.Context(), sellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	c.JSON(http.StatusOK, sched)
}

// submit runs the command through the idempotency guard and reports the
// operation. A resubmitted key answers 200 with the existing operation; a
// fresh one answers 202 since execution is asynchronous.
func (r *Router) submit(c *gin.Context, key string, cmd operation.Command) {
	op, err := r.svc.Submit(c.Request.Context(), key, cmd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusAccepted
	if op.Terminal() {
		status = http.StatusOK
	}
	c.JSON(status, toOperationResponse(op))
}

func (r *Router) sellerID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("seller_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id"})
		return 0, false
	}
	return id, true
}

// idemKey prefers the caller's Idempotency-Key header. Without one each
// request is its own logical operation, so a unique key is generated.
func idemKey(c *gin.Context, action string, sellerID int64) string {
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		return key
	}
	return fmt.Sprintf("%s-seller-%d-%s", action, sellerID, correlation.NewID())
}
