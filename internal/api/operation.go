package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sellerwatch/crawl-cloud/internal/domain/operation"
)

type operationResponse struct {
	ID          int64      `json:"id,string"`
	OpID        string     `json:"op_id,omitempty"`
	IdemKey     string     `json:"idem_key"`
	State       string     `json:"state"`
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toOperationResponse(op *operation.Operation) operationResponse {
	return operationResponse{
		ID:          op.ID,
		OpID:        op.OpID,
		IdemKey:     op.IdemKey,
		State:       string(op.State),
		RetryCount:  op.RetryCount,
		LastError:   op.LastError,
		CreatedAt:   op.CreatedAt,
		CompletedAt: op.CompletedAt,
	}
}

func (r *Router) GetOperation(c *gin.Context) {
	opID := c.Param("op_id")
	op, err := r.svc.StatusByOpID(c.Request.Context(), opID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	c.JSON(http.StatusOK, toOperationResponse(op))
}

func (r *Router) GetOperationByKey(c *gin.Context) {
	key := c.Query("idem_key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idem_key is required"})
		return
	}

	op, err := r.svc.StatusByIdemKey(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	c.JSON(http.StatusOK, toOperationResponse(op))
}
