package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/sellerwatch/crawl-cloud/pkg/telemetry/correlation"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation id, honoring one supplied by
// the caller, and echoes it back in the response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = correlation.NewID()
		}

		c.Set("request_id", id)
		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), id))
		c.Writer.Header().Set(requestIDHeader, id)

		c.Next()
	}
}
