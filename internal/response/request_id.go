package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key holding the request ID.
const ContextKeyRequestID = "request_id"

// requestIDHeader lets an upstream proxy or the exam client pin its own
// correlation ID onto the whole request chain.
const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags every request with an ID and echoes it back,
// so a support report from a student can be matched to server logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
