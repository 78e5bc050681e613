package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

const maxRequestIDLen = 64

// RequestIDMiddleware tags every request with an ID, echoes it in the
// X-Request-ID header and puts a logger carrying it on the request context.
// A client-supplied ID is kept when it is short printable ASCII.
func RequestIDMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if !validRequestID(reqID) {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)

		reqLog := log.With().Str(ContextKeyRequestID, reqID).Logger()
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := reqLog.Debug()
		if status >= 500 {
			ev = reqLog.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("Request served")
	}
}

// RequestID returns the ID assigned by RequestIDMiddleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
