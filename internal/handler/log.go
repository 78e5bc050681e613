package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/response"
)

// requestLog tags a handler logger with the request ID.
func requestLog(c *gin.Context, base zerolog.Logger) *zerolog.Logger {
	l := base.With().Str(response.ContextKeyRequestID, response.RequestID(c)).Logger()
	return &l
}
