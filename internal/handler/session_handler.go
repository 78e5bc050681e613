package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/middleware"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/response"
	"github.com/stemsi/drivertest-bot/internal/service"
)

const resetTimeout = 10 * time.Second

// SessionAdmin inspects and discards running tests.
type SessionAdmin interface {
	ActiveSession(ctx context.Context, telegramID int64) (*model.Session, time.Duration, error)
	Reset(ctx context.Context, telegramID int64) error
}

// SessionHandler lets the operator look at or reset a user's test.
type SessionHandler struct {
	sessions SessionAdmin
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionAdmin, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/admin/sessions/:telegram_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := telegramIDParam(c)
	if !ok {
		return
	}

	s, ttl, err := h.sessions.ActiveSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, id, err)
		return
	}
	response.Success(c, http.StatusOK, model.ActiveSessionView{
		Session:    s,
		TTLSeconds: int64(ttl / time.Second),
	})
}

// ResetSession godoc
// DELETE /api/v1/admin/sessions/:telegram_id
// Discards the running test without recording a result.
func (h *SessionHandler) ResetSession(c *gin.Context) {
	id, ok := telegramIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), resetTimeout)
	defer cancel()

	if err := h.sessions.Reset(ctx, id); err != nil {
		h.fail(c, id, err)
		return
	}

	operator := ""
	if claims := middleware.GetClaims(c); claims != nil {
		operator = claims.Username
	}
	requestLog(c, h.log).Warn().Int64("telegram_id", id).Str("operator", operator).Msg("Session reset via admin API")
	response.Success(c, http.StatusOK, gin.H{"telegram_id": id})
}

func (h *SessionHandler) fail(c *gin.Context, id int64, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		requestLog(c, h.log).Error().Int64("telegram_id", id).Msg("Session operation timed out")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUpstreamUnavailable)
	default:
		requestLog(c, h.log).Error().Err(err).Int64("telegram_id", id).Msg("Session operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func telegramIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
