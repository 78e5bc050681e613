package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/middleware"
	"github.com/stemsi/drivertest-bot/internal/model"
	"github.com/stemsi/drivertest-bot/internal/response"
	"github.com/stemsi/drivertest-bot/internal/service"
	"github.com/stemsi/drivertest-bot/internal/validator"
)

// AuthHandler handles operator authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Validates username + password, returns JWT.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, expires, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			requestLog(c, h.log).Warn().Str("username", req.Username).Str("ip", c.ClientIP()).Msg("Failed admin login")
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		requestLog(c, h.log).Error().Err(err).Msg("Failed to issue admin token")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, model.AdminLoginResponse{
		Token:     token,
		Username:  req.Username,
		ExpiresAt: expires,
	})
}

// AdminLogout godoc
// POST /api/v1/auth/admin/logout
// Revokes the presented token.
func (h *AuthHandler) AdminLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.Revoke(c.Request.Context(), claims); err != nil {
		requestLog(c, h.log).Error().Err(err).Msg("Failed to revoke token")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrUpstreamUnavailable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GetAdminProfile godoc
// GET /api/v1/auth/admin/me
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var expires any
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	response.Success(c, http.StatusOK, gin.H{
		"admin": gin.H{
			"username":   claims.Username,
			"expires_at": expires,
		},
	})
}
