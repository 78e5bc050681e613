package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/drivertest-bot/internal/response"
	"github.com/stemsi/drivertest-bot/internal/service"
)

// ContextKeyClaims is the Gin context key for JWT claims.
const ContextKeyClaims = "claims"

// RequireAdminJWT validates an admin JWT from the Authorization header.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		authorize(c, authService, tokenStr)
	}
}

// RequireAdminWSAuth validates an admin JWT from ?token=, for WebSocket
// upgrades which cannot carry headers from a browser.
func RequireAdminWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		authorize(c, authService, tokenStr)
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func authorize(c *gin.Context, authService *service.AuthService, tokenStr string) {
	claims, err := authService.ValidateToken(tokenStr)
	if err != nil {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}
	if claims.TokenType != service.TokenTypeAdmin {
		response.AbortFail(c, http.StatusForbidden, response.ErrAdminAccessOnly)
		return
	}
	if err := authService.CheckNotRevoked(c.Request.Context(), claims); err != nil {
		if errors.Is(err, service.ErrTokenRevoked) {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRevoked)
			return
		}
		response.AbortFail(c, http.StatusServiceUnavailable, response.ErrUpstreamUnavailable)
		return
	}

	c.Set(ContextKeyClaims, claims)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
