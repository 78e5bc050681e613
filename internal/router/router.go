package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/handler"
	"github.com/stemsi/drivertest-bot/internal/middleware"
	"github.com/stemsi/drivertest-bot/internal/response"
	"github.com/stemsi/drivertest-bot/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Results  *handler.ResultHandler
	Sessions *handler.SessionHandler
	Monitor  *handler.MonitorHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// A nil loginLimiter leaves the login route unthrottled.
func SetupRouter(
	authService *service.AuthService,
	loginLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log.With().Str("component", "http").Logger()))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)
	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(middleware.NoStore())
	{
		login := []gin.HandlerFunc{handlers.Auth.AdminLogin}
		if loginLimiter != nil {
			login = append([]gin.HandlerFunc{loginLimiter.Middleware()}, login...)
		}
		auth.POST("/admin/login", login...)
		auth.POST("/admin/logout", middleware.RequireAdminJWT(authService), handlers.Auth.AdminLogout)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.NoStore(), middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/results", handlers.Results.ListResults)
		adminAPI.GET("/stats/campaigns", handlers.Results.CampaignStats)

		adminAPI.GET("/sessions/:telegram_id", handlers.Sessions.GetSession)
		adminAPI.DELETE("/sessions/:telegram_id", handlers.Sessions.ResetSession)

		adminAPI.GET("/system", handlers.System.Status)
	}

	// ─── 3. WebSocket Group (query-token auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/monitor", handlers.Monitor.MonitorStream)
	}

	return router
}
