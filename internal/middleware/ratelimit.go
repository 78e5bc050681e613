package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/drivertest-bot/internal/config"
	"github.com/stemsi/drivertest-bot/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter kept in Redis, so the count
// survives restarts and is shared between replicas.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	log    zerolog.Logger
}

// NewRateLimiter allows limit requests per window (e.g., 10 per minute).
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		log:    log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
// Redis errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := config.CacheKey.LoginAttemptsKey(c.ClientIP())

		count, err := rl.rdb.Incr(ctx, key).Result()
		if err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}
		if count == 1 {
			// First hit opens the window.
			if err := rl.rdb.Expire(ctx, key, rl.window).Err(); err != nil {
				rl.log.Warn().Err(err).Msg("Failed to set rate limit window")
			}
		}

		if count > rl.limit {
			if ttl, err := rl.rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second)/time.Second)))
			}
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
