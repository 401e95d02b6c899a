package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"clinichub-backend/pkg/response"
)

// RateLimiter implements Redis-backed fixed-window rate limiting.
// Mounted after AuthMiddleware it keys per authenticated user; on a
// route without auth it falls back to the client IP.
type RateLimiter struct {
	redisClient *redis.Client
	requests    int
	window      time.Duration
}

// NewRateLimiter creates a rate limiter allowing requests per window.
func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
	}
}

// Middleware returns the Gin handler. Fails open when Redis is
// unavailable; rate limiting protects capacity, it never gates
// correctness.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, resetAt, err := rl.hit(c.Request.Context(), rateLimitIdentifier(c))
		if err != nil {
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if count > rl.requests {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// rateLimitIdentifier keys the window by the verified principal when
// AuthMiddleware ran earlier in the chain, by client IP otherwise.
func rateLimitIdentifier(c *gin.Context) string {
	if userID := c.GetString("user_id"); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// hit counts one request in the identifier's current window and returns
// the new count plus the window reset timestamp.
func (rl *RateLimiter) hit(ctx context.Context, identifier string) (int, int64, error) {
	key := fmt.Sprintf("ratelimit:%s", identifier)

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	// First hit opens the window.
	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, rl.window).Err(); err != nil {
			return 0, 0, err
		}
	}

	ttl, err := rl.redisClient.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}

	return int(count), time.Now().Add(ttl).Unix(), nil
}
