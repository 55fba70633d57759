package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/redisclient"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Limiter       *redisclient.RateLimiter
	MaxRequests   int64
	WindowSeconds int64
	KeyPrefix     string
}

// RateLimit creates Redis-backed sliding-window rate limiting middleware,
// keyed by admin session when present (webhook/telegram sinks aren't
// behind AdminAuth, so they fall back to IP).
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	window := time.Duration(cfg.WindowSeconds) * time.Second

	return func(c *fiber.Ctx) error {
		var identifier string
		if claims := AdminClaims(c); claims != nil {
			identifier = fmt.Sprintf("admin:%d", claims.TelegramID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.IP())
		}

		key := fmt.Sprintf("%s:%s", cfg.KeyPrefix, identifier)

		allowed, remaining, resetAt, err := cfg.Limiter.Allow(c.Context(), key, cfg.MaxRequests, window)
		if err != nil {
			// Redis unavailable: fail open rather than block the admin API.
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.FormatInt(cfg.MaxRequests, 10))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt/1000, 10))

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       errors.ErrTooManyRequests.Error(),
				"retry_after": cfg.WindowSeconds,
			})
		}

		return c.Next()
	}
}
