// Package middleware holds the Fiber middleware chain fronting both the
// admin API and the two webhook sinks: request ID tagging, structured
// request logging, admin-session authentication and Redis-backed rate
// limiting. Every protected route is gated by the admin JWT session
// issued by internal/adminauth, since every route this service fronts is
// either the admin dashboard or an unauthenticated webhook sink (bot
// updates arrive on the /telegram/:token sink, whose token segment is the
// secret, and are handed to botconv.Router).
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dropbot/backend/internal/adminauth"
	"github.com/dropbot/backend/pkg/errors"
	"github.com/dropbot/backend/pkg/logger"
)

const claimsLocalsKey = "admin_claims"

// AdminAuthConfig holds admin-session middleware configuration.
type AdminAuthConfig struct {
	Auth   *adminauth.Service
	Logger *logger.Logger
}

// AdminAuth validates the bearer JWT issued by POST /admin/v1/auth/login
// and stores its claims in Locals for downstream handlers.
func AdminAuth(cfg AdminAuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			return sendError(c, errors.ErrUnauthorized.WithMessage("missing bearer token"))
		}

		claims, err := cfg.Auth.ValidateToken(token)
		if err != nil {
			if cfg.Logger != nil {
				cfg.Logger.Warn("admin auth rejected", "path", c.Path(), "error", err.Error())
			}
			return sendError(c, err)
		}

		c.Locals(claimsLocalsKey, claims)
		return c.Next()
	}
}

// RequirePrimary rejects any admin session that isn't a primary
// administrator — used for the routes that mutate discount codes,
// reseller rules and manual recovery, which are reserved to primary
// admins (secondary admins get read/broadcast-only authority).
func RequirePrimary() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := AdminClaims(c)
		if claims == nil || !claims.Primary {
			return sendError(c, errors.ErrForbidden.WithMessage("primary administrator required"))
		}
		return c.Next()
	}
}

// AdminClaims retrieves the validated admin session claims from context,
// or nil if AdminAuth hasn't run (or rejected the request).
func AdminClaims(c *fiber.Ctx) *adminauth.Claims {
	claims, ok := c.Locals(claimsLocalsKey).(*adminauth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// sendError sends an error response in the same shape handlers.sendError
// uses, duplicated here (rather than imported) to avoid a middleware ->
// handlers import cycle.
func sendError(c *fiber.Ctx, err error) error {
	statusCode := errors.GetStatusCode(err)
	return c.Status(statusCode).JSON(fiber.Map{
		"error": err.Error(),
	})
}
