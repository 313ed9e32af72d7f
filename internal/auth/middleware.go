package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"entityflow/internal/engine"
	"entityflow/internal/metadata"
)

const actorKey = "actor"

// Middleware returns a Fiber middleware that validates bearer tokens and
// stores the resulting actor on the request. Without a token the request
// continues anonymously unless required is set.
func Middleware(secret string, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			if required {
				return engine.UnauthorizedError("Missing auth token")
			}
			return c.Next()
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseToken(parts[1], secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		c.Locals(actorKey, claims.Actor(c.IP()))
		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that checks the authenticated actor has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFrom(c)
		if actor == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !actor.IsAdmin() {
			return engine.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}

// ActorFrom returns the request's actor, or nil when anonymous.
func ActorFrom(c *fiber.Ctx) *metadata.Actor {
	actor, _ := c.Locals(actorKey).(*metadata.Actor)
	return actor
}
