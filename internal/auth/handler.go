package auth

import (
	"github.com/gofiber/fiber/v2"
)

// Handler serves the token endpoints clients need before writing.
type Handler struct {
	csrf *CSRF
}

func NewHandler(csrf *CSRF) *Handler {
	return &Handler{csrf: csrf}
}

// CSRFToken handles GET /api/_auth/csrf.
func (h *Handler) CSRFToken(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": fiber.Map{"csrf_token": h.csrf.Token(ActorFrom(c))}})
}

// Me handles GET /api/_auth/me.
func (h *Handler) Me(c *fiber.Ctx) error {
	actor := ActorFrom(c)
	if actor == nil {
		return c.JSON(fiber.Map{"data": nil})
	}
	return c.JSON(fiber.Map{"data": actor})
}

// RegisterRoutes registers auth routes behind the actor middleware.
func RegisterRoutes(app *fiber.App, h *Handler, actorMW fiber.Handler) {
	g := app.Group("/api/_auth", actorMW)
	g.Get("/csrf", h.CSRFToken)
	g.Get("/me", h.Me)
}
