package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/currency/internal/identity"
	"github.com/congo-pay/currency/internal/ledger"
)

// RegisterIdentityRoutes wires identity endpoints.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
	// Plain authenticate (no tokens) remains for compatibility
	r.Post("/identity/authenticate", h.Authenticate)
}

// RegisterMeRoute exposes the caller's profile together with their balance.
func RegisterMeRoute(r fiber.Router, ids *identity.Service, l *ledger.Ledger) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid, _ := c.Locals("user_id").(string)
		if uid == "" {
			return c.SendStatus(http.StatusUnauthorized)
		}
		user, err := ids.Get(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "user not found")
		}
		balance, exists, err := l.Balance(c.UserContext(), ledger.AccountID(user.ID))
		if err != nil {
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{
			"user_id":       user.ID,
			"account_id":    user.ID,
			"phone":         user.Phone,
			"tier":          user.Tier,
			"device_id":     user.DeviceID,
			"token_version": user.TokenVersion,
			"created_at":    user.CreatedAt,
			"balance":       balance.String(),
			"exists":        exists,
		})
	})
}
