package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/currency/internal/ledger"
)

// RegisterLedgerRoutes wires the balance ledger endpoints. Mint and transfer
// authenticate the raw bearer token themselves through the ledger.
func RegisterLedgerRoutes(r fiber.Router, h *ledger.Handler) {
	group := r.Group("/ledger")
	group.Post("/mint", h.Mint)
	group.Post("/transfer", h.Transfer)
	group.Get("/balances/:account", h.Balance)
	group.Get("/issuance", h.TotalIssuance)
	group.Get("/audit", h.Audit)
}
