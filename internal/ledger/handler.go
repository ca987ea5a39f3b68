package ledger

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	ledger *Ledger
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

type amountRequest struct {
	Dest   string `json:"dest"`
	Amount string `json:"amount"`
}

// Mint credits the requested amount to dest on behalf of the bearer.
func (h *Handler) Mint(c *fiber.Ctx) error {
	dest, amount, err := parseAmountRequest(c)
	if err != nil {
		return err
	}
	if err := h.ledger.Mint(c.UserContext(), originFromRequest(c), dest, amount); err != nil {
		return errorResponse(err)
	}
	return h.writeBalance(c, dest)
}

// Transfer moves the requested amount from the bearer to dest.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	dest, amount, err := parseAmountRequest(c)
	if err != nil {
		return err
	}
	if err := h.ledger.Transfer(c.UserContext(), originFromRequest(c), dest, amount); err != nil {
		return errorResponse(err)
	}
	return h.writeBalance(c, dest)
}

// Balance returns the stored balance for an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	account := strings.TrimSpace(c.Params("account"))
	if account == "" {
		return fiber.NewError(http.StatusBadRequest, "account is required")
	}
	return h.writeBalance(c.Status(http.StatusOK), AccountID(account))
}

// TotalIssuance returns the issuance counter and the configured existential deposit.
func (h *Handler) TotalIssuance(c *fiber.Ctx) error {
	total, err := h.ledger.TotalIssuance(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"total_issuance":      total.String(),
		"existential_deposit": h.ledger.ExistentialDeposit().String(),
		"timestamp":           time.Now().UTC(),
	})
}

// Audit reports whether the stored balances add up to total issuance.
func (h *Handler) Audit(c *fiber.Ctx) error {
	report, err := h.ledger.Audit(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if !report.Balanced {
		status = http.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"accounts":       report.Accounts,
		"sum":            report.Sum.String(),
		"sum_overflowed": report.SumOverflowed,
		"total_issuance": report.TotalIssuance.String(),
		"balanced":       report.Balanced,
	})
}

func (h *Handler) writeBalance(c *fiber.Ctx, account AccountID) error {
	balance, exists, err := h.ledger.Balance(c.UserContext(), account)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"account": account,
		"balance": balance.String(),
		"exists":  exists,
	})
}

func parseAmountRequest(c *fiber.Ctx) (AccountID, Balance, error) {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return "", Balance{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	dest := strings.TrimSpace(req.Dest)
	if dest == "" {
		return "", Balance{}, fiber.NewError(http.StatusBadRequest, "dest is required")
	}
	amount, err := ParseBalance(req.Amount)
	if err != nil {
		return "", Balance{}, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return AccountID(dest), amount, nil
}

func originFromRequest(c *fiber.Ctx) Origin {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return NoOrigin{}
	}
	return BearerOrigin(strings.TrimSpace(authz[len("Bearer "):]))
}

func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNonExistentAccount):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrOverflow):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
