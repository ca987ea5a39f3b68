package identity

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type registerRequest struct {
	Phone    string `json:"phone"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

type userResponse struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	Tier      string `json:"tier"`
	DeviceID  string `json:"device_id"`
}

func toResponse(user User) userResponse {
	return userResponse{UserID: user.ID, AccountID: user.ID, Phone: user.Phone, Tier: user.Tier, DeviceID: user.DeviceID}
}

// Register handles account holder onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if h.logger != nil {
		h.logger.Info("identity.register completed", slog.String("user_id", user.ID))
	}
	return c.Status(http.StatusCreated).JSON(toResponse(user))
}

// Authenticate verifies login credentials without issuing tokens.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Authenticate(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(user))
}
