package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/currency/internal/config"
	"github.com/congo-pay/currency/internal/routes"
)

func TestNewServesPing(t *testing.T) {
	cfg := config.Config{
		AppName:            "test",
		AppEnv:             "test",
		Port:               "0",
		LedgerBackend:      config.BackendMemory,
		ExistentialDeposit: "5",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
	}
	srv, err := New(routes.Deps{Cfg: cfg})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/ping", nil))
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
