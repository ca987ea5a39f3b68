package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints. Only the
// backing services that were configured are probed.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		probe := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		if d.DB != nil {
			probe("postgres", d.DB.Ping)
		}
		if d.Cache != nil {
			probe("redis", func(ctx context.Context) error { return d.Cache.Ping(ctx).Err() })
		}
		if d.SQLite != nil {
			probe("sqlite", d.SQLite.PingContext)
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":         checks,
			"ledger_backend": d.Cfg.LedgerBackend,
			"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
