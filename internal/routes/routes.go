package routes

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/currency/internal/auth"
	"github.com/congo-pay/currency/internal/config"
	"github.com/congo-pay/currency/internal/identity"
	"github.com/congo-pay/currency/internal/ledger"
	"github.com/congo-pay/currency/internal/logging"
	"github.com/congo-pay/currency/internal/metrics"
	"github.com/congo-pay/currency/internal/middleware"
	"github.com/congo-pay/currency/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes. DB, Cache and
// SQLite are optional; which ones are needed depends on the configured
// ledger backend.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	SQLite   *sql.DB
	Logger   *slog.Logger
	Registry *prometheus.Registry
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use("/api/v1/ledger", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health and metrics
	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	// Services and handlers
	var identityRepo identity.Repository
	if d.DB != nil {
		repo := identity.NewPostgresRepository(d.DB)
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate identity: %w", err)
		}
		identityRepo = repo
	} else {
		identityRepo = identity.NewMemoryRepository()
	}
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identityRepo)

	store, err := newLedgerStore(ctx, d)
	if err != nil {
		return err
	}
	existentialDeposit, err := ledger.ParseBalance(d.Cfg.ExistentialDeposit)
	if err != nil {
		return fmt.Errorf("EXISTENTIAL_DEPOSIT: %w", err)
	}
	recorder, err := metrics.NewLedger(d.Registry)
	if err != nil {
		return fmt.Errorf("register ledger metrics: %w", err)
	}
	ledgerSvc := ledger.New(store, authSvc, ledger.Config{ExistentialDeposit: existentialDeposit},
		ledger.WithLogger(d.Logger),
		ledger.WithRecorder(recorder),
		ledger.WithNotifier(notification.NewLoggerNotifier(d.Logger)),
	)
	d.Logger.Info("ledger ready",
		slog.String("backend", d.Cfg.LedgerBackend),
		slog.String("existential_deposit", existentialDeposit.String()),
	)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc, d.Logger))
	bearer := middleware.BearerAuth(authSvc)
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, authSvc), middleware.LoginRateLimit(d.Cache, d.Cfg.LoginAttemptsMin), bearer)
	RegisterLedgerRoutes(api, ledger.NewHandler(ledgerSvc))

	// Protected routes
	protected := api.Group("", bearer)
	RegisterMeRoute(protected, identitySvc, ledgerSvc)

	return nil
}

// newLedgerStore opens the balance store selected by LEDGER_BACKEND.
func newLedgerStore(ctx context.Context, d Deps) (ledger.Store, error) {
	switch d.Cfg.LedgerBackend {
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("ledger backend %s requires a database", d.Cfg.LedgerBackend)
		}
		store := ledger.NewPostgresStore(d.DB)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("ledger backend %s requires redis", d.Cfg.LedgerBackend)
		}
		return ledger.NewRedisStore(d.Cache, ""), nil
	case config.BackendSQLite:
		if d.SQLite == nil {
			return nil, fmt.Errorf("ledger backend %s requires an sqlite handle", d.Cfg.LedgerBackend)
		}
		store, err := ledger.NewSQLiteStore(ctx, d.SQLite)
		if err != nil {
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
		return store, nil
	case config.BackendMemory, "":
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", d.Cfg.LedgerBackend)
	}
}
