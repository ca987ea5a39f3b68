package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LedgerBackend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.LedgerBackend)
	}
	if cfg.ExistentialDeposit != "5" {
		t.Fatalf("expected existential deposit 5, got %q", cfg.ExistentialDeposit)
	}
	if cfg.ShutdownPeriod != 10*time.Second {
		t.Fatalf("expected 10s shutdown, got %s", cfg.ShutdownPeriod)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRequiresBackendURL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_BACKEND", "Postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL error")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LedgerBackend != BackendPostgres {
		t.Fatalf("expected postgres backend, got %q", cfg.LedgerBackend)
	}
}

func TestLoadRequiresSecretsOutsideDev(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REFRESH_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing secrets error")
	}

	t.Setenv("JWT_SECRET", "a")
	t.Setenv("REFRESH_SECRET", "b")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadRequiresDatabaseOutsideDevForAnyBackend(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "a")
	t.Setenv("REFRESH_SECRET", "b")
	t.Setenv("DATABASE_URL", "")

	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "ledger.db")
	if _, err := Load(); err == nil {
		t.Fatalf("sqlite backend: expected missing DATABASE_URL error")
	}

	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	if _, err := Load(); err == nil {
		t.Fatalf("redis backend: expected missing DATABASE_URL error")
	}

	t.Setenv("APP_ENV", "development")
	if _, err := Load(); err != nil {
		t.Fatalf("development should not need a database: %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_BACKEND", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid backend error")
	}
}

func TestLoadRejectsInvalidExistentialDeposit(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("EXISTENTIAL_DEPOSIT", "-1")
	if _, err := Load(); err == nil {
		t.Fatalf("expected negative existential deposit to be rejected")
	}
}
