package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_balances (
    account_id TEXT PRIMARY KEY,
    amount     NUMERIC(39, 0) NOT NULL CHECK (amount >= 0)
);
CREATE TABLE IF NOT EXISTS ledger_total_issuance (
    id     SMALLINT PRIMARY KEY CHECK (id = 1),
    amount NUMERIC(39, 0) CHECK (amount >= 0)
);
INSERT INTO ledger_total_issuance (id, amount) VALUES (1, NULL) ON CONFLICT (id) DO NOTHING;
`

// PostgresStore persists balances in PostgreSQL. Every Update locks the
// singleton issuance row first, which serializes writers across processes.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables when they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Update runs fn in a read-committed transaction holding the issuance row lock.
func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT 1 FROM ledger_total_issuance WHERE id = 1 FOR UPDATE`); err != nil {
		return fmt.Errorf("lock total issuance: %w", err)
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// View runs fn in a read-only repeatable-read transaction.
func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{tx: tx, readOnly: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *postgresTx) Get(ctx context.Context, id AccountID) (Balance, bool, error) {
	var raw string
	err := t.tx.QueryRow(ctx, `SELECT amount::text FROM ledger_balances WHERE account_id = $1`, string(id)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	v, err := ParseBalance(raw)
	if err != nil {
		return Balance{}, false, fmt.Errorf("decode balance %s: %w", id, err)
	}
	return v, true, nil
}

func (t *postgresTx) Insert(ctx context.Context, id AccountID, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_balances (account_id, amount) VALUES ($1, $2::numeric)
        ON CONFLICT (account_id) DO UPDATE SET amount = EXCLUDED.amount`, string(id), amount.String())
	return err
}

func (t *postgresTx) TotalIssuance(ctx context.Context) (Balance, bool, error) {
	var raw *string
	err := t.tx.QueryRow(ctx, `SELECT amount::text FROM ledger_total_issuance WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	if raw == nil {
		return Balance{}, false, nil
	}
	v, err := ParseBalance(*raw)
	if err != nil {
		return Balance{}, false, fmt.Errorf("decode total issuance: %w", err)
	}
	return v, true, nil
}

func (t *postgresTx) SetTotalIssuance(ctx context.Context, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx, `UPDATE ledger_total_issuance SET amount = $1::numeric WHERE id = 1`, amount.String())
	return err
}

func (t *postgresTx) Range(ctx context.Context, fn func(AccountID, Balance) error) error {
	rows, err := t.tx.Query(ctx, `SELECT account_id, amount::text FROM ledger_balances`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		v, err := ParseBalance(raw)
		if err != nil {
			return fmt.Errorf("decode balance %s: %w", id, err)
		}
		if err := fn(AccountID(id), v); err != nil {
			return err
		}
	}
	return rows.Err()
}
