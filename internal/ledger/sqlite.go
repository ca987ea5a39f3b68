package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_balances (
    account_id TEXT PRIMARY KEY,
    amount     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger_total_issuance (
    id     INTEGER PRIMARY KEY CHECK (id = 1),
    amount TEXT
);
INSERT OR IGNORE INTO ledger_total_issuance (id, amount) VALUES (1, NULL);
`

// SQLiteStore persists balances in SQLite. Amounts are stored as decimal
// text because SQLite integers stop at 64 bits.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore applies the ledger schema and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite db is required")
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Update runs fn in a transaction. Writers are serialized in-process.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, false, fn)
}

// View runs fn in a read-only transaction.
func (s *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SQLiteStore) run(ctx context.Context, readOnly bool, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(&sqliteTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) Get(ctx context.Context, id AccountID) (Balance, bool, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM ledger_balances WHERE account_id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
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

func (t *sqliteTx) Insert(ctx context.Context, id AccountID, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO ledger_balances (account_id, amount) VALUES (?, ?)
        ON CONFLICT(account_id) DO UPDATE SET amount = excluded.amount`, string(id), amount.String())
	return err
}

func (t *sqliteTx) TotalIssuance(ctx context.Context) (Balance, bool, error) {
	var raw sql.NullString
	err := t.tx.QueryRowContext(ctx, `SELECT amount FROM ledger_total_issuance WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !raw.Valid) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, err
	}
	v, err := ParseBalance(raw.String)
	if err != nil {
		return Balance{}, false, fmt.Errorf("decode total issuance: %w", err)
	}
	return v, true, nil
}

func (t *sqliteTx) SetTotalIssuance(ctx context.Context, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE ledger_total_issuance SET amount = ? WHERE id = 1`, amount.String())
	return err
}

func (t *sqliteTx) Range(ctx context.Context, fn func(AccountID, Balance) error) error {
	rows, err := t.tx.QueryContext(ctx, `SELECT account_id, amount FROM ledger_balances`)
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
