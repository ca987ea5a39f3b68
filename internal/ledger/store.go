package ledger

import (
	"context"
	"errors"
)

// ErrReadOnly is returned when a write is attempted inside Store.View.
var ErrReadOnly = errors.New("ledger: write in read-only transaction")

// Store is the durable key-value collaborator behind the ledger. It holds the
// Balances map and the TotalIssuance cell.
//
// Update must run fn in isolation from every other Update and make its
// writes visible only if fn returns nil. View runs fn against a consistent
// read-only snapshot. Optimistic stores may run fn more than once, so fn must
// not accumulate state across calls.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is one transaction against a Store. Reads observe the transaction's own
// earlier writes.
type Tx interface {
	// Get returns the balance for id and false when no entry exists.
	Get(ctx context.Context, id AccountID) (Balance, bool, error)
	// Insert overwrites the entry for id.
	Insert(ctx context.Context, id AccountID, amount Balance) error
	// TotalIssuance returns the issuance cell and false when it was never written.
	TotalIssuance(ctx context.Context) (Balance, bool, error)
	SetTotalIssuance(ctx context.Context, amount Balance) error
	// Range calls fn for every materialized entry in no particular order.
	Range(ctx context.Context, fn func(AccountID, Balance) error) error
}

// Mutate reads the entry for id, treating a missing entry as zero, and writes
// back fn's result. Nothing is written when fn fails.
func Mutate(ctx context.Context, tx Tx, id AccountID, fn func(Balance) (Balance, error)) error {
	current, _, err := tx.Get(ctx, id)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return tx.Insert(ctx, id, next)
}

// MutateTotalIssuance is Mutate for the issuance cell.
func MutateTotalIssuance(ctx context.Context, tx Tx, fn func(Balance) (Balance, error)) error {
	current, _, err := tx.TotalIssuance(ctx)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return tx.SetTotalIssuance(ctx, next)
}
