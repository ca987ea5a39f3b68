// Package ledger implements the single-asset balance ledger: a keyed store of
// account balances plus a total issuance counter, mutated only through Mint
// and Transfer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/currency/internal/notification"
)

var (
	// ErrAuthenticationFailed is returned when the caller's origin cannot be
	// resolved to an account.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNonExistentAccount occurs when a transfer sender has no balance entry.
	ErrNonExistentAccount = errors.New("non-existent account")

	// ErrInsufficientBalance occurs when the sender balance cannot cover the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOverflow indicates a checked addition exceeded the Balance range.
	ErrOverflow = errors.New("balance overflow")
)

const (
	OperationMint     = "mint"
	OperationTransfer = "transfer"
)

// AccountID names a ledger participant. It carries no internal structure.
type AccountID string

// Config carries the ledger's static parameters.
type Config struct {
	// ExistentialDeposit is the configured minimum balance. It is exposed to
	// callers but not enforced by Mint or Transfer.
	ExistentialDeposit Balance
}

// Recorder observes ledger outcomes, typically for metrics.
type Recorder interface {
	ObserveOperation(operation, result string)
	SetTotalIssuance(total Balance)
}

// Ledger applies the two legal state transitions against a Store.
//
// Every Mint and Transfer runs inside a single Store.Update, so each call is
// atomic with respect to the others as long as the Store serializes updates.
// All preconditions are checked before the transaction commits; a failed call
// leaves Balances and TotalIssuance untouched.
type Ledger struct {
	store    Store
	auth     Authenticator
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	notifier notification.Notifier
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

// WithNotifier sets the notifier used after successful operations.
func WithNotifier(n notification.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// New builds a ledger over the given store and authenticator.
func New(store Store, auth Authenticator, cfg Config, opts ...Option) *Ledger {
	l := &Ledger{store: store, auth: auth, cfg: cfg}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Mint credits amount to dest and raises total issuance by the same amount.
//
// Any authenticated caller may mint; no check is made on who the caller is.
func (l *Ledger) Mint(ctx context.Context, origin Origin, dest AccountID, amount Balance) error {
	caller, err := l.authenticate(ctx, origin)
	if err != nil {
		l.finish(OperationMint, err)
		return err
	}

	var issuance Balance
	err = l.store.Update(ctx, func(tx Tx) error {
		current, _, err := tx.TotalIssuance(ctx)
		if err != nil {
			return err
		}
		next, ok := CheckedAdd(current, amount)
		if !ok {
			return ErrOverflow
		}
		if err := Mutate(ctx, tx, dest, creditBy(amount)); err != nil {
			return err
		}
		issuance = next
		return tx.SetTotalIssuance(ctx, next)
	})
	if err != nil {
		l.logger.Warn("mint rejected", "caller", caller, "dest", dest, "amount", amount.String(), "error", err)
		l.finish(OperationMint, err)
		return err
	}

	l.logger.Info("mint applied", "caller", caller, "dest", dest, "amount", amount.String())
	if l.recorder != nil {
		l.recorder.SetTotalIssuance(issuance)
	}
	l.notify(ctx, notification.Message{
		Kind:        notification.KindMinted,
		Destination: string(dest),
		Body:        fmt.Sprintf("%s minted to your account", amount),
	})
	l.finish(OperationMint, nil)
	return nil
}

// Transfer moves amount from the authenticated caller to dest. Total issuance
// is unchanged.
func (l *Ledger) Transfer(ctx context.Context, origin Origin, dest AccountID, amount Balance) error {
	sender, err := l.authenticate(ctx, origin)
	if err != nil {
		l.finish(OperationTransfer, err)
		return err
	}

	err = l.store.Update(ctx, func(tx Tx) error {
		balance, ok, err := tx.Get(ctx, sender)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNonExistentAccount
		}
		if balance.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		remainder, ok := CheckedSub(balance, amount)
		if !ok {
			return ErrInsufficientBalance
		}

		// The debit is written before the credit reads the recipient entry, so a
		// self-transfer credits the remainder back to the original balance.
		if err := tx.Insert(ctx, sender, remainder); err != nil {
			return err
		}
		return Mutate(ctx, tx, dest, creditBy(amount))
	})
	if err != nil {
		l.logger.Warn("transfer rejected", "sender", sender, "dest", dest, "amount", amount.String(), "error", err)
		l.finish(OperationTransfer, err)
		return err
	}

	l.logger.Info("transfer applied", "sender", sender, "dest", dest, "amount", amount.String())
	l.notify(ctx, notification.Message{
		Kind:        notification.KindTransferred,
		Destination: string(dest),
		Body:        fmt.Sprintf("You received %s from %s", amount, sender),
	})
	l.finish(OperationTransfer, nil)
	return nil
}

// Balance returns the stored balance for id and whether the entry exists.
func (l *Ledger) Balance(ctx context.Context, id AccountID) (Balance, bool, error) {
	var (
		balance Balance
		exists  bool
	)
	err := l.store.View(ctx, func(tx Tx) error {
		var err error
		balance, exists, err = tx.Get(ctx, id)
		return err
	})
	return balance, exists, err
}

// TotalIssuance returns the current total issuance, zero before the first mint.
func (l *Ledger) TotalIssuance(ctx context.Context) (Balance, error) {
	var total Balance
	err := l.store.View(ctx, func(tx Tx) error {
		var err error
		total, _, err = tx.TotalIssuance(ctx)
		return err
	})
	return total, err
}

// ExistentialDeposit returns the configured minimum balance.
func (l *Ledger) ExistentialDeposit() Balance {
	return l.cfg.ExistentialDeposit
}

// AuditReport compares the sum of all stored balances with total issuance.
type AuditReport struct {
	Accounts      int
	Sum           Balance
	SumOverflowed bool
	TotalIssuance Balance
	Balanced      bool
}

// Audit walks every stored balance and checks it against total issuance.
func (l *Ledger) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	err := l.store.View(ctx, func(tx Tx) error {
		report = AuditReport{}
		total, _, err := tx.TotalIssuance(ctx)
		if err != nil {
			return err
		}
		report.TotalIssuance = total
		return tx.Range(ctx, func(_ AccountID, balance Balance) error {
			report.Accounts++
			sum, ok := CheckedAdd(report.Sum, balance)
			if !ok {
				report.SumOverflowed = true
				return nil
			}
			report.Sum = sum
			return nil
		})
	})
	if err != nil {
		return AuditReport{}, err
	}
	report.Balanced = !report.SumOverflowed && report.Sum.Equals(report.TotalIssuance)
	if !report.Balanced {
		l.logger.Error("ledger out of balance",
			"sum", report.Sum.String(),
			"total_issuance", report.TotalIssuance.String(),
			"accounts", report.Accounts,
		)
	}
	return report, nil
}

func (l *Ledger) authenticate(ctx context.Context, origin Origin) (AccountID, error) {
	if l.auth == nil {
		return "", fmt.Errorf("%w: no authenticator configured", ErrAuthenticationFailed)
	}
	id, err := l.auth.Authenticate(ctx, origin)
	if err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return id, nil
}

func (l *Ledger) finish(operation string, err error) {
	if l.recorder != nil {
		l.recorder.ObserveOperation(operation, ResultLabel(err))
	}
}

func (l *Ledger) notify(ctx context.Context, msg notification.Message) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Send(ctx, msg); err != nil {
		l.logger.Warn("notification failed", "kind", msg.Kind, "error", err)
	}
}

// ResultLabel maps an operation error onto a short, stable label.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, ErrNonExistentAccount):
		return "non_existent_account"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	default:
		return "error"
	}
}

func creditBy(amount Balance) func(Balance) (Balance, error) {
	return func(current Balance) (Balance, error) {
		next, ok := CheckedAdd(current, amount)
		if !ok {
			return Balance{}, ErrOverflow
		}
		return next, nil
	}
}
