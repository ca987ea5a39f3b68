package ledger

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/congo-pay/currency/internal/notification"
)

func forEachStore(t *testing.T, run func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		run(t, NewInMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		db, err := sql.Open("sqlite", ":memory:")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })

		s, err := NewSQLiteStore(context.Background(), db)
		if err != nil {
			t.Fatalf("sqlite store: %v", err)
		}
		run(t, s)
	})

	t.Run("redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			client.Close()
			mr.Close()
		})
		run(t, NewRedisStore(client, ""))
	})

	t.Run("postgres", func(t *testing.T) {
		url := os.Getenv("DATABASE_URL")
		if url == "" {
			t.Skip("DATABASE_URL not set")
		}
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		t.Cleanup(pool.Close)

		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		if _, err := pool.Exec(ctx, `TRUNCATE ledger_balances; UPDATE ledger_total_issuance SET amount = NULL`); err != nil {
			t.Fatalf("reset ledger tables: %v", err)
		}
		run(t, s)
	})
}

func newTestLedger(s Store) *Ledger {
	return New(s, SignedAuthenticator{}, Config{ExistentialDeposit: NewBalance(5)})
}

func mustBalance(t *testing.T, l *Ledger, id AccountID) (Balance, bool) {
	t.Helper()
	b, ok, err := l.Balance(context.Background(), id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	return b, ok
}

func mustIssuance(t *testing.T, l *Ledger) Balance {
	t.Helper()
	total, err := l.TotalIssuance(context.Background())
	if err != nil {
		t.Fatalf("total issuance: %v", err)
	}
	return total
}

func assertBalanced(t *testing.T, l *Ledger) {
	t.Helper()
	report, err := l.Audit(context.Background())
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Balanced {
		t.Fatalf("ledger not balanced: sum=%s issuance=%s", report.Sum, report.TotalIssuance)
	}
}

func TestMintWorks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()

		if _, ok := mustBalance(t, l, "1"); ok {
			t.Fatalf("expected no entry for account 1")
		}

		if err := l.Mint(ctx, Signed("1"), "0", NewBalance(42)); err != nil {
			t.Fatalf("mint: %v", err)
		}

		b, ok := mustBalance(t, l, "0")
		if !ok || !b.Equals64(42) {
			t.Fatalf("expected balance 42, got %s (exists=%v)", b, ok)
		}
		if total := mustIssuance(t, l); !total.Equals64(42) {
			t.Fatalf("expected total issuance 42, got %s", total)
		}
		if _, ok := mustBalance(t, l, "1"); ok {
			t.Fatalf("minting to 0 must not touch account 1")
		}
		assertBalanced(t, l)
	})
}

func TestTransferInsufficientBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		if err := l.Mint(ctx, Signed("1"), "0", NewBalance(42)); err != nil {
			t.Fatalf("mint: %v", err)
		}

		if err := l.Transfer(ctx, Signed("0"), "1", NewBalance(50)); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}

		b, _ := mustBalance(t, l, "0")
		if !b.Equals64(42) {
			t.Fatalf("expected sender balance unchanged at 42, got %s", b)
		}
		if _, ok := mustBalance(t, l, "1"); ok {
			t.Fatalf("failed transfer must not materialize the recipient")
		}
		if total := mustIssuance(t, l); !total.Equals64(42) {
			t.Fatalf("expected total issuance 42, got %s", total)
		}
	})
}

func TestTransferWholeBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		if err := l.Mint(ctx, Signed("1"), "0", NewBalance(42)); err != nil {
			t.Fatalf("mint: %v", err)
		}

		if err := l.Transfer(ctx, Signed("0"), "1", NewBalance(42)); err != nil {
			t.Fatalf("transfer: %v", err)
		}

		from, ok := mustBalance(t, l, "0")
		if !ok || !from.IsZero() {
			t.Fatalf("expected materialized zero balance for sender, got %s (exists=%v)", from, ok)
		}
		to, ok := mustBalance(t, l, "1")
		if !ok || !to.Equals64(42) {
			t.Fatalf("expected recipient balance 42, got %s (exists=%v)", to, ok)
		}
		if total := mustIssuance(t, l); !total.Equals64(42) {
			t.Fatalf("expected total issuance 42, got %s", total)
		}
		assertBalanced(t, l)

		// A zero but materialized entry is an existing account.
		if err := l.Transfer(ctx, Signed("0"), "1", NewBalance(0)); err != nil {
			t.Fatalf("zero transfer from empty account: %v", err)
		}
		if err := l.Transfer(ctx, Signed("0"), "1", NewBalance(1)); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
	})
}

func TestTransferFromNonExistentAccount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()

		if err := l.Transfer(ctx, Signed("99"), "1", NewBalance(1)); !errors.Is(err, ErrNonExistentAccount) {
			t.Fatalf("expected non-existent account, got %v", err)
		}
		if err := l.Transfer(ctx, Signed("99"), "1", NewBalance(0)); !errors.Is(err, ErrNonExistentAccount) {
			t.Fatalf("expected non-existent account for zero amount, got %v", err)
		}
		if _, ok := mustBalance(t, l, "1"); ok {
			t.Fatalf("recipient must stay unmaterialized")
		}
	})
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		if err := l.Mint(ctx, Signed("7"), "7", NewBalance(100)); err != nil {
			t.Fatalf("mint: %v", err)
		}

		for _, amount := range []uint64{0, 1, 60, 100} {
			if err := l.Transfer(ctx, Signed("7"), "7", NewBalance(amount)); err != nil {
				t.Fatalf("self transfer %d: %v", amount, err)
			}
			b, _ := mustBalance(t, l, "7")
			if !b.Equals64(100) {
				t.Fatalf("self transfer %d changed balance to %s", amount, b)
			}
		}

		if err := l.Transfer(ctx, Signed("7"), "7", NewBalance(101)); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		assertBalanced(t, l)
	})
}

func TestMintIsAdditive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		split := newTestLedger(s)
		if err := split.Mint(ctx, Signed("1"), "a", NewBalance(30)); err != nil {
			t.Fatalf("mint a: %v", err)
		}
		if err := split.Mint(ctx, Signed("1"), "a", NewBalance(12)); err != nil {
			t.Fatalf("mint into existing balance: %v", err)
		}

		whole := newTestLedger(NewInMemory())
		if err := whole.Mint(ctx, Signed("1"), "a", NewBalance(42)); err != nil {
			t.Fatalf("mint whole: %v", err)
		}

		got, _ := mustBalance(t, split, "a")
		want, _ := mustBalance(t, whole, "a")
		if !got.Equals(want) {
			t.Fatalf("expected %s, got %s", want, got)
		}
		if !mustIssuance(t, split).Equals(mustIssuance(t, whole)) {
			t.Fatalf("total issuance diverged")
		}
	})
}

func TestMintOverflowLeavesStateUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		if err := l.Mint(ctx, Signed("1"), "rich", MaxBalance); err != nil {
			t.Fatalf("mint max: %v", err)
		}

		if err := l.Mint(ctx, Signed("1"), "rich", NewBalance(1)); !errors.Is(err, ErrOverflow) {
			t.Fatalf("expected overflow on destination, got %v", err)
		}
		if err := l.Mint(ctx, Signed("1"), "other", NewBalance(1)); !errors.Is(err, ErrOverflow) {
			t.Fatalf("expected overflow on issuance, got %v", err)
		}

		b, _ := mustBalance(t, l, "rich")
		if !b.Equals(MaxBalance) {
			t.Fatalf("expected balance to stay at max, got %s", b)
		}
		if _, ok := mustBalance(t, l, "other"); ok {
			t.Fatalf("failed mint must not materialize the destination")
		}
		if total := mustIssuance(t, l); !total.Equals(MaxBalance) {
			t.Fatalf("expected issuance to stay at max, got %s", total)
		}

		// Moving the whole supply is bounded by issuance and never overflows.
		if err := l.Transfer(ctx, Signed("rich"), "other", MaxBalance); err != nil {
			t.Fatalf("transfer max: %v", err)
		}
		assertBalanced(t, l)
	})
}

func TestMintZeroMaterializesEntry(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		if err := l.Mint(ctx, Signed("1"), "z", NewBalance(0)); err != nil {
			t.Fatalf("mint zero: %v", err)
		}
		b, ok := mustBalance(t, l, "z")
		if !ok || !b.IsZero() {
			t.Fatalf("expected zero entry, got %s (exists=%v)", b, ok)
		}
		if err := l.Transfer(ctx, Signed("z"), "y", NewBalance(0)); err != nil {
			t.Fatalf("zero transfer: %v", err)
		}
	})
}

func TestOperationsRequireAuthentication(t *testing.T) {
	l := newTestLedger(NewInMemory())
	ctx := context.Background()

	if err := l.Mint(ctx, NoOrigin{}, "0", NewBalance(10)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if err := l.Transfer(ctx, BearerOrigin("token"), "0", NewBalance(10)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	if err := l.Mint(ctx, Signed(""), "0", NewBalance(10)); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected empty signer to fail, got %v", err)
	}
	if _, ok := mustBalance(t, l, "0"); ok {
		t.Fatalf("unauthenticated mint must not write")
	}
	if total := mustIssuance(t, l); !total.IsZero() {
		t.Fatalf("expected zero issuance, got %s", total)
	}
}

func TestAuthenticatorErrorsAreWrapped(t *testing.T) {
	denied := errors.New("token expired")
	l := New(NewInMemory(), AuthenticatorFunc(func(context.Context, Origin) (AccountID, error) {
		return "", denied
	}), Config{})

	err := l.Mint(context.Background(), BearerOrigin("x"), "0", NewBalance(1))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
}

func TestExistentialDepositIsNotEnforced(t *testing.T) {
	l := newTestLedger(NewInMemory())
	ctx := context.Background()

	if !l.ExistentialDeposit().Equals64(5) {
		t.Fatalf("expected existential deposit 5, got %s", l.ExistentialDeposit())
	}
	if err := l.Mint(ctx, Signed("1"), "dust", NewBalance(1)); err != nil {
		t.Fatalf("mint below existential deposit: %v", err)
	}
	if err := l.Transfer(ctx, Signed("dust"), "other", NewBalance(1)); err != nil {
		t.Fatalf("transfer leaving zero balance: %v", err)
	}
}

func TestConservationAcrossRandomOperations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(7))
		accounts := []AccountID{"a", "b", "c", "d", "e"}

		for _, id := range accounts[:3] {
			if err := l.Mint(ctx, Signed(id), id, NewBalance(1_000)); err != nil {
				t.Fatalf("mint %s: %v", id, err)
			}
		}

		for i := 0; i < 200; i++ {
			from := accounts[rng.Intn(len(accounts))]
			to := accounts[rng.Intn(len(accounts))]
			amount := NewBalance(uint64(rng.Intn(400)))
			err := l.Transfer(ctx, Signed(from), to, amount)
			if err != nil && !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrNonExistentAccount) {
				t.Fatalf("transfer %d: %v", i, err)
			}
			if total := mustIssuance(t, l); !total.Equals64(3_000) {
				t.Fatalf("transfers changed total issuance to %s", total)
			}
		}
		assertBalanced(t, l)
	})
}

type recordingObserver struct {
	results  map[string]int
	issuance Balance
	messages []notification.Message
}

func (r *recordingObserver) ObserveOperation(operation, result string) {
	r.results[operation+":"+result]++
}

func (r *recordingObserver) SetTotalIssuance(total Balance) {
	r.issuance = total
}

func (r *recordingObserver) Send(_ context.Context, msg notification.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

func TestLedgerReportsOutcomes(t *testing.T) {
	obs := &recordingObserver{results: make(map[string]int)}
	l := New(NewInMemory(), SignedAuthenticator{}, Config{}, WithRecorder(obs), WithNotifier(obs))
	ctx := context.Background()

	_ = l.Mint(ctx, Signed("1"), "0", NewBalance(42))
	_ = l.Transfer(ctx, Signed("0"), "1", NewBalance(50))
	_ = l.Transfer(ctx, Signed("0"), "1", NewBalance(2))
	_ = l.Transfer(ctx, NoOrigin{}, "1", NewBalance(2))

	if obs.results["mint:ok"] != 1 {
		t.Fatalf("expected one successful mint, got %v", obs.results)
	}
	if obs.results["transfer:insufficient_balance"] != 1 || obs.results["transfer:ok"] != 1 {
		t.Fatalf("unexpected transfer results: %v", obs.results)
	}
	if obs.results["transfer:authentication_failed"] != 1 {
		t.Fatalf("expected an authentication failure, got %v", obs.results)
	}
	if !obs.issuance.Equals64(42) {
		t.Fatalf("expected recorded issuance 42, got %s", obs.issuance)
	}
	if len(obs.messages) != 2 || obs.messages[0].Kind != notification.KindMinted || obs.messages[1].Kind != notification.KindTransferred {
		t.Fatalf("unexpected notifications: %+v", obs.messages)
	}
	if obs.messages[1].Destination != "1" {
		t.Fatalf("expected transfer notification for account 1, got %s", obs.messages[1].Destination)
	}
}

func TestConcurrentOppositeTransfersAllSucceed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()
		for _, id := range []AccountID{"a", "b"} {
			if err := l.Mint(ctx, Signed(id), id, NewBalance(1_000)); err != nil {
				t.Fatalf("mint %s: %v", id, err)
			}
		}

		// 100 transfers each way can never overdraw either side.
		const workers = 200
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			failed []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				from, to := AccountID("a"), AccountID("b")
				if i%2 == 1 {
					from, to = to, from
				}
				if err := l.Transfer(ctx, Signed(from), to, NewBalance(7)); err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if len(failed) > 0 {
			t.Fatalf("%d of %d transfers failed, first: %v", len(failed), workers, failed[0])
		}
		a, _ := mustBalance(t, l, "a")
		b, _ := mustBalance(t, l, "b")
		if !a.Equals64(1_000) || !b.Equals64(1_000) {
			t.Fatalf("unexpected balances a=%s b=%s", a, b)
		}
		assertBalanced(t, l)
	})
}

func TestAuditStaysBalancedDuringMints(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		l := newTestLedger(s)
		ctx := context.Background()

		const mints = 200
		done := make(chan error, 1)
		go func() {
			for i := 0; i < mints; i++ {
				dest := AccountID([]string{"x", "y", "z"}[i%3])
				if err := l.Mint(ctx, Signed("minter"), dest, NewBalance(1)); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()

		audits := 0
		for {
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("mint: %v", err)
				}
				assertBalanced(t, l)
				if total := mustIssuance(t, l); !total.Equals64(mints) {
					t.Fatalf("expected issuance %d, got %s", mints, total)
				}
				return
			default:
			}
			report, err := l.Audit(ctx)
			if err != nil {
				t.Fatalf("audit %d: %v", audits, err)
			}
			if !report.Balanced {
				t.Fatalf("audit %d saw sum=%s issuance=%s mid-mint", audits, report.Sum, report.TotalIssuance)
			}
			audits++
		}
	})
}
