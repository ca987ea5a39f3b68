package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ledger:"

// RedisStore keeps balances in a Redis hash and total issuance in a string
// key. Both Update and View WATCH the two keys and rerun fn, after a jittered
// exponential backoff, whenever a concurrent writer touches either of them.
// Retries stop only when ctx is done.
type RedisStore struct {
	client      *redis.Client
	balancesKey string
	issuanceKey string
}

// NewRedisStore builds a Redis-backed store. An empty prefix selects "ledger:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client:      client,
		balancesKey: prefix + "balances",
		issuanceKey: prefix + "total_issuance",
	}
}

// Update runs fn inside an optimistic transaction over both ledger keys.
func (s *RedisStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.watch(ctx, func(rtx *redis.Tx) error {
		tx := &redisTx{store: s, reader: rtx, pending: newOverlay()}
		if err := fn(tx); err != nil {
			return err
		}
		if tx.pending.empty() {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, v := range tx.pending.balances {
				pipe.HSet(ctx, s.balancesKey, string(id), v.String())
			}
			if tx.pending.issuance != nil {
				pipe.Set(ctx, s.issuanceKey, tx.pending.issuance.String(), 0)
			}
			return nil
		})
		return err
	})
}

// View runs fn against reads taken under WATCH. A trivial MULTI/EXEC at the end
// fails if either key changed in between, and fn is run again.
func (s *RedisStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.watch(ctx, func(rtx *redis.Tx) error {
		if err := fn(&redisTx{store: s, reader: rtx, readOnly: true}); err != nil {
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Exists(ctx, s.issuanceKey)
			return nil
		})
		return err
	})
}

func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := s.client.Watch(ctx, fn, s.balancesKey, s.issuanceKey)
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

type redisReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisTx struct {
	store    *RedisStore
	reader   redisReader
	pending  *overlay
	readOnly bool
}

func (t *redisTx) Get(ctx context.Context, id AccountID) (Balance, bool, error) {
	if !t.readOnly {
		if v, ok := t.pending.balance(id); ok {
			return v, true, nil
		}
	}
	raw, err := t.reader.HGet(ctx, t.store.balancesKey, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("read balance %s: %w", id, err)
	}
	v, err := ParseBalance(raw)
	if err != nil {
		return Balance{}, false, fmt.Errorf("decode balance %s: %w", id, err)
	}
	return v, true, nil
}

func (t *redisTx) Insert(_ context.Context, id AccountID, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending.balances[id] = amount
	return nil
}

func (t *redisTx) TotalIssuance(ctx context.Context) (Balance, bool, error) {
	if !t.readOnly && t.pending.issuance != nil {
		return *t.pending.issuance, true, nil
	}
	raw, err := t.reader.Get(ctx, t.store.issuanceKey).Result()
	if errors.Is(err, redis.Nil) {
		return Balance{}, false, nil
	}
	if err != nil {
		return Balance{}, false, fmt.Errorf("read total issuance: %w", err)
	}
	v, err := ParseBalance(raw)
	if err != nil {
		return Balance{}, false, fmt.Errorf("decode total issuance: %w", err)
	}
	return v, true, nil
}

func (t *redisTx) SetTotalIssuance(_ context.Context, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending.setIssuance(amount)
	return nil
}

func (t *redisTx) Range(ctx context.Context, fn func(AccountID, Balance) error) error {
	raw, err := t.reader.HGetAll(ctx, t.store.balancesKey).Result()
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}
	base := make(map[AccountID]Balance, len(raw))
	for field, value := range raw {
		v, err := ParseBalance(value)
		if err != nil {
			return fmt.Errorf("decode balance %s: %w", field, err)
		}
		base[AccountID(field)] = v
	}
	if t.readOnly {
		return newOverlay().rangeMerged(base, fn)
	}
	return t.pending.rangeMerged(base, fn)
}
