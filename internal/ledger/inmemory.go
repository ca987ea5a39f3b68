package ledger

import (
	"context"
	"sync"
)

type inMemoryStore struct {
	mu          sync.RWMutex
	balances    map[AccountID]Balance
	issuance    Balance
	hasIssuance bool
}

// NewInMemory creates a concurrency-safe in-memory store. Updates are
// serialized by a single mutex and staged until the callback succeeds.
func NewInMemory() Store {
	return &inMemoryStore{balances: make(map[AccountID]Balance)}
}

func (s *inMemoryStore) Update(_ context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, pending: newOverlay()}
	if err := fn(tx); err != nil {
		return err
	}

	for id, v := range tx.pending.balances {
		s.balances[id] = v
	}
	if tx.pending.issuance != nil {
		s.issuance = *tx.pending.issuance
		s.hasIssuance = true
	}
	return nil
}

func (s *inMemoryStore) View(_ context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{store: s, readOnly: true})
}

type memoryTx struct {
	store    *inMemoryStore
	pending  *overlay
	readOnly bool
}

func (t *memoryTx) Get(_ context.Context, id AccountID) (Balance, bool, error) {
	if !t.readOnly {
		if v, ok := t.pending.balance(id); ok {
			return v, true, nil
		}
	}
	v, ok := t.store.balances[id]
	return v, ok, nil
}

func (t *memoryTx) Insert(_ context.Context, id AccountID, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending.balances[id] = amount
	return nil
}

func (t *memoryTx) TotalIssuance(_ context.Context) (Balance, bool, error) {
	if !t.readOnly && t.pending.issuance != nil {
		return *t.pending.issuance, true, nil
	}
	return t.store.issuance, t.store.hasIssuance, nil
}

func (t *memoryTx) SetTotalIssuance(_ context.Context, amount Balance) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.pending.setIssuance(amount)
	return nil
}

func (t *memoryTx) Range(_ context.Context, fn func(AccountID, Balance) error) error {
	if t.readOnly {
		for id, v := range t.store.balances {
			if err := fn(id, v); err != nil {
				return err
			}
		}
		return nil
	}
	return t.pending.rangeMerged(t.store.balances, fn)
}
