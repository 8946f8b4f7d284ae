package memory

import (
	"context"
	"sort"
	"sync"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// AccountStore is an in-memory implementation of storage.AccountStore.
type AccountStore struct {
	mu         sync.RWMutex
	accounts   map[solana.Address]*domain.Account
	signatures map[solana.Signature]uint64
	last       *storage.CommitProgress
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:   make(map[solana.Address]*domain.Account),
		signatures: make(map[solana.Signature]uint64),
	}
}

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, address solana.Address) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return acc.Clone(), nil
}

// GetMany retrieves the accounts that exist among addresses.
func (s *AccountStore) GetMany(_ context.Context, addresses []solana.Address) (map[solana.Address]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[solana.Address]*domain.Account, len(addresses))
	for _, addr := range addresses {
		if acc, ok := s.accounts[addr]; ok {
			result[addr] = acc.Clone()
		}
	}
	return result, nil
}

// ListByOwner retrieves all accounts owned by a program, ordered by address.
func (s *AccountStore) ListByOwner(_ context.Context, owner solana.Address) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Account
	for _, acc := range s.accounts {
		if acc.Owner == owner {
			result = append(result, acc.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address.Compare(result[j].Address) < 0
	})
	return result, nil
}

// Commit applies a batch atomically with optimistic version checks.
func (s *AccountStore) Commit(_ context.Context, batch *storage.CommitBatch) error {
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signatures[batch.Signature]; ok {
		return storage.ErrDuplicateKey
	}

	// Check every version before touching anything
	for _, w := range batch.Writes {
		var current uint64
		if acc, ok := s.accounts[w.Account.Address]; ok {
			current = acc.Version
		}
		if current != w.ExpectedVersion {
			return storage.ErrConflict
		}
	}

	for _, w := range batch.Writes {
		if w.Delete {
			delete(s.accounts, w.Account.Address)
			continue
		}
		acc := w.Account.Clone()
		acc.Version = w.ExpectedVersion + 1
		acc.Slot = batch.Slot
		s.accounts[acc.Address] = acc
	}

	s.signatures[batch.Signature] = batch.Slot
	if s.last == nil || batch.Slot >= s.last.Slot {
		s.last = &storage.CommitProgress{Slot: batch.Slot, Signature: batch.Signature}
	}
	return nil
}

// LastCommitted returns the most recent commit. Returns ErrNotFound on an empty ledger.
func (s *AccountStore) LastCommitted(_ context.Context) (*storage.CommitProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil, storage.ErrNotFound
	}
	copy := *s.last
	return &copy, nil
}

// IsProcessed reports whether a transaction signature has been committed.
func (s *AccountStore) IsProcessed(_ context.Context, signature solana.Signature) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.signatures[signature]
	return ok, nil
}

// Verify interface compliance at compile time.
var _ storage.AccountStore = (*AccountStore)(nil)
