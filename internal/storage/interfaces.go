package storage

import (
	"context"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
)

// AccountWrite is a single account mutation inside a CommitBatch.
type AccountWrite struct {
	// Account is the new account state. Its Version field is ignored; stores
	// persist ExpectedVersion+1.
	Account *domain.Account

	// ExpectedVersion is the version observed when the account was loaded.
	// 0 means the account must not exist yet.
	ExpectedVersion uint64

	// Delete removes the account instead of writing it.
	Delete bool
}

// CommitBatch is the full write set of one transaction.
type CommitBatch struct {
	Signature solana.Signature // first signature of the transaction
	Slot      uint64           // slot assigned to the transaction
	Writes    []AccountWrite
}

// CommitProgress is the last committed position of the ledger.
type CommitProgress struct {
	Slot      uint64           // last committed slot
	Signature solana.Signature // signature committed at that slot
}

// AccountStore provides access to ledger account state.
type AccountStore interface {
	// Get retrieves an account by address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, address solana.Address) (*domain.Account, error)

	// GetMany retrieves the accounts that exist among addresses.
	// Missing addresses are omitted from the result.
	GetMany(ctx context.Context, addresses []solana.Address) (map[solana.Address]*domain.Account, error)

	// ListByOwner retrieves all accounts owned by a program, ordered by address.
	ListByOwner(ctx context.Context, owner solana.Address) ([]*domain.Account, error)

	// Commit applies a batch atomically. Returns ErrConflict if any account's
	// stored version differs from ExpectedVersion, and ErrDuplicateKey if the
	// signature was already committed. On error nothing is written.
	Commit(ctx context.Context, batch *CommitBatch) error

	// LastCommitted returns the most recent commit. Returns ErrNotFound on an
	// empty ledger.
	LastCommitted(ctx context.Context) (*CommitProgress, error)

	// IsProcessed reports whether a transaction signature has been committed.
	IsProcessed(ctx context.Context, signature solana.Signature) (bool, error)
}

// SaleEventStore provides access to sale_events storage.
type SaleEventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate id.
	InsertBulk(ctx context.Context, events []*domain.SaleEvent) error

	// GetBySale retrieves all events for a sale, ordered by slot ASC, instruction index ASC.
	GetBySale(ctx context.Context, sale solana.Address) ([]*domain.SaleEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SaleEvent, error)
}

// ValidateBatch checks structural invariants of a commit batch.
func ValidateBatch(batch *CommitBatch) error {
	if batch == nil || batch.Signature.IsZero() {
		return ErrInvalidInput
	}
	seen := make(map[solana.Address]bool, len(batch.Writes))
	for _, w := range batch.Writes {
		if w.Account == nil {
			return ErrInvalidInput
		}
		if seen[w.Account.Address] {
			return ErrInvalidInput
		}
		seen[w.Account.Address] = true
	}
	return nil
}
