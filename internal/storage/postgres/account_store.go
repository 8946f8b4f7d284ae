package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// AccountStore implements storage.AccountStore using PostgreSQL.
// Commit runs in one transaction; version predicates on UPDATE/DELETE detect
// concurrent writers across processes.
type AccountStore struct {
	pool *Pool
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(pool *Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

const accountColumns = `address, lamports, owner, executable, data, version, slot`

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(ctx context.Context, address solana.Address) (_ *domain.Account, err error) {
	defer func(start time.Time) { observe("get_account", start, err) }(time.Now())

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`

	acc, err := scanAccount(s.pool.QueryRow(ctx, query, address[:]))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// GetMany retrieves the accounts that exist among addresses.
func (s *AccountStore) GetMany(ctx context.Context, addresses []solana.Address) (_ map[solana.Address]*domain.Account, err error) {
	defer func(start time.Time) { observe("get_accounts", start, err) }(time.Now())

	result := make(map[solana.Address]*domain.Account, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	keys := make([][]byte, len(addresses))
	for i := range addresses {
		keys[i] = addresses[i][:]
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = ANY($1)`
	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result[acc.Address] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}

// ListByOwner retrieves all accounts owned by a program, ordered by address.
func (s *AccountStore) ListByOwner(ctx context.Context, owner solana.Address) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner = $1 ORDER BY address ASC`

	rows, err := s.pool.Query(ctx, query, owner[:])
	if err != nil {
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	defer rows.Close()

	var result []*domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}

// Commit applies a batch atomically with optimistic version checks.
func (s *AccountStore) Commit(ctx context.Context, batch *storage.CommitBatch) (err error) {
	defer func(start time.Time) { observe("commit", start, err) }(time.Now())

	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	return s.pool.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO processed_signatures (signature, slot) VALUES ($1, $2)`,
			batch.Signature[:], int64(batch.Slot),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert signature: %w", err)
		}

		for _, w := range batch.Writes {
			if err := applyWrite(ctx, tx, w, batch.Slot); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyWrite(ctx context.Context, tx pgx.Tx, w storage.AccountWrite, slot uint64) error {
	acc := w.Account
	expected := int64(w.ExpectedVersion)

	var affected int64
	switch {
	case w.Delete && w.ExpectedVersion == 0:
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE address = $1)`, acc.Address[:]).Scan(&exists); err != nil {
			return fmt.Errorf("check account: %w", err)
		}
		if exists {
			return storage.ErrConflict
		}
		return nil

	case w.Delete:
		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE address = $1 AND version = $2`, acc.Address[:], expected)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		affected = tag.RowsAffected()

	case w.ExpectedVersion == 0:
		tag, err := tx.Exec(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, 1, $6)
			ON CONFLICT (address) DO NOTHING
		`, acc.Address[:], int64(acc.Lamports), acc.Owner[:], acc.Executable, nonNilData(acc.Data), int64(slot))
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		affected = tag.RowsAffected()

	default:
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET lamports = $2, owner = $3, executable = $4, data = $5, version = version + 1, slot = $6
			WHERE address = $1 AND version = $7
		`, acc.Address[:], int64(acc.Lamports), acc.Owner[:], acc.Executable, nonNilData(acc.Data), int64(slot), expected)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		affected = tag.RowsAffected()
	}

	if affected != 1 {
		return storage.ErrConflict
	}
	return nil
}

// LastCommitted returns the most recent commit. Returns ErrNotFound on an empty ledger.
func (s *AccountStore) LastCommitted(ctx context.Context) (*storage.CommitProgress, error) {
	query := `SELECT slot, signature FROM processed_signatures ORDER BY slot DESC LIMIT 1`

	var slot int64
	var sig []byte
	if err := s.pool.QueryRow(ctx, query).Scan(&slot, &sig); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last committed: %w", err)
	}

	progress := &storage.CommitProgress{Slot: uint64(slot)}
	copy(progress.Signature[:], sig)
	return progress, nil
}

// IsProcessed reports whether a transaction signature has been committed.
func (s *AccountStore) IsProcessed(ctx context.Context, signature solana.Signature) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_signatures WHERE signature = $1)`,
		signature[:],
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signature: %w", err)
	}
	return exists, nil
}

// scanAccount scans a single account row.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var address, owner, data []byte
	var lamports, version, slot int64
	var executable bool

	if err := row.Scan(&address, &lamports, &owner, &executable, &data, &version, &slot); err != nil {
		return nil, err
	}

	acc := &domain.Account{
		Lamports:   uint64(lamports),
		Executable: executable,
		Data:       data,
		Version:    uint64(version),
		Slot:       uint64(slot),
	}
	var err error
	if acc.Address, err = solana.AddressFromBytes(address); err != nil {
		return nil, err
	}
	if acc.Owner, err = solana.AddressFromBytes(owner); err != nil {
		return nil, err
	}
	return acc, nil
}

func nonNilData(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}
