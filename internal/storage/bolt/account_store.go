package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

var (
	bucketAccounts   = []byte("accounts")
	bucketOwnerIndex = []byte("accounts_by_owner")
	bucketSignatures = []byte("signatures")
	bucketMeta       = []byte("meta")

	keyLastCommitted = []byte("last_committed")
)

// AccountStore implements storage.AccountStore on a bbolt database.
// One bbolt write transaction per Commit gives all-or-nothing batches.
type AccountStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ storage.AccountStore = (*AccountStore)(nil)

// Open opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func Open(dbPath string) (*AccountStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketOwnerIndex, bucketSignatures, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create buckets: %w", err)
	}

	return &AccountStore{db: db}, nil
}

// Close closes the underlying database.
func (s *AccountStore) Close() error { return s.db.Close() }

// Get retrieves an account by address. Returns ErrNotFound if not exists.
func (s *AccountStore) Get(_ context.Context, address solana.Address) (*domain.Account, error) {
	var acc *domain.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = loadAccount(tx, address)
		return err
	})
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, storage.ErrNotFound
	}
	return acc, nil
}

// GetMany retrieves the accounts that exist among addresses.
func (s *AccountStore) GetMany(_ context.Context, addresses []solana.Address) (map[solana.Address]*domain.Account, error) {
	result := make(map[solana.Address]*domain.Account, len(addresses))
	err := s.db.View(func(tx *bbolt.Tx) error {
		for _, addr := range addresses {
			acc, err := loadAccount(tx, addr)
			if err != nil {
				return err
			}
			if acc != nil {
				result[addr] = acc
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByOwner retrieves all accounts owned by a program, ordered by address.
func (s *AccountStore) ListByOwner(_ context.Context, owner solana.Address) ([]*domain.Account, error) {
	var result []*domain.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketOwnerIndex).Cursor()
		prefix := owner[:]
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			addr, err := solana.AddressFromBytes(k[solana.AddressLength:])
			if err != nil {
				return fmt.Errorf("decode owner index key: %w", err)
			}
			acc, err := loadAccount(tx, addr)
			if err != nil {
				return err
			}
			if acc != nil {
				result = append(result, acc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Commit applies a batch in a single bbolt write transaction.
func (s *AccountStore) Commit(_ context.Context, batch *storage.CommitBatch) error {
	if err := storage.ValidateBatch(batch); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		sigs := tx.Bucket(bucketSignatures)
		if sigs.Get(batch.Signature[:]) != nil {
			return storage.ErrDuplicateKey
		}

		accounts := tx.Bucket(bucketAccounts)
		index := tx.Bucket(bucketOwnerIndex)

		for _, w := range batch.Writes {
			current, err := loadAccount(tx, w.Account.Address)
			if err != nil {
				return err
			}
			var version uint64
			if current != nil {
				version = current.Version
			}
			if version != w.ExpectedVersion {
				return storage.ErrConflict
			}

			if current != nil {
				if err := index.Delete(ownerKey(current.Owner, current.Address)); err != nil {
					return fmt.Errorf("delete owner index: %w", err)
				}
			}
			if w.Delete {
				if err := accounts.Delete(w.Account.Address[:]); err != nil {
					return fmt.Errorf("delete account: %w", err)
				}
				continue
			}

			acc := w.Account.Clone()
			acc.Version = w.ExpectedVersion + 1
			acc.Slot = batch.Slot
			data, err := encodeGob(acc)
			if err != nil {
				return fmt.Errorf("encode account: %w", err)
			}
			if err := accounts.Put(acc.Address[:], data); err != nil {
				return fmt.Errorf("put account: %w", err)
			}
			if err := index.Put(ownerKey(acc.Owner, acc.Address), nil); err != nil {
				return fmt.Errorf("put owner index: %w", err)
			}
		}

		if err := sigs.Put(batch.Signature[:], slotKey(batch.Slot)); err != nil {
			return fmt.Errorf("put signature: %w", err)
		}

		meta := tx.Bucket(bucketMeta)
		if last := meta.Get(keyLastCommitted); last == nil || binary.BigEndian.Uint64(last[:8]) <= batch.Slot {
			value := append(slotKey(batch.Slot), batch.Signature[:]...)
			if err := meta.Put(keyLastCommitted, value); err != nil {
				return fmt.Errorf("put last committed: %w", err)
			}
		}
		return nil
	})
}

// LastCommitted returns the most recent commit. Returns ErrNotFound on an empty ledger.
func (s *AccountStore) LastCommitted(_ context.Context) (*storage.CommitProgress, error) {
	var progress *storage.CommitProgress
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketMeta).Get(keyLastCommitted)
		if value == nil {
			return storage.ErrNotFound
		}
		if len(value) != 8+solana.SignatureLength {
			return fmt.Errorf("corrupt last committed record: %d bytes", len(value))
		}
		progress = &storage.CommitProgress{Slot: binary.BigEndian.Uint64(value[:8])}
		copy(progress.Signature[:], value[8:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// IsProcessed reports whether a transaction signature has been committed.
func (s *AccountStore) IsProcessed(_ context.Context, signature solana.Signature) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketSignatures).Get(signature[:]) != nil
		return nil
	})
	return found, err
}

func loadAccount(tx *bbolt.Tx, address solana.Address) (*domain.Account, error) {
	data := tx.Bucket(bucketAccounts).Get(address[:])
	if data == nil {
		return nil, nil
	}
	var acc domain.Account
	if err := decodeGob(data, &acc); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", address, err)
	}
	return &acc, nil
}

// ownerKey is owner||address so a prefix scan lists an owner's accounts in address order.
func ownerKey(owner, address solana.Address) []byte {
	k := make([]byte, 0, 2*solana.AddressLength)
	k = append(k, owner[:]...)
	return append(k, address[:]...)
}

// slotKey encodes a slot as 8-byte big-endian.
func slotKey(slot uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, slot)
	return k
}

// encodeGob serializes a value using gob encoding.
func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeGob deserializes gob-encoded data into a value.
func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
