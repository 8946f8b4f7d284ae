package ledger

import (
	"context"
	"hash/maphash"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v2"
	"golang.org/x/sync/semaphore"

	"solana-token-sale/internal/solana"
)

// writeWeight is the semaphore weight of an exclusive lock. Shared locks take 1.
const writeWeight = 1 << 20

// lockTable hands out per-account reader/writer locks. Writable accounts are
// locked exclusively, read-only accounts shared. Locks are always taken in
// address order so two transactions cannot deadlock.
type lockTable struct {
	locks *xsync.MapOf[solana.Address, *semaphore.Weighted]
}

func newLockTable() *lockTable {
	return &lockTable{
		locks: xsync.NewTypedMapOf[solana.Address, *semaphore.Weighted](hashAddress),
	}
}

func hashAddress(seed maphash.Seed, a solana.Address) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	h.Write(a[:])
	return h.Sum64()
}

type heldLock struct {
	sem    *semaphore.Weighted
	weight int64
}

// accountLocks is the set of locks held by one transaction.
type accountLocks struct {
	held []heldLock
	wait time.Duration
}

// acquire locks every key in address order. On error nothing stays locked.
func (t *lockTable) acquire(ctx context.Context, keys []AccountMeta) (*accountLocks, error) {
	sorted := make([]AccountMeta, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Address.Compare(sorted[j].Address) < 0
	})

	start := time.Now()
	locks := &accountLocks{held: make([]heldLock, 0, len(sorted))}
	for _, key := range sorted {
		sem, _ := t.locks.LoadOrCompute(key.Address, func() *semaphore.Weighted {
			return semaphore.NewWeighted(writeWeight)
		})
		weight := int64(1)
		if key.IsWritable {
			weight = writeWeight
		}
		if err := sem.Acquire(ctx, weight); err != nil {
			locks.release()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		locks.held = append(locks.held, heldLock{sem: sem, weight: weight})
	}
	locks.wait = time.Since(start)
	return locks, nil
}

// release unlocks in reverse acquisition order.
func (l *accountLocks) release() {
	for i := len(l.held) - 1; i >= 0; i-- {
		l.held[i].sem.Release(l.held[i].weight)
	}
	l.held = nil
}
