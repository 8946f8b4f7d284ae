package ledger

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-token-sale/internal/observability"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// Airdrop credits lamports to an account out of thin air. It exists for local
// and test ledgers and is disabled unless the runtime was built WithFaucet.
func (r *Runtime) Airdrop(ctx context.Context, to solana.Address, lamports uint64) (*Receipt, error) {
	if r.faucetLimit == 0 {
		return nil, ErrFaucetDisabled
	}
	if lamports == 0 || lamports > r.faucetLimit {
		return nil, fmt.Errorf("%w: requested %d, limit %d", ErrFaucetLimit, lamports, r.faucetLimit)
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	held, err := r.locks.acquire(lockCtx, []AccountMeta{Meta(to, false, true)})
	cancel()
	if err != nil {
		return nil, err
	}
	defer held.release()

	stored, err := r.store.GetMany(ctx, []solana.Address{to})
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	w := newWorkingAccount(to, stored[to])
	balance, err := CheckedAdd(w.state.Lamports, lamports)
	if err != nil {
		return nil, err
	}

	slot := r.slot.Add(1)
	sig := airdropSignature(to, lamports, slot, r.airdrop.Add(1))
	acc := w.state.Clone()
	acc.Lamports = balance
	acc.Slot = slot

	var expected uint64
	if w.existed {
		expected = w.original.Version
	}
	batch := &storage.CommitBatch{
		Signature: sig,
		Slot:      slot,
		Writes:    []storage.AccountWrite{{Account: acc, ExpectedVersion: expected}},
	}
	if err := r.commit(ctx, batch); err != nil {
		return nil, err
	}
	observability.RecordAirdrop(lamports)
	observability.UpdateLastCommittedSlot(slot)

	r.logger.Debug("airdrop",
		zap.Stringer("to", to),
		zap.Uint64("lamports", lamports),
		zap.Uint64("slot", slot),
	)
	return &Receipt{
		Signature: sig,
		Slot:      slot,
		Committed: true,
		Logs:      []string{fmt.Sprintf("Airdrop: %d lamports to %s", lamports, to)},
	}, nil
}

// airdropSignature derives a unique 64-byte signature for a faucet commit.
func airdropSignature(to solana.Address, lamports, slot, seq uint64) solana.Signature {
	h := sha512.New()
	h.Write([]byte("airdrop"))
	h.Write(to[:])
	var buf [8]byte
	for _, v := range []uint64{lamports, slot, seq, uint64(time.Now().UnixNano())} {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	var sig solana.Signature
	copy(sig[:], h.Sum(nil))
	return sig
}
