package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/idhash"
	"solana-token-sale/internal/observability"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// DefaultLockTimeout bounds how long a transaction waits for account locks.
const DefaultLockTimeout = 5 * time.Second

// EventSink receives sale events after the transaction that produced them
// committed. Delivery failures are logged and never undo the commit.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, events []*domain.SaleEvent) error
}

// Receipt is the outcome of one transaction.
type Receipt struct {
	Signature solana.Signature    `json:"signature"`
	Slot      uint64              `json:"slot"`
	Committed bool                `json:"committed"`
	Err       error               `json:"-"`
	Logs      []string            `json:"logs"`
	Events    []*domain.SaleEvent `json:"events,omitempty"`
}

// Runtime executes transactions atomically against an AccountStore. Each
// transaction either commits all of its account changes or none of them.
type Runtime struct {
	store       storage.AccountStore
	logger      *zap.Logger
	programs    map[solana.Address]Program
	sinks       []EventSink
	rent        Rent
	now         func() time.Time
	lockTimeout time.Duration
	faucetLimit uint64

	locks   *lockTable
	slot    atomic.Uint64
	airdrop atomic.Uint64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithPrograms registers programs next to the builtin system and token programs.
func WithPrograms(programs ...Program) Option {
	return func(r *Runtime) {
		for _, p := range programs {
			r.programs[p.ID()] = p
		}
	}
}

// WithEventSinks adds sinks that receive committed sale events.
func WithEventSinks(sinks ...EventSink) Option {
	return func(r *Runtime) { r.sinks = append(r.sinks, sinks...) }
}

// WithRent overrides the rent parameters.
func WithRent(rent Rent) Option {
	return func(r *Runtime) { r.rent = rent }
}

// WithClock overrides the block time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithLockTimeout sets how long a transaction waits for account locks.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.lockTimeout = d }
}

// WithFaucet enables Airdrop with a per-request lamport limit.
func WithFaucet(limit uint64) Option {
	return func(r *Runtime) { r.faucetLimit = limit }
}

// NewRuntime creates a runtime over store. Slots continue from the last
// committed transaction.
func NewRuntime(ctx context.Context, store storage.AccountStore, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		store:       store,
		logger:      zap.NewNop(),
		programs:    make(map[solana.Address]Program),
		rent:        DefaultRent(),
		now:         time.Now,
		lockTimeout: DefaultLockTimeout,
		locks:       newLockTable(),
	}
	r.programs[solana.SystemProgramID] = SystemProgram{}
	r.programs[solana.TokenProgramID] = TokenProgram{}
	for _, opt := range opts {
		opt(r)
	}

	progress, err := store.LastCommitted(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load last committed slot: %w", err)
	default:
		r.slot.Store(progress.Slot)
	}
	return r, nil
}

// Store returns the underlying account store.
func (r *Runtime) Store() storage.AccountStore { return r.store }

// Rent returns the rent parameters in effect.
func (r *Runtime) Rent() Rent { return r.rent }

// Slot returns the most recently assigned slot.
func (r *Runtime) Slot() uint64 { return r.slot.Load() }

// Program returns a registered program by id.
func (r *Runtime) Program(id solana.Address) (Program, bool) {
	p, ok := r.programs[id]
	return p, ok
}

// Execute runs tx. The receipt is returned even when the transaction fails;
// its Err equals the returned error.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	start := time.Now()
	receipt := &Receipt{Signature: tx.ID()}

	err := r.execute(ctx, tx, receipt)
	receipt.Err = err

	status := "committed"
	switch {
	case err == nil:
	case receipt.Slot == 0:
		status = "rejected"
	default:
		status = "failed"
	}
	observability.RecordTransaction(status, time.Since(start))

	if err != nil {
		r.logger.Info("transaction not committed",
			zap.Stringer("signature", receipt.Signature),
			zap.String("status", status),
			zap.Error(err),
		)
		return receipt, err
	}
	r.logger.Debug("transaction committed",
		zap.Stringer("signature", receipt.Signature),
		zap.Uint64("slot", receipt.Slot),
		zap.Int("events", len(receipt.Events)),
	)
	return receipt, nil
}

func (r *Runtime) execute(ctx context.Context, tx *Transaction, receipt *Receipt) error {
	if len(tx.Message.Instructions) == 0 {
		return ErrEmptyTransaction
	}
	keys := tx.Message.AccountKeys()
	if len(keys) > MaxTransactionAccounts {
		return ErrTooManyAccounts
	}
	if err := tx.VerifySignatures(); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	held, err := r.locks.acquire(lockCtx, keys)
	cancel()
	if err != nil {
		return err
	}
	defer held.release()
	observability.RecordLockWait(held.wait)

	sig := tx.ID()
	processed, err := r.store.IsProcessed(ctx, sig)
	if err != nil {
		return fmt.Errorf("check processed signature: %w", err)
	}
	if processed {
		return ErrAlreadyProcessed
	}

	accounts, err := r.load(ctx, keys)
	if err != nil {
		return err
	}

	slot := r.slot.Add(1)
	now := r.now()
	receipt.Slot = slot

	ic := &InvokeContext{
		programs: r.programs,
		accounts: accounts,
		rent:     r.rent,
		slot:     slot,
		now:      now,
	}
	for i, ix := range tx.Message.Instructions {
		if err := ic.processInstruction(i, ix); err != nil {
			receipt.Logs = ic.logs
			r.recordInstructionError(ix.ProgramID, err)
			return &InstructionError{Index: i, Err: err}
		}
	}
	receipt.Logs = ic.logs

	writes, err := r.collectWrites(keys, accounts, slot)
	if err != nil {
		return err
	}
	batch := &storage.CommitBatch{Signature: sig, Slot: slot, Writes: writes}
	if err := r.commit(ctx, batch); err != nil {
		return err
	}
	observability.UpdateLastCommittedSlot(slot)

	receipt.Committed = true
	receipt.Events = r.finalizeEvents(ic.events, sig, slot, now)
	r.publish(ctx, receipt.Events)
	return nil
}

// load builds the working set. Registered programs and the rent sysvar are
// materialized as read-only virtual accounts.
func (r *Runtime) load(ctx context.Context, keys []AccountMeta) (map[solana.Address]*workingAccount, error) {
	accounts := make(map[solana.Address]*workingAccount, len(keys))
	addresses := make([]solana.Address, 0, len(keys))
	for _, key := range keys {
		switch {
		case r.isProgram(key.Address):
			accounts[key.Address] = virtualAccount(key.Address, NativeLoaderID, true, nil)
		case key.Address == solana.SysVarRentID:
			accounts[key.Address] = virtualAccount(key.Address, SysvarOwnerID, false, rentSysvarData(r.rent))
		default:
			addresses = append(addresses, key.Address)
		}
	}

	stored, err := r.store.GetMany(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	for _, addr := range addresses {
		accounts[addr] = newWorkingAccount(addr, stored[addr])
	}
	return accounts, nil
}

func (r *Runtime) isProgram(addr solana.Address) bool {
	_, ok := r.programs[addr]
	return ok
}

func virtualAccount(addr, owner solana.Address, executable bool, data []byte) *workingAccount {
	acc := &domain.Account{Address: addr, Lamports: 1, Owner: owner, Executable: executable, Data: data}
	return &workingAccount{state: acc, original: acc.Clone(), existed: true, virtual: true}
}

// collectWrites turns changed writable accounts into a write set. Accounts
// left with zero lamports are deleted; accounts holding data must stay rent
// exempt.
func (r *Runtime) collectWrites(keys []AccountMeta, accounts map[solana.Address]*workingAccount, slot uint64) ([]storage.AccountWrite, error) {
	var writes []storage.AccountWrite
	for _, key := range keys {
		w := accounts[key.Address]
		if w.virtual || !w.changed() {
			continue
		}
		if !key.IsWritable {
			return nil, fmt.Errorf("%w: account %s", ErrReadonlyDataModified, key.Address)
		}

		var expected uint64
		if w.existed {
			expected = w.original.Version
		}
		if w.state.Lamports == 0 {
			if w.existed {
				writes = append(writes, storage.AccountWrite{Account: w.state, ExpectedVersion: expected, Delete: true})
			}
			continue
		}
		if len(w.state.Data) > 0 && !r.rent.IsExempt(w.state.Lamports, len(w.state.Data)) {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFundsForRent, key.Address)
		}

		acc := w.state.Clone()
		acc.Slot = slot
		writes = append(writes, storage.AccountWrite{Account: acc, ExpectedVersion: expected})
	}
	return writes, nil
}

func (r *Runtime) commit(ctx context.Context, batch *storage.CommitBatch) error {
	err := r.store.Commit(ctx, batch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrConflict):
		observability.RecordCommitConflict()
		return ErrConflict
	case errors.Is(err, storage.ErrDuplicateKey):
		return ErrAlreadyProcessed
	default:
		return fmt.Errorf("commit: %w", err)
	}
}

func (r *Runtime) finalizeEvents(pending []pendingEvent, sig solana.Signature, slot uint64, now time.Time) []*domain.SaleEvent {
	if len(pending) == 0 {
		return nil
	}
	events := make([]*domain.SaleEvent, len(pending))
	for i, pe := range pending {
		ev := pe.event
		ev.Signature = sig
		ev.InstructionIndex = pe.instructionIndex
		ev.Slot = slot
		ev.Timestamp = now.UnixMilli()
		ev.ID = idhash.ComputeSaleEventID(ev.Kind, ev.Sale, sig, pe.instructionIndex)
		events[i] = ev
		observability.RecordSaleEvent(ev.Kind.String(), ev.Tokens, ev.Lamports)
	}
	return events
}

// publish delivers events to every sink. The transaction is already committed,
// so a failing sink is only logged.
func (r *Runtime) publish(ctx context.Context, events []*domain.SaleEvent) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			observability.RecordPublishError(sink.Name())
			r.logger.Warn("publish sale events",
				zap.String("sink", sink.Name()),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
}

func (r *Runtime) recordInstructionError(programID solana.Address, err error) {
	if pe, ok := AsProgramError(err); ok {
		observability.RecordInstructionError(pe.Program, pe.Name)
		return
	}
	name := programID.String()
	if p, ok := r.programs[programID]; ok {
		name = p.Name()
	}
	observability.RecordInstructionError(name, "runtime")
}
