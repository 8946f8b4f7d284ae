package ledger

import (
	"bytes"
	"encoding/binary"
	"math"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
)

// Builtin owner addresses for virtual accounts.
var (
	NativeLoaderID = solana.MustParseAddress("NativeLoader1111111111111111111111111111111")
	SysvarOwnerID  = solana.MustParseAddress("Sysvar1111111111111111111111111111111111111")
)

// workingAccount is a transaction-local copy of an account.
type workingAccount struct {
	state    *domain.Account
	original *domain.Account // state at load, for change detection
	existed  bool
	virtual  bool // program and sysvar accounts; never committed
}

func newWorkingAccount(address solana.Address, stored *domain.Account) *workingAccount {
	if stored == nil {
		empty := &domain.Account{Address: address, Owner: solana.SystemProgramID}
		return &workingAccount{state: empty, original: empty.Clone()}
	}
	return &workingAccount{state: stored.Clone(), original: stored.Clone(), existed: true}
}

func (w *workingAccount) changed() bool {
	cur, orig := w.state, w.original
	return cur.Lamports != orig.Lamports ||
		cur.Owner != orig.Owner ||
		cur.Executable != orig.Executable ||
		!bytes.Equal(cur.Data, orig.Data)
}

// AccountInfo is a program's view of an account for one invocation. Several
// AccountInfos for the same address share state.
type AccountInfo struct {
	Key        solana.Address
	IsSigner   bool
	IsWritable bool

	account *workingAccount
}

// Lamports returns the account balance.
func (a *AccountInfo) Lamports() uint64 { return a.account.state.Lamports }

// SetLamports sets the account balance. Ownership rules are checked when the
// invocation returns.
func (a *AccountInfo) SetLamports(v uint64) { a.account.state.Lamports = v }

// Owner returns the owning program.
func (a *AccountInfo) Owner() solana.Address { return a.account.state.Owner }

// Assign changes the owning program.
func (a *AccountInfo) Assign(owner solana.Address) { a.account.state.Owner = owner }

// Executable reports whether the account is a program.
func (a *AccountInfo) Executable() bool { return a.account.state.Executable }

// Data returns the account data. Programs may modify it in place.
func (a *AccountInfo) Data() []byte { return a.account.state.Data }

// SetData replaces the account data.
func (a *AccountInfo) SetData(data []byte) { a.account.state.Data = data }

// IsEmpty reports whether the account holds no lamports and no data.
func (a *AccountInfo) IsEmpty() bool { return a.account.state.IsEmpty() }

// snapshot is the state of an account at the start of an invocation frame.
type snapshot struct {
	lamports   uint64
	owner      solana.Address
	executable bool
	data       []byte
}

func takeSnapshot(w *workingAccount) snapshot {
	data := make([]byte, len(w.state.Data))
	copy(data, w.state.Data)
	return snapshot{
		lamports:   w.state.Lamports,
		owner:      w.state.Owner,
		executable: w.state.Executable,
		data:       data,
	}
}

// rentSysvarData encodes the rent sysvar: lamports_per_byte_year u64 |
// exemption_threshold f64 | burn_percent u8.
func rentSysvarData(r Rent) []byte {
	data := make([]byte, 17)
	binary.LittleEndian.PutUint64(data[0:8], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(data[8:16], math.Float64bits(float64(r.ExemptionThreshold)))
	data[16] = 50
	return data
}
