package domain

import "solana-token-sale/internal/solana"

// Account is a ledger account as persisted by an AccountStore.
// Version is bumped on every committed write; 0 means the account does not exist.
type Account struct {
	Address    solana.Address `json:"address"`    // account address
	Lamports   uint64         `json:"lamports"`   // native balance
	Owner      solana.Address `json:"owner"`      // program allowed to mutate data and debit lamports
	Executable bool           `json:"executable"` // true for program accounts
	Data       []byte         `json:"data"`       // program-defined state
	Version    uint64         `json:"version"`    // optimistic concurrency version
	Slot       uint64         `json:"slot"`       // slot of the last committed write
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Data != nil {
		c.Data = make([]byte, len(a.Data))
		copy(c.Data, a.Data)
	}
	return &c
}

// IsEmpty reports whether the account holds no lamports and no data.
// Empty accounts are purged at commit.
func (a *Account) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}
