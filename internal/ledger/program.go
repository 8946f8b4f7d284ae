package ledger

import "solana-token-sale/internal/solana"

// Program is an on-ledger program. Process runs one instruction against the
// accounts the instruction names, in instruction order. Returning an error
// aborts the whole transaction.
type Program interface {
	ID() solana.Address
	Name() string
	Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error
}
