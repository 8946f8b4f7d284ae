package solana

import "context"

// RPCClient is the read-only JSON-RPC surface used to inspect sale accounts on a
// live cluster.
type RPCClient interface {
	// GetAccountInfo returns the account at address, or nil if it does not exist.
	GetAccountInfo(ctx context.Context, address Address) (*AccountInfo, error)

	// GetBalance returns the lamport balance of address.
	GetBalance(ctx context.Context, address Address) (uint64, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (int64, error)
}

// AccountInfo is a decoded getAccountInfo result.
type AccountInfo struct {
	Lamports   uint64
	Owner      Address
	Data       []byte
	Executable bool
	RentEpoch  uint64
}
