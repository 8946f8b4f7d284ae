package domain

import "solana-token-sale/internal/solana"

// SaleEventKind represents the lifecycle step a sale event records.
type SaleEventKind string

const (
	SaleEventInitialized      SaleEventKind = "SALE_INITIALIZED"
	SaleEventBuyerWhitelisted SaleEventKind = "BUYER_WHITELISTED"
	SaleEventTokensPurchased  SaleEventKind = "TOKENS_PURCHASED"
	SaleEventEnded            SaleEventKind = "SALE_ENDED"
)

// String returns the string representation of SaleEventKind.
func (k SaleEventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k SaleEventKind) IsValid() bool {
	switch k {
	case SaleEventInitialized, SaleEventBuyerWhitelisted, SaleEventTokensPurchased, SaleEventEnded:
		return true
	}
	return false
}

// SaleEvent is an append-only record of a committed sale operation.
// Events are only produced by transactions that committed.
type SaleEvent struct {
	ID               string           `json:"id"`                // deterministic hash, see idhash.ComputeSaleEventID
	Kind             SaleEventKind    `json:"kind"`              // lifecycle step
	Sale             solana.Address   `json:"sale"`              // sale record address
	Seller           solana.Address   `json:"seller"`            // seller identity
	Buyer            solana.Address   `json:"buyer"`             // zero unless Kind is whitelist or purchase
	Escrow           solana.Address   `json:"escrow"`            // escrow token account
	Tokens           uint64           `json:"tokens"`            // tokens moved (purchase amount or drained balance)
	Lamports         uint64           `json:"lamports"`          // lamports paid to the seller
	UnitPrice        uint64           `json:"unit_price"`        // price per token at sale creation
	Signature        solana.Signature `json:"signature"`         // transaction signature
	InstructionIndex int              `json:"instruction_index"` // index within transaction
	Slot             uint64           `json:"slot"`              // slot the transaction committed in
	Timestamp        int64            `json:"timestamp"`         // Unix timestamp in milliseconds
}
