package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
)

// ComputeSaleEventID computes a deterministic event id using SHA256.
// Formula: SHA256(kind|sale|tx_signature|instruction_index)
// Returns hex-encoded hash (64 characters).
func ComputeSaleEventID(
	kind domain.SaleEventKind,
	sale solana.Address,
	signature solana.Signature,
	instructionIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		string(kind),
		sale.String(),
		signature.String(),
		instructionIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
