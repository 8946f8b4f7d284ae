package ledger

// Rent parameters. An account is rent exempt when it holds at least
// (AccountStorageOverhead + len(data)) * LamportsPerByteYear * ExemptionThreshold.
const (
	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionThreshold     = 2
)

// Rent computes rent-exemption minimums.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  uint64
}

// DefaultRent returns the mainnet rent parameters.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: LamportsPerByteYear, ExemptionThreshold: ExemptionThreshold}
}

// MinimumBalance returns the lamports needed for an account of size bytes to be rent exempt.
func (r Rent) MinimumBalance(size int) uint64 {
	return (AccountStorageOverhead + uint64(size)) * r.LamportsPerByteYear * r.ExemptionThreshold
}

// IsExempt reports whether lamports cover the minimum balance for size bytes.
func (r Rent) IsExempt(lamports uint64, size int) bool {
	return lamports >= r.MinimumBalance(size)
}
