package ledger

import "github.com/holiman/uint256"

// CheckedMul returns a*b, or ErrArithmeticOverflow if it does not fit in u64.
func CheckedMul(a, b uint64) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !product.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return product.Uint64(), nil
}

// CheckedAdd returns a+b, or ErrArithmeticOverflow if it does not fit in u64.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum := new(uint256.Int).Add(uint256.NewInt(a), uint256.NewInt(b))
	if !sum.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return sum.Uint64(), nil
}

// CheckedSub returns a-b, or ErrArithmeticOverflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

// sumLamports adds balances in 256-bit space so conservation checks cannot wrap.
func sumLamports(balances []uint64) *uint256.Int {
	total := new(uint256.Int)
	for _, b := range balances {
		total.Add(total, uint256.NewInt(b))
	}
	return total
}
