package solana

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 32

// Address is a ledger account address: an ed25519 public key or a
// program derived address. Text form is base58 (Bitcoin alphabet).
type Address [AddressLength]byte

// Well-known program and sysvar addresses.
var (
	SystemProgramID = MustParseAddress("11111111111111111111111111111111")
	TokenProgramID  = MustParseAddress("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	SysVarRentID    = MustParseAddress("SysvarRent111111111111111111111111111111111")
)

// AddressFromBytes copies b into an Address. b must be exactly 32 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("invalid address length: %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	decoded, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("decode address %q: %w", s, err)
	}
	return AddressFromBytes(decoded)
}

// MustParseAddress is like ParseAddress but panics on error.
// Intended for constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 encoding of the address.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is all zeroes.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Compare orders addresses bytewise.
func (a Address) Compare(b Address) int {
	return bytes.Compare(a[:], b[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON encodes the address as a base58 JSON string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a base58 JSON string.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}
