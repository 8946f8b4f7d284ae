package solana

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// SPL token layout sizes.
const (
	TokenAccountSize = 165
	MintSize         = 82
)

// TokenAccountState mirrors the SPL token account state byte.
type TokenAccountState uint8

const (
	TokenAccountUninitialized TokenAccountState = iota
	TokenAccountInitialized
	TokenAccountFrozen
)

// TokenAccount is the SPL token account layout:
// mint(32) | owner(32) | amount(8) | delegate COption(36) | state(1) |
// is_native COption<u64>(12) | delegated_amount(8) | close_authority COption(36).
// Owner is the account's controlling authority.
type TokenAccount struct {
	Mint            Address
	Owner           Address
	Amount          uint64
	Delegate        *Address
	State           TokenAccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *Address
}

// Mint is the SPL mint layout:
// mint_authority COption(36) | supply(8) | decimals(1) | is_initialized(1) |
// freeze_authority COption(36).
type Mint struct {
	MintAuthority   *Address
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *Address
}

// IsInitialized reports whether the token account has been initialized.
func (t *TokenAccount) IsInitialized() bool {
	return t.State != TokenAccountUninitialized
}

// Encode serializes the token account into its 165-byte layout.
func (t *TokenAccount) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	if err := enc.WriteBytes(t.Mint[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(t.Owner[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(t.Amount, bin.LE); err != nil {
		return nil, err
	}
	if err := writeCOptionAddress(enc, t.Delegate); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(uint8(t.State)); err != nil {
		return nil, err
	}
	if err := enc.WriteCOption(t.IsNative != nil); err != nil {
		return nil, err
	}
	var native uint64
	if t.IsNative != nil {
		native = *t.IsNative
	}
	if err := enc.WriteUint64(native, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(t.DelegatedAmount, bin.LE); err != nil {
		return nil, err
	}
	if err := writeCOptionAddress(enc, t.CloseAuthority); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTokenAccount parses a 165-byte SPL token account.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountSize {
		return nil, fmt.Errorf("token account data must be %d bytes, got %d", TokenAccountSize, len(data))
	}
	dec := bin.NewBinDecoder(data)
	var t TokenAccount
	var err error

	if t.Mint, err = readAddress(dec); err != nil {
		return nil, fmt.Errorf("read mint: %w", err)
	}
	if t.Owner, err = readAddress(dec); err != nil {
		return nil, fmt.Errorf("read owner: %w", err)
	}
	if t.Amount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("read amount: %w", err)
	}
	if t.Delegate, err = readCOptionAddress(dec); err != nil {
		return nil, fmt.Errorf("read delegate: %w", err)
	}
	state, err := dec.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	t.State = TokenAccountState(state)
	hasNative, err := dec.ReadCOption()
	if err != nil {
		return nil, fmt.Errorf("read is_native: %w", err)
	}
	native, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("read is_native: %w", err)
	}
	if hasNative {
		t.IsNative = &native
	}
	if t.DelegatedAmount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("read delegated_amount: %w", err)
	}
	if t.CloseAuthority, err = readCOptionAddress(dec); err != nil {
		return nil, fmt.Errorf("read close_authority: %w", err)
	}
	return &t, nil
}

// Encode serializes the mint into its 82-byte layout.
func (m *Mint) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)

	if err := writeCOptionAddress(enc, m.MintAuthority); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(m.Supply, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(m.Decimals); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(m.IsInitialized); err != nil {
		return nil, err
	}
	if err := writeCOptionAddress(enc, m.FreezeAuthority); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMint parses an 82-byte SPL mint.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, fmt.Errorf("mint data must be %d bytes, got %d", MintSize, len(data))
	}
	dec := bin.NewBinDecoder(data)
	var m Mint
	var err error

	if m.MintAuthority, err = readCOptionAddress(dec); err != nil {
		return nil, fmt.Errorf("read mint_authority: %w", err)
	}
	if m.Supply, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("read supply: %w", err)
	}
	if m.Decimals, err = dec.ReadUint8(); err != nil {
		return nil, fmt.Errorf("read decimals: %w", err)
	}
	if m.IsInitialized, err = dec.ReadBool(); err != nil {
		return nil, fmt.Errorf("read is_initialized: %w", err)
	}
	if m.FreezeAuthority, err = readCOptionAddress(dec); err != nil {
		return nil, fmt.Errorf("read freeze_authority: %w", err)
	}
	return &m, nil
}

func readAddress(dec *bin.Decoder) (Address, error) {
	raw, err := dec.ReadBytes(AddressLength)
	if err != nil {
		return Address{}, err
	}
	return AddressFromBytes(raw)
}

func readCOptionAddress(dec *bin.Decoder) (*Address, error) {
	present, err := dec.ReadCOption()
	if err != nil {
		return nil, err
	}
	addr, err := readAddress(dec)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return &addr, nil
}

func writeCOptionAddress(enc *bin.Encoder, addr *Address) error {
	if err := enc.WriteCOption(addr != nil); err != nil {
		return err
	}
	var raw Address
	if addr != nil {
		raw = *addr
	}
	err := enc.WriteBytes(raw[:], false)
	return err
}
