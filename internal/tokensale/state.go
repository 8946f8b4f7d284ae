package tokensale

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"solana-token-sale/internal/solana"
)

// Account sizes including the 8-byte discriminator.
const (
	TokenSaleSize     = 8 + 32 + 32 + 8 + 8 + 1
	WhitelistDataSize = 8 + 1
)

// Account discriminators.
var (
	TokenSaleDiscriminator     = discriminator("account", "TokenSale")
	WhitelistDataDiscriminator = discriminator("account", "WhitelistData")
)

func discriminator(namespace, name string) [8]byte {
	var d [8]byte
	copy(d[:], bin.Sighash(namespace, name))
	return d
}

// TokenSale is the sale record. Only Ended changes after initialize: end_sale
// sets it, and it is never cleared.
type TokenSale struct {
	Seller        solana.Address `json:"seller"`
	Escrow        solana.Address `json:"escrow"`
	UnitPrice     uint64         `json:"unitPrice"`
	PurchaseLimit uint64         `json:"purchaseLimit"`
	Ended         bool           `json:"ended"`
}

// MarshalBinary encodes the record with its discriminator.
func (s *TokenSale) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Grow(TokenSaleSize)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(TokenSaleDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(s.Seller[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(s.Escrow[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(s.UnitPrice, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(s.PurchaseLimit, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(s.Ended); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTokenSale decodes a sale record, checking the discriminator.
func DecodeTokenSale(data []byte) (*TokenSale, error) {
	dec, err := checkDiscriminator(data, TokenSaleDiscriminator)
	if err != nil {
		return nil, err
	}
	var s TokenSale
	if s.Seller, err = readAddress(dec); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	if s.Escrow, err = readAddress(dec); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	if s.UnitPrice, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	if s.PurchaseLimit, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	if s.Ended, err = dec.ReadBool(); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	return &s, nil
}

// WhitelistData is a buyer's whitelist entry. Its existence grants access.
type WhitelistData struct {
	IsWhitelisted bool `json:"isWhitelisted"`
}

// MarshalBinary encodes the entry with its discriminator.
func (w *WhitelistData) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(WhitelistDataDiscriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(w.IsWhitelisted); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWhitelistData decodes a whitelist entry, checking the discriminator.
func DecodeWhitelistData(data []byte) (*WhitelistData, error) {
	dec, err := checkDiscriminator(data, WhitelistDataDiscriminator)
	if err != nil {
		return nil, err
	}
	var w WhitelistData
	if w.IsWhitelisted, err = dec.ReadBool(); err != nil {
		return nil, ErrAccountDidNotDeserialize
	}
	return &w, nil
}

func checkDiscriminator(data []byte, want [8]byte) (*bin.Decoder, error) {
	if len(data) < 8 {
		return nil, ErrAccountDiscriminatorNotFound
	}
	if !bytes.Equal(data[:8], want[:]) {
		return nil, ErrAccountDiscriminatorMismatch
	}
	return bin.NewBorshDecoder(data[8:]), nil
}

func readAddress(dec *bin.Decoder) (solana.Address, error) {
	var a solana.Address
	raw, err := dec.ReadBytes(solana.AddressLength)
	if err != nil {
		return a, err
	}
	copy(a[:], raw)
	return a, nil
}
