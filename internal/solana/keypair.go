package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// SignatureLength is the size of an ed25519 signature.
const SignatureLength = 64

// Signature is an ed25519 signature over a serialized message.
type Signature [SignatureLength]byte

// String returns the base58 encoding of the signature.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports whether the signature is unset.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// ParseSignature decodes a base58 signature.
func ParseSignature(str string) (Signature, error) {
	var sig Signature
	decoded, err := base58.Decode(str)
	if err != nil {
		return sig, fmt.Errorf("decode signature: %w", err)
	}
	if len(decoded) != SignatureLength {
		return sig, fmt.Errorf("invalid signature length: %d", len(decoded))
	}
	copy(sig[:], decoded)
	return sig, nil
}

// MarshalJSON encodes the signature as a base58 JSON string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a base58 JSON string.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Keypair holds an ed25519 signing key.
type Keypair struct {
	priv ed25519.PrivateKey
}

// NewKeypair generates a random keypair.
func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{priv: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length: %d", len(seed))
	}
	return &Keypair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Address returns the public key as an Address.
func (k *Keypair) Address() Address {
	var a Address
	copy(a[:], k.priv.Public().(ed25519.PublicKey))
	return a
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

// Verify reports whether sig is a valid signature of message by addr.
// Program derived addresses never verify.
func Verify(addr Address, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(addr[:]), message, sig[:])
}
