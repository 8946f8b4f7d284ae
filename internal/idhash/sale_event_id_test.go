package idhash

import (
	"testing"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
)

func TestComputeSaleEventID(t *testing.T) {
	sale := solana.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	var sig solana.Signature
	sig[0] = 1

	tests := []struct {
		name  string
		kind  domain.SaleEventKind
		index int
	}{
		{name: "initialized", kind: domain.SaleEventInitialized, index: 0},
		{name: "purchase second instruction", kind: domain.SaleEventTokensPurchased, index: 1},
		{name: "ended", kind: domain.SaleEventEnded, index: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSaleEventID(tt.kind, sale, sig, tt.index)
			if len(got) != 64 {
				t.Errorf("ComputeSaleEventID() length = %d, want 64", len(got))
			}

			got2 := ComputeSaleEventID(tt.kind, sale, sig, tt.index)
			if got != got2 {
				t.Errorf("ComputeSaleEventID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeSaleEventID_DifferentInputs(t *testing.T) {
	sale := solana.MustParseAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	other := solana.MustParseAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	var sig, otherSig solana.Signature
	sig[0] = 1
	otherSig[0] = 2

	base := ComputeSaleEventID(domain.SaleEventTokensPurchased, sale, sig, 0)

	if base == ComputeSaleEventID(domain.SaleEventEnded, sale, sig, 0) {
		t.Error("Different kind should produce different hash")
	}
	if base == ComputeSaleEventID(domain.SaleEventTokensPurchased, other, sig, 0) {
		t.Error("Different sale should produce different hash")
	}
	if base == ComputeSaleEventID(domain.SaleEventTokensPurchased, sale, otherSig, 0) {
		t.Error("Different signature should produce different hash")
	}
	if base == ComputeSaleEventID(domain.SaleEventTokensPurchased, sale, sig, 1) {
		t.Error("Different instruction index should produce different hash")
	}
}
