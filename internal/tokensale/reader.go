package tokensale

import (
	"bytes"
	"context"

	"github.com/go-faster/errors"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
)

// AccountSource is the read side of an account store. Get must return
// storage.ErrNotFound for missing accounts.
type AccountSource interface {
	Get(ctx context.Context, address solana.Address) (*domain.Account, error)
	ListByOwner(ctx context.Context, owner solana.Address) ([]*domain.Account, error)
}

// SaleStatus is the lifecycle state of a sale as observed from the ledger.
type SaleStatus string

const (
	SaleActive SaleStatus = "active"
	SaleEnded  SaleStatus = "ended"
)

// SaleView is a read-only projection of a sale record and its escrow.
type SaleView struct {
	Address       solana.Address `json:"address"`
	Authority     solana.Address `json:"authority"`
	Seller        solana.Address `json:"seller"`
	Escrow        solana.Address `json:"escrow"`
	Mint          solana.Address `json:"mint"`
	UnitPrice     uint64         `json:"unit_price"`
	PurchaseLimit uint64         `json:"purchase_limit"`
	Remaining     uint64         `json:"remaining"`
	Status        SaleStatus     `json:"status"`
	Slot          uint64         `json:"slot"`
}

// Reader resolves sale state from an account store without going through the
// runtime. Reads see the last committed state.
type Reader struct {
	store   AccountSource
	program *Program
}

// NewReader creates a Reader for program over store.
func NewReader(store AccountSource, program *Program) *Reader {
	return &Reader{store: store, program: program}
}

// Sale returns the sale created by seller. Returns storage.ErrNotFound if the
// seller never initialized one.
func (r *Reader) Sale(ctx context.Context, seller solana.Address) (*SaleView, error) {
	addr, _, err := r.program.SaleAddress(seller)
	if err != nil {
		return nil, errors.Wrap(err, "derive sale address")
	}
	acc, err := r.store.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != r.program.ID() {
		return nil, storage.ErrNotFound
	}
	sale, err := DecodeTokenSale(acc.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode sale %s", addr)
	}
	return r.view(ctx, addr, acc.Slot, sale)
}

// Sales returns every sale record owned by the program, ordered by address.
func (r *Reader) Sales(ctx context.Context) ([]*SaleView, error) {
	accounts, err := r.store.ListByOwner(ctx, r.program.ID())
	if err != nil {
		return nil, errors.Wrap(err, "list program accounts")
	}
	var views []*SaleView
	for _, acc := range accounts {
		if len(acc.Data) < 8 || !bytes.Equal(acc.Data[:8], TokenSaleDiscriminator[:]) {
			continue
		}
		sale, err := DecodeTokenSale(acc.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode sale %s", acc.Address)
		}
		v, err := r.view(ctx, acc.Address, acc.Slot, sale)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// IsWhitelisted reports whether buyer holds a whitelist entry for the sale
// created by seller.
func (r *Reader) IsWhitelisted(ctx context.Context, seller, buyer solana.Address) (bool, error) {
	sale, _, err := r.program.SaleAddress(seller)
	if err != nil {
		return false, errors.Wrap(err, "derive sale address")
	}
	addr, _, err := r.program.WhitelistAddress(sale, buyer)
	if err != nil {
		return false, errors.Wrap(err, "derive whitelist address")
	}
	acc, err := r.store.Get(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if acc.Owner != r.program.ID() {
		return false, nil
	}
	if _, err := DecodeWhitelistData(acc.Data); err != nil {
		return false, errors.Wrapf(err, "decode whitelist entry %s", addr)
	}
	return true, nil
}

func (r *Reader) view(ctx context.Context, addr solana.Address, slot uint64, sale *TokenSale) (*SaleView, error) {
	authority, _, err := r.program.AuthorityAddress(addr)
	if err != nil {
		return nil, errors.Wrap(err, "derive authority address")
	}
	v := &SaleView{
		Address:       addr,
		Authority:     authority,
		Seller:        sale.Seller,
		Escrow:        sale.Escrow,
		UnitPrice:     sale.UnitPrice,
		PurchaseLimit: sale.PurchaseLimit,
		Status:        SaleEnded,
		Slot:          slot,
	}
	if sale.Ended {
		return v, nil
	}

	escrow, err := r.store.Get(ctx, sale.Escrow)
	if errors.Is(err, storage.ErrNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get escrow")
	}
	if escrow.Owner != solana.TokenProgramID {
		return v, nil
	}
	tok, err := solana.DecodeTokenAccount(escrow.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode escrow %s", sale.Escrow)
	}
	v.Mint = tok.Mint
	v.Remaining = tok.Amount
	if tok.Owner == authority {
		v.Status = SaleActive
	}
	return v, nil
}
