package tokensale_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-sale/internal/storage"
	"solana-token-sale/internal/tokensale"
)

func TestReader_SaleLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t, 100)
	reader := tokensale.NewReader(f.env.Store, f.program)

	_, err := reader.Sale(ctx, f.seller.Address())
	require.ErrorIs(t, err, storage.ErrNotFound)

	f.initialize(2, 20)
	buyer, buyerToken := f.newBuyer(sol)

	ok, err := reader.IsWhitelisted(ctx, f.seller.Address(), buyer.Address())
	require.NoError(t, err)
	assert.False(t, ok)

	f.whitelist(buyer.Address())
	ok, err = reader.IsWhitelisted(ctx, f.seller.Address(), buyer.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.buy(buyer, buyerToken, 15)
	require.NoError(t, err)

	view, err := reader.Sale(ctx, f.seller.Address())
	require.NoError(t, err)
	assert.Equal(t, tokensale.SaleActive, view.Status)
	assert.Equal(t, f.addrs.Sale, view.Address)
	assert.Equal(t, f.addrs.Authority, view.Authority)
	assert.Equal(t, f.mint, view.Mint)
	assert.Equal(t, uint64(85), view.Remaining)
	assert.Equal(t, uint64(2), view.UnitPrice)
	assert.Equal(t, uint64(20), view.PurchaseLimit)

	_, err = f.endSale()
	require.NoError(t, err)

	view, err = reader.Sale(ctx, f.seller.Address())
	require.NoError(t, err)
	assert.Equal(t, tokensale.SaleEnded, view.Status)
	assert.Equal(t, uint64(0), view.Remaining)
	assert.Equal(t, f.escrow, view.Escrow)
}

func TestReader_Sales(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t, 100)
	f.initialize(1, 10)
	buyer, _ := f.newBuyer(sol)
	f.whitelist(buyer.Address())

	views, err := tokensale.NewReader(f.env.Store, f.program).Sales(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1, "whitelist entries are not sales")
	assert.Equal(t, f.seller.Address(), views[0].Seller)
}
