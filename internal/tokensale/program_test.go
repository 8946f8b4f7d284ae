package tokensale_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/ledger/ledgertest"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/tokensale"
)

const sol = 1_000_000_000

type saleFixture struct {
	t           *testing.T
	env         *ledgertest.Env
	program     *tokensale.Program
	seller      *solana.Keypair
	mint        solana.Address
	escrow      solana.Address
	sellerToken solana.Address
	addrs       *tokensale.Addresses
}

// newSaleFixture funds a seller whose escrow token account holds supply tokens.
func newSaleFixture(t *testing.T, supply uint64) *saleFixture {
	program := tokensale.New(tokensale.DefaultProgramID)
	env := ledgertest.New(t, ledger.WithPrograms(program))
	f := &saleFixture{
		t:       t,
		env:     env,
		program: program,
		seller:  env.Funded(10 * sol),
	}
	f.mint = env.CreateMint(f.seller, 0)
	f.escrow = env.CreateTokenAccount(f.seller, f.mint, f.seller.Address())
	f.sellerToken = env.CreateTokenAccount(f.seller, f.mint, f.seller.Address())
	env.MintTo(f.mint, f.escrow, f.seller, supply)

	addrs, err := program.SaleAddresses(f.seller.Address())
	require.NoError(t, err)
	f.addrs = addrs
	return f
}

func (f *saleFixture) initialize(unitPrice, purchaseLimit uint64) *ledger.Receipt {
	f.t.Helper()
	ix, err := f.program.NewInitializeInstruction(f.seller.Address(), f.escrow, unitPrice, purchaseLimit)
	require.NoError(f.t, err)
	return f.env.MustSend([]ledger.Instruction{ix}, f.seller)
}

func (f *saleFixture) whitelist(buyer solana.Address) *ledger.Receipt {
	f.t.Helper()
	ix, err := f.program.NewWhitelistInstruction(f.seller.Address(), buyer)
	require.NoError(f.t, err)
	return f.env.MustSend([]ledger.Instruction{ix}, f.seller)
}

// newBuyer funds a buyer and creates its token account.
func (f *saleFixture) newBuyer(lamports uint64) (*solana.Keypair, solana.Address) {
	f.t.Helper()
	buyer := f.env.Funded(lamports)
	return buyer, f.env.CreateTokenAccount(buyer, f.mint, buyer.Address())
}

func (f *saleFixture) buyIx(buyer *solana.Keypair, buyerToken solana.Address, n uint64) ledger.Instruction {
	f.t.Helper()
	ix, err := f.program.NewBuyTokenInstruction(buyer.Address(), f.seller.Address(), f.escrow, buyerToken, n)
	require.NoError(f.t, err)
	return ix
}

func (f *saleFixture) buy(buyer *solana.Keypair, buyerToken solana.Address, n uint64) (*ledger.Receipt, error) {
	f.t.Helper()
	return f.env.Send([]ledger.Instruction{f.buyIx(buyer, buyerToken, n)}, buyer)
}

func (f *saleFixture) endSale() (*ledger.Receipt, error) {
	f.t.Helper()
	ix, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
	require.NoError(f.t, err)
	return f.env.Send([]ledger.Instruction{ix}, f.seller)
}

func (f *saleFixture) saleRecord() *tokensale.TokenSale {
	f.t.Helper()
	acc := f.env.Account(f.addrs.Sale)
	require.NotNil(f.t, acc, "sale record does not exist")
	assert.Equal(f.t, f.program.ID(), acc.Owner)
	sale, err := tokensale.DecodeTokenSale(acc.Data)
	require.NoError(f.t, err)
	return sale
}

func TestSale_Lifecycle(t *testing.T) {
	f := newSaleFixture(t, 1000)
	seller := f.seller.Address()

	receipt := f.initialize(5, 100)
	assert.Contains(t, receipt.Logs, "Program log: Instruction: Initialize")
	assert.Contains(t, receipt.Logs, "Program log: Change temp_token_account authority: seller -> token_program")

	assert.Equal(t, &tokensale.TokenSale{Seller: seller, Escrow: f.escrow, UnitPrice: 5, PurchaseLimit: 100}, f.saleRecord())
	escrow := f.env.TokenAccount(f.escrow)
	assert.Equal(t, f.addrs.Authority, escrow.Owner, "escrow must be controlled by the derived authority")
	assert.Equal(t, uint64(1000), escrow.Amount)
	assert.False(t, solana.IsOnCurve(f.addrs.Authority[:]))

	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())
	entry, _, err := f.program.WhitelistAddress(f.addrs.Sale, buyer.Address())
	require.NoError(t, err)
	entryAcc := f.env.Account(entry)
	require.NotNil(t, entryAcc)
	wl, err := tokensale.DecodeWhitelistData(entryAcc.Data)
	require.NoError(t, err)
	assert.True(t, wl.IsWhitelisted)

	sellerBefore := f.env.Balance(seller)
	buyerBefore := f.env.Balance(buyer.Address())
	receipt, err = f.buy(buyer, buyerToken, 50)
	require.NoError(t, err)
	assert.Contains(t, receipt.Logs, "Program log: Transfer 250 SOL : buyer account -> seller account")
	assert.Contains(t, receipt.Logs, "Program log: Transfer tokens: temp token account -> buyer token account")
	assert.Equal(t, sellerBefore+250, f.env.Balance(seller))
	assert.Equal(t, buyerBefore-250, f.env.Balance(buyer.Address()))
	assert.Equal(t, uint64(950), f.env.TokenBalance(f.escrow))
	assert.Equal(t, uint64(50), f.env.TokenBalance(buyerToken))

	_, err = f.buy(buyer, buyerToken, 150)
	require.ErrorIs(t, err, tokensale.ErrPurchaseLimitExceeded)
	assert.Equal(t, tokensale.ClassPolicy, tokensale.Classify(err))
	assert.Equal(t, sellerBefore+250, f.env.Balance(seller))
	assert.Equal(t, uint64(950), f.env.TokenBalance(f.escrow))
	assert.Equal(t, uint64(50), f.env.TokenBalance(buyerToken))

	escrowRent := f.env.Balance(f.escrow)
	sellerBefore = f.env.Balance(seller)
	receipt, err = f.endSale()
	require.NoError(t, err)
	assert.Contains(t, receipt.Logs, "Program log: close account temp token account")
	assert.Equal(t, uint64(950), f.env.TokenBalance(f.sellerToken))
	assert.Nil(t, f.env.Account(f.escrow), "closed escrow is purged")
	assert.Equal(t, sellerBefore+escrowRent, f.env.Balance(seller))
	assert.NotNil(t, f.env.Account(f.addrs.Sale), "sale record outlives the sale")
	assert.True(t, f.saleRecord().Ended)

	_, err = f.endSale()
	require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)
	assert.Equal(t, tokensale.ClassState, tokensale.Classify(err))
	assert.Equal(t, uint64(950), f.env.TokenBalance(f.sellerToken))

	events, err := f.env.Events.GetBySale(context.Background(), f.addrs.Sale)
	require.NoError(t, err)
	require.Len(t, events, 4)
	kinds := make([]domain.SaleEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []domain.SaleEventKind{
		domain.SaleEventInitialized,
		domain.SaleEventBuyerWhitelisted,
		domain.SaleEventTokensPurchased,
		domain.SaleEventEnded,
	}, kinds)
	assert.Equal(t, uint64(1000), events[0].Tokens)
	assert.Equal(t, buyer.Address(), events[2].Buyer)
	assert.Equal(t, uint64(50), events[2].Tokens)
	assert.Equal(t, uint64(250), events[2].Lamports)
	assert.Equal(t, uint64(950), events[3].Tokens)
	assert.Equal(t, escrowRent, events[3].Lamports)
}

func TestInitialize_Twice(t *testing.T) {
	f := newSaleFixture(t, 1000)
	f.initialize(5, 100)

	t.Run("fresh escrow", func(t *testing.T) {
		second := f.env.CreateTokenAccount(f.seller, f.mint, f.seller.Address())
		ix, err := f.program.NewInitializeInstruction(f.seller.Address(), second, 7, 10)
		require.NoError(t, err)

		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, ledger.ErrSystemAccountAlreadyInUse)
		assert.Equal(t, tokensale.ClassState, tokensale.Classify(err))
		assert.Equal(t, f.seller.Address(), f.env.TokenAccount(second).Owner)
	})

	t.Run("same escrow", func(t *testing.T) {
		ix, err := f.program.NewInitializeInstruction(f.seller.Address(), f.escrow, 7, 10)
		require.NoError(t, err)

		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrConstraintTokenOwner)
	})

	assert.Equal(t, uint64(5), f.saleRecord().UnitPrice)
	assert.Equal(t, uint64(100), f.saleRecord().PurchaseLimit)
}

func TestInitialize_EscrowNotControlledBySeller(t *testing.T) {
	f := newSaleFixture(t, 1000)
	other := f.env.Funded(sol)
	foreign := f.env.CreateTokenAccount(other, f.mint, other.Address())

	ix, err := f.program.NewInitializeInstruction(f.seller.Address(), foreign, 5, 100)
	require.NoError(t, err)
	receipt, err := f.env.Send([]ledger.Instruction{ix}, f.seller)
	require.ErrorIs(t, err, tokensale.ErrConstraintTokenOwner)
	assert.Equal(t, tokensale.ClassAuthorization, tokensale.Classify(err))
	assert.Contains(t, receipt.Logs,
		"Program log: AnchorError caused by account: temp_token_account. Error Code: ConstraintTokenOwner. Error Number: 2015. Error Message: A token owner constraint was violated.")
	assert.Nil(t, f.env.Account(f.addrs.Sale))
}

func TestInitialize_EscrowCloseAuthority(t *testing.T) {
	t.Run("held by the seller", func(t *testing.T) {
		f := newSaleFixture(t, 10)
		sellerAddr := f.seller.Address()
		f.env.MustSend([]ledger.Instruction{
			ledger.NewSetAuthorityInstruction(f.escrow, sellerAddr, ledger.AuthorityCloseAccount, &sellerAddr),
		}, f.seller)

		f.initialize(1, 10)
		escrow := f.env.TokenAccount(f.escrow)
		assert.Equal(t, f.addrs.Authority, escrow.Owner)
		assert.Nil(t, escrow.CloseAuthority)
		assert.Nil(t, escrow.Delegate)

		buyer, buyerToken := f.newBuyer(sol)
		f.whitelist(buyer.Address())
		_, err := f.buy(buyer, buyerToken, 10)
		require.NoError(t, err)

		_, err = f.env.Send([]ledger.Instruction{
			ledger.NewCloseAccountInstruction(f.escrow, sellerAddr, sellerAddr),
		}, f.seller)
		require.ErrorIs(t, err, ledger.ErrTokenOwnerMismatch)
		assert.NotNil(t, f.env.Account(f.escrow))

		_, err = f.endSale()
		require.NoError(t, err)
		assert.Nil(t, f.env.Account(f.escrow))
	})

	t.Run("held by someone else", func(t *testing.T) {
		f := newSaleFixture(t, 10)
		sellerAddr := f.seller.Address()
		other := f.env.Keypair().Address()
		f.env.MustSend([]ledger.Instruction{
			ledger.NewSetAuthorityInstruction(f.escrow, sellerAddr, ledger.AuthorityCloseAccount, &other),
		}, f.seller)

		ix, err := f.program.NewInitializeInstruction(sellerAddr, f.escrow, 1, 10)
		require.NoError(t, err)
		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrConstraintTokenOwner)
		assert.Equal(t, tokensale.ClassAuthorization, tokensale.Classify(err))
		assert.Nil(t, f.env.Account(f.addrs.Sale))
		assert.Equal(t, sellerAddr, f.env.TokenAccount(f.escrow).Owner)
	})
}

func TestBuyToken_SellerBuysOwnSale(t *testing.T) {
	f := newSaleFixture(t, 1000)
	f.initialize(5, 100)
	f.whitelist(f.seller.Address())
	sellerBefore := f.env.Balance(f.seller.Address())

	_, err := f.buy(f.seller, f.sellerToken, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.env.TokenBalance(f.sellerToken))
	assert.Equal(t, uint64(990), f.env.TokenBalance(f.escrow))
	assert.Equal(t, sellerBefore, f.env.Balance(f.seller.Address()))
}

func TestWhitelist_Errors(t *testing.T) {
	f := newSaleFixture(t, 1000)
	f.initialize(5, 100)
	buyer, _ := f.newBuyer(sol)

	t.Run("not the seller", func(t *testing.T) {
		impostor := f.env.Funded(sol)
		ix, err := f.program.NewWhitelistInstruction(impostor.Address(), buyer.Address())
		require.NoError(t, err)
		ix.Accounts[2].Address = f.addrs.Sale

		_, err = f.env.Send([]ledger.Instruction{ix}, impostor)
		require.ErrorIs(t, err, tokensale.ErrInvalidSellerAccount)
		assert.Equal(t, tokensale.ClassAuthorization, tokensale.Classify(err))
		entry, _, err := f.program.WhitelistAddress(f.addrs.Sale, buyer.Address())
		require.NoError(t, err)
		assert.Nil(t, f.env.Account(entry), "no whitelist entry is created")
		assert.Nil(t, f.env.Account(ix.Accounts[3].Address))
	})

	t.Run("no sale", func(t *testing.T) {
		stranger := f.env.Funded(sol)
		ix, err := f.program.NewWhitelistInstruction(stranger.Address(), buyer.Address())
		require.NoError(t, err)

		_, err = f.env.Send([]ledger.Instruction{ix}, stranger)
		require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)
	})

	t.Run("twice", func(t *testing.T) {
		f.whitelist(buyer.Address())
		ix, err := f.program.NewWhitelistInstruction(f.seller.Address(), buyer.Address())
		require.NoError(t, err)

		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, ledger.ErrSystemAccountAlreadyInUse)
	})
}

func TestBuyToken_Rejections(t *testing.T) {
	f := newSaleFixture(t, 1000)
	f.initialize(5, 100)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())

	outsider, outsiderToken := f.newBuyer(sol)
	// Enough for the token account rent plus 10 lamports.
	poor, poorToken := f.newBuyer(f.env.Runtime.Rent().MinimumBalance(solana.TokenAccountSize) + 10)
	f.whitelist(poor.Address())
	impostor := f.env.Funded(sol)
	decoy := f.env.CreateTokenAccount(f.seller, f.mint, f.seller.Address())

	cases := []struct {
		name  string
		ix    func() ledger.Instruction
		buyer *solana.Keypair
		token solana.Address
		want  error
		class tokensale.ErrorClass
	}{
		{
			name:  "not whitelisted",
			ix:    func() ledger.Instruction { return f.buyIx(outsider, outsiderToken, 10) },
			buyer: outsider,
			token: outsiderToken,
			want:  tokensale.ErrAccountNotInitialized,
			class: tokensale.ClassAuthorization,
		},
		{
			name:  "zero quantity",
			ix:    func() ledger.Instruction { return f.buyIx(buyer, buyerToken, 0) },
			buyer: buyer,
			token: buyerToken,
			want:  tokensale.ErrInvalidPurchaseAmount,
			class: tokensale.ClassPolicy,
		},
		{
			name:  "over limit",
			ix:    func() ledger.Instruction { return f.buyIx(buyer, buyerToken, 101) },
			buyer: buyer,
			token: buyerToken,
			want:  tokensale.ErrPurchaseLimitExceeded,
			class: tokensale.ClassPolicy,
		},
		{
			name:  "cannot pay",
			ix:    func() ledger.Instruction { return f.buyIx(poor, poorToken, 10) },
			buyer: poor,
			token: poorToken,
			want:  ledger.ErrSystemNegativeLamports,
			class: tokensale.ClassResource,
		},
		{
			name: "wrong seller",
			ix: func() ledger.Instruction {
				ix := f.buyIx(buyer, buyerToken, 10)
				ix.Accounts[1].Address = impostor.Address()
				return ix
			},
			buyer: buyer,
			token: buyerToken,
			want:  tokensale.ErrInvalidSellerAccount,
			class: tokensale.ClassAuthorization,
		},
		{
			name: "wrong escrow",
			ix: func() ledger.Instruction {
				ix, err := f.program.NewBuyTokenInstruction(buyer.Address(), f.seller.Address(), decoy, buyerToken, 10)
				require.NoError(t, err)
				return ix
			},
			buyer: buyer,
			token: buyerToken,
			want:  tokensale.ErrInvalidEscrowAccount,
			class: tokensale.ClassAuthorization,
		},
		{
			name:  "tokens to someone else",
			ix:    func() ledger.Instruction { return f.buyIx(buyer, outsiderToken, 10) },
			buyer: buyer,
			token: outsiderToken,
			want:  tokensale.ErrConstraintTokenOwner,
			class: tokensale.ClassAuthorization,
		},
		{
			name: "buyer did not sign",
			ix: func() ledger.Instruction {
				ix := f.buyIx(buyer, buyerToken, 10)
				ix.Accounts[0].IsSigner = false
				return ix
			},
			buyer: impostor,
			token: buyerToken,
			want:  tokensale.ErrAccountNotSigner,
			class: tokensale.ClassAuthorization,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ix := tc.ix()
			payer := ix.Accounts[0].Address
			sellerBefore := f.env.Balance(f.seller.Address())
			escrowBefore := f.env.TokenBalance(f.escrow)
			payerBefore := f.env.Balance(payer)
			tokenBefore := f.env.TokenBalance(tc.token)

			_, err := f.env.Send([]ledger.Instruction{ix}, tc.buyer)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.class, tokensale.Classify(err))

			assert.Equal(t, sellerBefore, f.env.Balance(f.seller.Address()))
			assert.Equal(t, escrowBefore, f.env.TokenBalance(f.escrow))
			assert.Equal(t, payerBefore, f.env.Balance(payer))
			assert.Equal(t, tokenBefore, f.env.TokenBalance(tc.token))
		})
	}
}

func TestBuyToken_PriceOverflow(t *testing.T) {
	f := newSaleFixture(t, 1000)
	f.initialize(math.MaxUint64/2+1, 10)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())

	_, err := f.buy(buyer, buyerToken, 2)
	require.ErrorIs(t, err, tokensale.ErrArithmeticOverflow)
	assert.Equal(t, tokensale.ClassArithmetic, tokensale.Classify(err))
	assert.Equal(t, uint64(1000), f.env.TokenBalance(f.escrow))
}

func TestBuyToken_EscrowExhausted(t *testing.T) {
	f := newSaleFixture(t, 60)
	f.initialize(1, 100)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())

	_, err := f.buy(buyer, buyerToken, 50)
	require.NoError(t, err)

	sellerBefore := f.env.Balance(f.seller.Address())
	_, err = f.buy(buyer, buyerToken, 50)
	require.ErrorIs(t, err, ledger.ErrTokenInsufficientFunds)
	assert.Equal(t, tokensale.ClassResource, tokensale.Classify(err))
	assert.Equal(t, sellerBefore, f.env.Balance(f.seller.Address()), "payment is rolled back with the token transfer")
	assert.Equal(t, uint64(10), f.env.TokenBalance(f.escrow))
}

func TestBuyToken_AfterEnd(t *testing.T) {
	f := newSaleFixture(t, 100)
	f.initialize(1, 100)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())

	_, err := f.endSale()
	require.NoError(t, err)

	_, err = f.buy(buyer, buyerToken, 1)
	require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)
	assert.Equal(t, tokensale.ClassState, tokensale.Classify(err))
	assert.Equal(t, uint64(0), f.env.TokenBalance(buyerToken))
}

func TestEndSale_NotTheSeller(t *testing.T) {
	f := newSaleFixture(t, 100)
	f.initialize(1, 100)
	impostor := f.env.Funded(sol)
	impostorToken := f.env.CreateTokenAccount(impostor, f.mint, impostor.Address())

	ix, err := f.program.NewEndSaleInstruction(impostor.Address(), impostorToken, f.escrow)
	require.NoError(t, err)
	ix.Accounts[3].Address = f.addrs.Sale
	ix.Accounts[4].Address = f.addrs.Authority

	_, err = f.env.Send([]ledger.Instruction{ix}, impostor)
	require.ErrorIs(t, err, tokensale.ErrInvalidSellerAccount)
	assert.Equal(t, uint64(100), f.env.TokenBalance(f.escrow))
	assert.Equal(t, uint64(0), f.env.TokenBalance(impostorToken))
}

func TestEndSale_EmptyEscrow(t *testing.T) {
	f := newSaleFixture(t, 10)
	f.initialize(1, 10)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())
	_, err := f.buy(buyer, buyerToken, 10)
	require.NoError(t, err)

	receipt, err := f.endSale()
	require.NoError(t, err)
	assert.Nil(t, f.env.Account(f.escrow))
	assert.Equal(t, uint64(0), f.env.TokenBalance(f.sellerToken))
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, uint64(0), receipt.Events[0].Tokens)
}

func TestEndSale_EscrowRecreated(t *testing.T) {
	ctx := context.Background()
	f := newSaleFixture(t, 0)
	escrowKp := f.env.Keypair()
	f.escrow = f.env.CreateTokenAccountAt(f.seller, escrowKp, f.mint, f.seller.Address())
	f.env.MintTo(f.mint, f.escrow, f.seller, 10)

	f.initialize(1, 10)
	buyer, buyerToken := f.newBuyer(sol)
	f.whitelist(buyer.Address())
	_, err := f.endSale()
	require.NoError(t, err)
	require.Nil(t, f.env.Account(f.escrow))

	// The escrow keypair rebuilds a funded account under the sale authority.
	f.env.CreateTokenAccountAt(f.seller, escrowKp, f.mint, f.addrs.Authority)
	f.env.MintTo(f.mint, f.escrow, f.seller, 10)

	_, err = f.buy(buyer, buyerToken, 5)
	require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)
	assert.Equal(t, tokensale.ClassState, tokensale.Classify(err))
	assert.Equal(t, uint64(0), f.env.TokenBalance(buyerToken))
	assert.Equal(t, uint64(10), f.env.TokenBalance(f.escrow))

	_, err = f.endSale()
	require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)

	late := f.env.Keypair()
	ix, err := f.program.NewWhitelistInstruction(f.seller.Address(), late.Address())
	require.NoError(t, err)
	_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
	require.ErrorIs(t, err, tokensale.ErrAccountNotInitialized)

	view, err := tokensale.NewReader(f.env.Store, f.program).Sale(ctx, f.seller.Address())
	require.NoError(t, err)
	assert.Equal(t, tokensale.SaleEnded, view.Status)
	assert.True(t, f.saleRecord().Ended)
}

func TestBuyToken_ConcurrentBuyers(t *testing.T) {
	const (
		buyers = 12
		each   = 10
		supply = 50
	)
	f := newSaleFixture(t, supply)
	f.initialize(3, each)

	type participant struct {
		kp    *solana.Keypair
		token solana.Address
	}
	participants := make([]participant, buyers)
	for i := range participants {
		kp, token := f.newBuyer(sol)
		f.whitelist(kp.Address())
		participants[i] = participant{kp: kp, token: token}
	}
	sellerBefore := f.env.Balance(f.seller.Address())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, p := range participants {
		tx := f.env.Tx([]ledger.Instruction{f.buyIx(p.kp, p.token, each)}, p.kp)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.env.Runtime.Execute(context.Background(), tx); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, supply/each, succeeded)
	assert.Equal(t, uint64(0), f.env.TokenBalance(f.escrow))
	assert.Equal(t, sellerBefore+uint64(supply*3), f.env.Balance(f.seller.Address()))

	var delivered uint64
	for _, p := range participants {
		delivered += f.env.TokenBalance(p.token)
	}
	assert.Equal(t, uint64(supply), delivered)
}

func TestProcess_InstructionData(t *testing.T) {
	f := newSaleFixture(t, 10)
	f.initialize(1, 10)

	base, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
	require.NoError(t, err)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{name: "missing discriminator", data: []byte{1, 2, 3}, want: tokensale.ErrInstructionMissing},
		{name: "unknown discriminator", data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, want: tokensale.ErrInstructionFallbackNotFound},
		{name: "truncated arguments", data: tokensale.BuyTokenDiscriminator[:], want: tokensale.ErrInstructionDidNotDeserialize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ix := base
			ix.Data = tc.data
			_, err := f.env.Send([]ledger.Instruction{ix}, f.seller)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, tokensale.ClassInput, tokensale.Classify(err))
		})
	}
}

func TestProcess_AccountValidation(t *testing.T) {
	f := newSaleFixture(t, 10)
	f.initialize(1, 10)

	t.Run("not enough accounts", func(t *testing.T) {
		ix, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
		require.NoError(t, err)
		ix.Accounts = ix.Accounts[:5]
		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrAccountNotEnoughKeys)
	})

	t.Run("wrong token program", func(t *testing.T) {
		ix, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
		require.NoError(t, err)
		ix.Accounts[5].Address = solana.SystemProgramID
		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrInvalidProgramID)
	})

	t.Run("wrong rent sysvar", func(t *testing.T) {
		ix, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
		require.NoError(t, err)
		ix.Accounts[7].Address = f.mint
		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrAccountSysvarMismatch)
	})

	t.Run("read-only escrow", func(t *testing.T) {
		ix, err := f.program.NewEndSaleInstruction(f.seller.Address(), f.sellerToken, f.escrow)
		require.NoError(t, err)
		ix.Accounts[2].IsWritable = false
		_, err = f.env.Send([]ledger.Instruction{ix}, f.seller)
		require.ErrorIs(t, err, tokensale.ErrConstraintMut)
	})

	assert.Equal(t, uint64(10), f.env.TokenBalance(f.escrow))
}
