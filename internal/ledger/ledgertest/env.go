// Package ledgertest provides an in-memory ledger with helpers for funding
// keypairs and creating token accounts through real transactions.
package ledgertest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/solana"
	"solana-token-sale/internal/storage"
	"solana-token-sale/internal/storage/memory"
)

// FaucetLimit is the per-airdrop limit of test environments.
const FaucetLimit = 1_000_000 * 1_000_000_000

// Env is a ledger backed by memory stores.
type Env struct {
	t       testing.TB
	Runtime *ledger.Runtime
	Store   *memory.AccountStore
	Events  *memory.SaleEventStore

	nonce atomic.Uint64
}

// New creates an Env. opts are applied after the defaults, so callers can
// register programs or replace sinks.
func New(t testing.TB, opts ...ledger.Option) *Env {
	t.Helper()

	store := memory.NewAccountStore()
	events := memory.NewSaleEventStore()
	defaults := []ledger.Option{
		ledger.WithLogger(zaptest.NewLogger(t)),
		ledger.WithFaucet(FaucetLimit),
		ledger.WithEventSinks(ledger.StoreSink{Store: events}),
	}
	rt, err := ledger.NewRuntime(context.Background(), store, append(defaults, opts...)...)
	require.NoError(t, err)

	return &Env{t: t, Runtime: rt, Store: store, Events: events}
}

// Keypair returns a fresh unfunded keypair.
func (e *Env) Keypair() *solana.Keypair {
	e.t.Helper()
	kp, err := solana.NewKeypair()
	require.NoError(e.t, err)
	return kp
}

// Funded returns a fresh keypair holding lamports.
func (e *Env) Funded(lamports uint64) *solana.Keypair {
	e.t.Helper()
	kp := e.Keypair()
	_, err := e.Runtime.Airdrop(context.Background(), kp.Address(), lamports)
	require.NoError(e.t, err)
	return kp
}

// Tx builds and signs a transaction with a unique nonce.
func (e *Env) Tx(instructions []ledger.Instruction, signers ...*solana.Keypair) *ledger.Transaction {
	e.t.Helper()
	tx, err := ledger.NewTransaction(e.nonce.Add(1), instructions, signers...)
	require.NoError(e.t, err)
	return tx
}

// Send executes instructions in one transaction.
func (e *Env) Send(instructions []ledger.Instruction, signers ...*solana.Keypair) (*ledger.Receipt, error) {
	e.t.Helper()
	return e.Runtime.Execute(context.Background(), e.Tx(instructions, signers...))
}

// MustSend executes instructions and fails the test if they do not commit.
func (e *Env) MustSend(instructions []ledger.Instruction, signers ...*solana.Keypair) *ledger.Receipt {
	e.t.Helper()
	receipt, err := e.Send(instructions, signers...)
	if err != nil {
		for _, line := range receipt.Logs {
			e.t.Log(line)
		}
	}
	require.NoError(e.t, err)
	return receipt
}

// CreateMint creates and initializes a mint controlled by authority.
func (e *Env) CreateMint(authority *solana.Keypair, decimals uint8) solana.Address {
	e.t.Helper()
	mint := e.Keypair()
	rent := e.Runtime.Rent().MinimumBalance(solana.MintSize)
	e.MustSend([]ledger.Instruction{
		ledger.NewCreateAccountInstruction(authority.Address(), mint.Address(), rent, solana.MintSize, solana.TokenProgramID),
		ledger.NewInitializeMintInstruction(mint.Address(), decimals, authority.Address(), nil),
	}, authority, mint)
	return mint.Address()
}

// CreateTokenAccount creates a token account for mint held by owner, paid by payer.
func (e *Env) CreateTokenAccount(payer *solana.Keypair, mint, owner solana.Address) solana.Address {
	e.t.Helper()
	return e.CreateTokenAccountAt(payer, e.Keypair(), mint, owner)
}

// CreateTokenAccountAt creates a token account at the address of account.
func (e *Env) CreateTokenAccountAt(payer, account *solana.Keypair, mint, owner solana.Address) solana.Address {
	e.t.Helper()
	rent := e.Runtime.Rent().MinimumBalance(solana.TokenAccountSize)
	e.MustSend([]ledger.Instruction{
		ledger.NewCreateAccountInstruction(payer.Address(), account.Address(), rent, solana.TokenAccountSize, solana.TokenProgramID),
		ledger.NewInitializeAccountInstruction(account.Address(), mint, owner),
	}, payer, account)
	return account.Address()
}

// MintTo mints amount tokens of mint into dest.
func (e *Env) MintTo(mint, dest solana.Address, authority *solana.Keypair, amount uint64) {
	e.t.Helper()
	e.MustSend([]ledger.Instruction{
		ledger.NewMintToInstruction(mint, dest, authority.Address(), amount),
	}, authority)
}

// Account returns the stored account, or nil if it does not exist.
func (e *Env) Account(address solana.Address) *domain.Account {
	e.t.Helper()
	acc, err := e.Store.Get(context.Background(), address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	require.NoError(e.t, err)
	return acc
}

// Balance returns the lamports held by address; 0 if it does not exist.
func (e *Env) Balance(address solana.Address) uint64 {
	e.t.Helper()
	if acc := e.Account(address); acc != nil {
		return acc.Lamports
	}
	return 0
}

// TokenAccount decodes the token account at address.
func (e *Env) TokenAccount(address solana.Address) *solana.TokenAccount {
	e.t.Helper()
	acc := e.Account(address)
	require.NotNil(e.t, acc, "token account %s does not exist", address)
	ta, err := solana.DecodeTokenAccount(acc.Data)
	require.NoError(e.t, err)
	return ta
}

// TokenBalance returns the token amount held by the token account at address.
func (e *Env) TokenBalance(address solana.Address) uint64 {
	e.t.Helper()
	return e.TokenAccount(address).Amount
}
