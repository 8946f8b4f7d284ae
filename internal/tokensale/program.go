// Package tokensale implements the token-sale escrow program: a seller moves
// tokens into an escrow controlled by a program derived authority, whitelists
// buyers, sells at a fixed unit price and finally reclaims what is left.
package tokensale

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/solana"
)

// ProgramName identifies the program in errors and metrics.
const ProgramName = "token_sale"

// DefaultProgramID is the address the program is deployed at unless
// configured otherwise.
var DefaultProgramID = solana.MustParseAddress("Ha9ZBABH37ZY2sYKWUuKegRRPR1m58o8Jkz9yzdF6qro")

// Seed labels of the program derived addresses.
var (
	SeedTokenSale      = []byte("token_sale")
	SeedAuthority      = []byte("authority")
	SeedBuyerWhitelist = []byte("buyer_whitelist")
)

// Instruction discriminators.
var (
	InitializeDiscriminator = discriminator("global", "initialize")
	WhitelistDiscriminator  = discriminator("global", "whitelist")
	BuyTokenDiscriminator   = discriminator("global", "buy_token")
	EndSaleDiscriminator    = discriminator("global", "end_sale")
)

// Program is the token-sale program deployed at a given address.
type Program struct {
	id solana.Address
}

// New returns the program deployed at id.
func New(id solana.Address) *Program {
	return &Program{id: id}
}

// ID implements ledger.Program.
func (p *Program) ID() solana.Address { return p.id }

// Name implements ledger.Program.
func (p *Program) Name() string { return ProgramName }

// SaleAddress derives the sale record address of seller.
func (p *Program) SaleAddress(seller solana.Address) (solana.Address, uint8, error) {
	return solana.FindProgramAddress([][]byte{SeedTokenSale, seller[:]}, p.id)
}

// AuthorityAddress derives the keyless authority that controls the escrow of sale.
func (p *Program) AuthorityAddress(sale solana.Address) (solana.Address, uint8, error) {
	return solana.FindProgramAddress([][]byte{SeedAuthority, sale[:]}, p.id)
}

// WhitelistAddress derives the whitelist entry of buyer in sale.
func (p *Program) WhitelistAddress(sale, buyer solana.Address) (solana.Address, uint8, error) {
	return solana.FindProgramAddress([][]byte{SeedBuyerWhitelist, sale[:], buyer[:]}, p.id)
}

// Addresses are the derived accounts of one sale.
type Addresses struct {
	Sale      solana.Address `json:"sale"`
	Authority solana.Address `json:"authority"`
}

// SaleAddresses derives the sale record and escrow authority of seller.
func (p *Program) SaleAddresses(seller solana.Address) (*Addresses, error) {
	sale, _, err := p.SaleAddress(seller)
	if err != nil {
		return nil, err
	}
	authority, _, err := p.AuthorityAddress(sale)
	if err != nil {
		return nil, err
	}
	return &Addresses{Sale: sale, Authority: authority}, nil
}

func instructionData(disc [8]byte, args ...uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(disc[:], false)
	for _, arg := range args {
		_ = enc.WriteUint64(arg, bin.LE)
	}
	return buf.Bytes()
}

// NewInitializeInstruction opens a sale of the tokens held by escrow, which
// seller must control.
func (p *Program) NewInitializeInstruction(seller, escrow solana.Address, unitPrice, purchaseLimit uint64) (ledger.Instruction, error) {
	addrs, err := p.SaleAddresses(seller)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: p.id,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(seller, true, true),
			ledger.Meta(escrow, false, true),
			ledger.Meta(addrs.Sale, false, true),
			ledger.Meta(addrs.Authority, false, false),
			ledger.Meta(solana.TokenProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(solana.SysVarRentID, false, false),
		},
		Data: instructionData(InitializeDiscriminator, unitPrice, purchaseLimit),
	}, nil
}

// NewWhitelistInstruction grants buyer access to seller's sale.
func (p *Program) NewWhitelistInstruction(seller, buyer solana.Address) (ledger.Instruction, error) {
	sale, _, err := p.SaleAddress(seller)
	if err != nil {
		return ledger.Instruction{}, err
	}
	entry, _, err := p.WhitelistAddress(sale, buyer)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: p.id,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(seller, true, true),
			ledger.Meta(buyer, false, false),
			ledger.Meta(sale, false, false),
			ledger.Meta(entry, false, true),
			ledger.Meta(solana.TokenProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(solana.SysVarRentID, false, false),
		},
		Data: instructionData(WhitelistDiscriminator),
	}, nil
}

// NewBuyTokenInstruction buys numberOfTokens from seller's sale, paid by
// buyer and delivered to buyerTokenAccount.
func (p *Program) NewBuyTokenInstruction(buyer, seller, escrow, buyerTokenAccount solana.Address, numberOfTokens uint64) (ledger.Instruction, error) {
	addrs, err := p.SaleAddresses(seller)
	if err != nil {
		return ledger.Instruction{}, err
	}
	entry, _, err := p.WhitelistAddress(addrs.Sale, buyer)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: p.id,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(buyer, true, true),
			ledger.Meta(seller, false, true),
			ledger.Meta(entry, false, false),
			ledger.Meta(escrow, false, true),
			ledger.Meta(buyerTokenAccount, false, true),
			ledger.Meta(addrs.Sale, false, false),
			ledger.Meta(addrs.Authority, false, false),
			ledger.Meta(solana.TokenProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(solana.SysVarRentID, false, false),
		},
		Data: instructionData(BuyTokenDiscriminator, numberOfTokens),
	}, nil
}

// NewEndSaleInstruction ends seller's sale, returning unsold tokens to
// sellerTokenAccount and closing escrow.
func (p *Program) NewEndSaleInstruction(seller, sellerTokenAccount, escrow solana.Address) (ledger.Instruction, error) {
	addrs, err := p.SaleAddresses(seller)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{
		ProgramID: p.id,
		Accounts: []ledger.AccountMeta{
			ledger.Meta(seller, true, true),
			ledger.Meta(sellerTokenAccount, false, true),
			ledger.Meta(escrow, false, true),
			ledger.Meta(addrs.Sale, false, true),
			ledger.Meta(addrs.Authority, false, false),
			ledger.Meta(solana.TokenProgramID, false, false),
			ledger.Meta(solana.SystemProgramID, false, false),
			ledger.Meta(solana.SysVarRentID, false, false),
		},
		Data: instructionData(EndSaleDiscriminator),
	}, nil
}
