package tokensale

import (
	bin "github.com/gagliardetto/binary"
	"github.com/go-faster/errors"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/ledger"
)

// Process implements ledger.Program. Every handler validates all accounts
// before its first side effect.
func (p *Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	err := p.dispatch(ic, accounts, data)
	if err != nil {
		logError(ic, err)
	}
	return err
}

func (p *Program) dispatch(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) < 8 {
		return ErrInstructionMissing
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	dec := bin.NewBorshDecoder(data[8:])

	switch disc {
	case InitializeDiscriminator:
		ic.Log("Instruction: Initialize")
		unitPrice, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInstructionDidNotDeserialize
		}
		purchaseLimit, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInstructionDidNotDeserialize
		}
		return p.initialize(ic, accounts, unitPrice, purchaseLimit)
	case WhitelistDiscriminator:
		ic.Log("Instruction: Whitelist")
		return p.whitelist(ic, accounts)
	case BuyTokenDiscriminator:
		ic.Log("Instruction: BuyToken")
		n, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInstructionDidNotDeserialize
		}
		return p.buyToken(ic, accounts, n)
	case EndSaleDiscriminator:
		ic.Log("Instruction: EndSale")
		return p.endSale(ic, accounts)
	default:
		return ErrInstructionFallbackNotFound
	}
}

func logError(ic *ledger.InvokeContext, err error) {
	var ae *AccountError
	if errors.As(err, &ae) {
		ic.Log("AnchorError caused by account: %s. Error Code: %s. Error Number: %d. Error Message: %s.",
			ae.Account, ae.Err.Name, ae.Err.Code, ae.Err.Message)
		return
	}
	if pe, ok := ledger.AsProgramError(err); ok && pe.Program == ProgramName {
		ic.Log("AnchorError occurred. Error Code: %s. Error Number: %d. Error Message: %s.",
			pe.Name, pe.Code, pe.Message)
	}
}

// initialize accounts: seller, temp_token_account, token_sale_account,
// token_sale_token_acct_authority, token_program, system_program, rent.
func (p *Program) initialize(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, unitPrice, purchaseLimit uint64) error {
	if err := requireAccounts(accounts, 7); err != nil {
		return err
	}
	seller, escrow, saleInfo, authority := accounts[0], accounts[1], accounts[2], accounts[3]

	if err := checkSigner(accountSeller, seller); err != nil {
		return err
	}
	if err := checkMut(accountSeller, seller); err != nil {
		return err
	}
	escrowAcc, err := loadTokenAccount(accountEscrow, escrow)
	if err != nil {
		return err
	}
	if err := checkMut(accountEscrow, escrow); err != nil {
		return err
	}
	if err := checkMut(accountSale, saleInfo); err != nil {
		return err
	}
	if err := checkSystemAccount(accountAuthority, authority); err != nil {
		return err
	}
	if err := checkPrograms(accounts[4], accounts[5], accounts[6]); err != nil {
		return err
	}

	if err := checkTokenOwner(accountEscrow, escrowAcc, seller.Key); err != nil {
		return err
	}
	if escrowAcc.CloseAuthority != nil && *escrowAcc.CloseAuthority != seller.Key {
		return accountErr(accountEscrow, ErrConstraintTokenOwner)
	}
	saleBump, err := p.checkPDA(accountSale, saleInfo, SeedTokenSale, seller.Key[:])
	if err != nil {
		return err
	}
	if _, err := p.checkPDA(accountAuthority, authority, SeedAuthority, saleInfo.Key[:]); err != nil {
		return err
	}

	create := ledger.NewCreateAccountInstruction(seller.Key, saleInfo.Key, ic.Rent().MinimumBalance(TokenSaleSize), TokenSaleSize, p.id)
	if err := ic.Invoke(create, [][]byte{SeedTokenSale, seller.Key[:], {saleBump}}); err != nil {
		return err
	}
	record := &TokenSale{
		Seller:        seller.Key,
		Escrow:        escrow.Key,
		UnitPrice:     unitPrice,
		PurchaseLimit: purchaseLimit,
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode sale")
	}
	copy(saleInfo.Data(), data)

	ic.Log("Change temp_token_account authority: seller -> token_program")
	authorityKey := authority.Key
	setAuthority := ledger.NewSetAuthorityInstruction(escrow.Key, seller.Key, ledger.AuthorityAccountOwner, &authorityKey)
	if err := ic.Invoke(setAuthority); err != nil {
		return err
	}
	// The owner change drops any delegate. A close authority survives it and
	// is cleared so closing follows the derived owner.
	if escrowAcc.CloseAuthority != nil {
		clearClose := ledger.NewSetAuthorityInstruction(escrow.Key, seller.Key, ledger.AuthorityCloseAccount, nil)
		if err := ic.Invoke(clearClose); err != nil {
			return err
		}
	}

	ic.Emit(&domain.SaleEvent{
		Kind:      domain.SaleEventInitialized,
		Sale:      saleInfo.Key,
		Seller:    seller.Key,
		Escrow:    escrow.Key,
		Tokens:    escrowAcc.Amount,
		UnitPrice: unitPrice,
	})
	return nil
}

// whitelist accounts: seller, buyer, token_sale_account,
// buyer_whitelist_account, token_program, system_program, rent.
func (p *Program) whitelist(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if err := requireAccounts(accounts, 7); err != nil {
		return err
	}
	seller, buyer, saleInfo, entry := accounts[0], accounts[1], accounts[2], accounts[3]

	if err := checkSigner(accountSeller, seller); err != nil {
		return err
	}
	if err := checkMut(accountSeller, seller); err != nil {
		return err
	}
	if err := checkSystemAccount(accountBuyer, buyer); err != nil {
		return err
	}
	sale, err := p.loadSale(saleInfo)
	if err != nil {
		return err
	}
	if err := checkMut(accountBuyerWhitelist, entry); err != nil {
		return err
	}
	if err := checkPrograms(accounts[4], accounts[5], accounts[6]); err != nil {
		return err
	}

	if seller.Key != sale.Seller {
		return ErrInvalidSellerAccount
	}
	if _, err := p.checkPDA(accountSale, saleInfo, SeedTokenSale, seller.Key[:]); err != nil {
		return err
	}
	if sale.Ended {
		return accountErr(accountSale, ErrAccountNotInitialized)
	}
	entryBump, err := p.checkPDA(accountBuyerWhitelist, entry, SeedBuyerWhitelist, saleInfo.Key[:], buyer.Key[:])
	if err != nil {
		return err
	}

	create := ledger.NewCreateAccountInstruction(seller.Key, entry.Key, ic.Rent().MinimumBalance(WhitelistDataSize), WhitelistDataSize, p.id)
	if err := ic.Invoke(create, [][]byte{SeedBuyerWhitelist, saleInfo.Key[:], buyer.Key[:], {entryBump}}); err != nil {
		return err
	}
	data, err := (&WhitelistData{IsWhitelisted: true}).MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode whitelist entry")
	}
	copy(entry.Data(), data)

	ic.Emit(&domain.SaleEvent{
		Kind:      domain.SaleEventBuyerWhitelisted,
		Sale:      saleInfo.Key,
		Seller:    seller.Key,
		Buyer:     buyer.Key,
		Escrow:    sale.Escrow,
		UnitPrice: sale.UnitPrice,
	})
	return nil
}

// buy_token accounts: buyer, seller, buyer_whitelist_account,
// temp_token_account, buyer_token_account, token_sale_account,
// token_sale_token_acct_authority, token_program, system_program, rent.
func (p *Program) buyToken(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, numberOfTokens uint64) error {
	if err := requireAccounts(accounts, 10); err != nil {
		return err
	}
	buyer, seller, entry, escrow := accounts[0], accounts[1], accounts[2], accounts[3]
	buyerToken, saleInfo, authority := accounts[4], accounts[5], accounts[6]

	if err := checkSigner(accountBuyer, buyer); err != nil {
		return err
	}
	if err := checkMut(accountBuyer, buyer); err != nil {
		return err
	}
	if err := checkSystemAccount(accountSeller, seller); err != nil {
		return err
	}
	if err := checkMut(accountSeller, seller); err != nil {
		return err
	}
	sale, err := p.loadSale(saleInfo)
	if err != nil {
		return err
	}
	// The entry's existence is the permission; its flag is not consulted.
	if _, err := p.loadWhitelist(entry); err != nil {
		return err
	}
	escrowAcc, err := loadTokenAccount(accountEscrow, escrow)
	if err != nil {
		return err
	}
	if err := checkMut(accountEscrow, escrow); err != nil {
		return err
	}
	buyerTokenAcc, err := loadTokenAccount(accountBuyerTokenAccount, buyerToken)
	if err != nil {
		return err
	}
	if err := checkMut(accountBuyerTokenAccount, buyerToken); err != nil {
		return err
	}
	if err := checkSystemAccount(accountAuthority, authority); err != nil {
		return err
	}
	if err := checkPrograms(accounts[7], accounts[8], accounts[9]); err != nil {
		return err
	}

	if seller.Key != sale.Seller {
		return ErrInvalidSellerAccount
	}
	if _, err := p.checkPDA(accountSale, saleInfo, SeedTokenSale, seller.Key[:]); err != nil {
		return err
	}
	if _, err := p.checkPDA(accountBuyerWhitelist, entry, SeedBuyerWhitelist, saleInfo.Key[:], buyer.Key[:]); err != nil {
		return err
	}
	authorityBump, err := p.checkPDA(accountAuthority, authority, SeedAuthority, saleInfo.Key[:])
	if err != nil {
		return err
	}
	if escrow.Key != sale.Escrow {
		return ErrInvalidEscrowAccount
	}
	// An account re-created at the escrow address does not reopen the sale.
	if sale.Ended {
		return accountErr(accountEscrow, ErrAccountNotInitialized)
	}
	if err := checkTokenOwner(accountEscrow, escrowAcc, authority.Key); err != nil {
		return err
	}
	if err := checkTokenOwner(accountBuyerTokenAccount, buyerTokenAcc, buyer.Key); err != nil {
		return err
	}

	if numberOfTokens == 0 {
		return ErrInvalidPurchaseAmount
	}
	if numberOfTokens > sale.PurchaseLimit {
		return ErrPurchaseLimitExceeded
	}
	total, err := ledger.CheckedMul(sale.UnitPrice, numberOfTokens)
	if err != nil {
		return ErrArithmeticOverflow
	}

	ic.Log("Transfer %d SOL : buyer account -> seller account", total)
	if err := ic.Invoke(ledger.NewTransferInstruction(buyer.Key, seller.Key, total)); err != nil {
		return err
	}

	ic.Log("Transfer tokens: temp token account -> buyer token account")
	transfer := ledger.NewTokenTransferInstruction(escrow.Key, buyerToken.Key, authority.Key, numberOfTokens)
	if err := ic.Invoke(transfer, [][]byte{SeedAuthority, saleInfo.Key[:], {authorityBump}}); err != nil {
		return err
	}

	ic.Emit(&domain.SaleEvent{
		Kind:      domain.SaleEventTokensPurchased,
		Sale:      saleInfo.Key,
		Seller:    seller.Key,
		Buyer:     buyer.Key,
		Escrow:    escrow.Key,
		Tokens:    numberOfTokens,
		Lamports:  total,
		UnitPrice: sale.UnitPrice,
	})
	return nil
}

// end_sale accounts: seller, seller_token_account, temp_token_account,
// token_sale_account, token_sale_token_acct_authority, token_program,
// system_program, rent.
func (p *Program) endSale(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if err := requireAccounts(accounts, 8); err != nil {
		return err
	}
	seller, sellerToken, escrow, saleInfo, authority := accounts[0], accounts[1], accounts[2], accounts[3], accounts[4]

	if err := checkSigner(accountSeller, seller); err != nil {
		return err
	}
	if err := checkMut(accountSeller, seller); err != nil {
		return err
	}
	sellerTokenAcc, err := loadTokenAccount(accountSellerTokenAccount, sellerToken)
	if err != nil {
		return err
	}
	if err := checkMut(accountSellerTokenAccount, sellerToken); err != nil {
		return err
	}
	escrowAcc, err := loadTokenAccount(accountEscrow, escrow)
	if err != nil {
		return err
	}
	if err := checkMut(accountEscrow, escrow); err != nil {
		return err
	}
	sale, err := p.loadSale(saleInfo)
	if err != nil {
		return err
	}
	if err := checkMut(accountSale, saleInfo); err != nil {
		return err
	}
	if err := checkSystemAccount(accountAuthority, authority); err != nil {
		return err
	}
	if err := checkPrograms(accounts[5], accounts[6], accounts[7]); err != nil {
		return err
	}

	if err := checkTokenOwner(accountSellerTokenAccount, sellerTokenAcc, seller.Key); err != nil {
		return err
	}
	if seller.Key != sale.Seller {
		return ErrInvalidSellerAccount
	}
	if _, err := p.checkPDA(accountSale, saleInfo, SeedTokenSale, seller.Key[:]); err != nil {
		return err
	}
	authorityBump, err := p.checkPDA(accountAuthority, authority, SeedAuthority, saleInfo.Key[:])
	if err != nil {
		return err
	}
	if escrow.Key != sale.Escrow {
		return ErrInvalidEscrowAccount
	}
	if sale.Ended {
		return accountErr(accountEscrow, ErrAccountNotInitialized)
	}
	if err := checkTokenOwner(accountEscrow, escrowAcc, authority.Key); err != nil {
		return err
	}

	signer := [][]byte{SeedAuthority, saleInfo.Key[:], {authorityBump}}
	remaining := escrowAcc.Amount
	refund := escrow.Lamports()

	ic.Log("Transfer tokens: temp token account -> seller account")
	transfer := ledger.NewTokenTransferInstruction(escrow.Key, sellerToken.Key, authority.Key, remaining)
	if err := ic.Invoke(transfer, signer); err != nil {
		return err
	}

	ic.Log("close account temp token account")
	closeEscrow := ledger.NewCloseAccountInstruction(escrow.Key, seller.Key, authority.Key)
	if err := ic.Invoke(closeEscrow, signer); err != nil {
		return err
	}
	sale.Ended = true
	data, err := sale.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encode sale")
	}
	copy(saleInfo.Data(), data)

	ic.Emit(&domain.SaleEvent{
		Kind:      domain.SaleEventEnded,
		Sale:      saleInfo.Key,
		Seller:    seller.Key,
		Escrow:    escrow.Key,
		Tokens:    remaining,
		Lamports:  refund,
		UnitPrice: sale.UnitPrice,
	})
	return nil
}
