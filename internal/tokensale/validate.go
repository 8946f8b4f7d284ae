package tokensale

import (
	"solana-token-sale/internal/ledger"
	"solana-token-sale/internal/solana"
)

// Instruction account names, used to attribute validation errors.
const (
	accountSeller             = "seller"
	accountBuyer              = "buyer"
	accountEscrow             = "temp_token_account"
	accountSale               = "token_sale_account"
	accountAuthority          = "token_sale_token_acct_authority"
	accountBuyerWhitelist     = "buyer_whitelist_account"
	accountBuyerTokenAccount  = "buyer_token_account"
	accountSellerTokenAccount = "seller_token_account"
	accountTokenProgram       = "token_program"
	accountSystemProgram      = "system_program"
	accountRent               = "rent"
)

func requireAccounts(accounts []*ledger.AccountInfo, n int) error {
	if len(accounts) < n {
		return ErrAccountNotEnoughKeys
	}
	return nil
}

func checkSigner(name string, info *ledger.AccountInfo) error {
	if !info.IsSigner {
		return accountErr(name, ErrAccountNotSigner)
	}
	return nil
}

func checkMut(name string, info *ledger.AccountInfo) error {
	if !info.IsWritable {
		return accountErr(name, ErrConstraintMut)
	}
	return nil
}

func checkSystemAccount(name string, info *ledger.AccountInfo) error {
	if info.Owner() != solana.SystemProgramID {
		return accountErr(name, ErrAccountNotSystemOwned)
	}
	return nil
}

func checkProgram(name string, info *ledger.AccountInfo, id solana.Address) error {
	if info.Key != id || !info.Executable() {
		return accountErr(name, ErrInvalidProgramID)
	}
	return nil
}

func checkRent(info *ledger.AccountInfo) error {
	if info.Key != solana.SysVarRentID {
		return accountErr(accountRent, ErrAccountSysvarMismatch)
	}
	return nil
}

// checkOwnedBy rejects uninitialized accounts and accounts of another program.
func checkOwnedBy(name string, info *ledger.AccountInfo, owner solana.Address) error {
	if info.Owner() == solana.SystemProgramID && info.Lamports() == 0 {
		return accountErr(name, ErrAccountNotInitialized)
	}
	if info.Owner() != owner {
		return accountErr(name, ErrAccountOwnedByWrongProgram)
	}
	return nil
}

func loadTokenAccount(name string, info *ledger.AccountInfo) (*solana.TokenAccount, error) {
	if err := checkOwnedBy(name, info, solana.TokenProgramID); err != nil {
		return nil, err
	}
	acc, err := solana.DecodeTokenAccount(info.Data())
	if err != nil || !acc.IsInitialized() {
		return nil, accountErr(name, ErrAccountDidNotDeserialize)
	}
	return acc, nil
}

func checkTokenOwner(name string, acc *solana.TokenAccount, authority solana.Address) error {
	if acc.Owner != authority {
		return accountErr(name, ErrConstraintTokenOwner)
	}
	return nil
}

func (p *Program) loadSale(info *ledger.AccountInfo) (*TokenSale, error) {
	if err := checkOwnedBy(accountSale, info, p.id); err != nil {
		return nil, err
	}
	sale, err := DecodeTokenSale(info.Data())
	if err != nil {
		return nil, wrapDecodeErr(accountSale, err)
	}
	return sale, nil
}

func (p *Program) loadWhitelist(info *ledger.AccountInfo) (*WhitelistData, error) {
	if err := checkOwnedBy(accountBuyerWhitelist, info, p.id); err != nil {
		return nil, err
	}
	entry, err := DecodeWhitelistData(info.Data())
	if err != nil {
		return nil, wrapDecodeErr(accountBuyerWhitelist, err)
	}
	return entry, nil
}

func wrapDecodeErr(name string, err error) error {
	if pe, ok := ledger.AsProgramError(err); ok {
		return accountErr(name, pe)
	}
	return accountErr(name, ErrAccountDidNotDeserialize)
}

// checkPDA verifies info sits at the address derived from seeds and returns
// the bump.
func (p *Program) checkPDA(name string, info *ledger.AccountInfo, seeds ...[]byte) (uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, p.id)
	if err != nil || info.Key != addr {
		return 0, accountErr(name, ErrConstraintSeeds)
	}
	return bump, nil
}

// checkPrograms validates the trailing token program, system program and
// rent sysvar accounts shared by every instruction.
func checkPrograms(tokenProgram, systemProgram, rent *ledger.AccountInfo) error {
	if err := checkProgram(accountTokenProgram, tokenProgram, solana.TokenProgramID); err != nil {
		return err
	}
	if err := checkProgram(accountSystemProgram, systemProgram, solana.SystemProgramID); err != nil {
		return err
	}
	return checkRent(rent)
}
