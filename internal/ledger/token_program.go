package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"solana-token-sale/internal/solana"
)

// Token instruction tags (one byte).
const (
	TokenInitializeMint    uint8 = 0
	TokenInitializeAccount uint8 = 1
	TokenTransfer          uint8 = 3
	TokenSetAuthority      uint8 = 6
	TokenMintTo            uint8 = 7
	TokenCloseAccount      uint8 = 9
)

// AuthorityType selects which authority SetAuthority changes.
type AuthorityType uint8

const (
	AuthorityMintTokens    AuthorityType = 0
	AuthorityFreezeAccount AuthorityType = 1
	AuthorityAccountOwner  AuthorityType = 2
	AuthorityCloseAccount  AuthorityType = 3
)

func tokenError(code uint32, name, message string) *ProgramError {
	return &ProgramError{Program: "token", Code: code, Name: name, Message: message}
}

// Token program errors.
var (
	ErrTokenNotRentExempt             = tokenError(0, "NotRentExempt", "Lamport balance below rent-exempt threshold")
	ErrTokenInsufficientFunds         = tokenError(1, "InsufficientFunds", "Insufficient funds")
	ErrTokenInvalidMint               = tokenError(2, "InvalidMint", "Invalid Mint")
	ErrTokenMintMismatch              = tokenError(3, "MintMismatch", "Account not associated with this Mint")
	ErrTokenOwnerMismatch             = tokenError(4, "OwnerMismatch", "Owner does not match")
	ErrTokenFixedSupply               = tokenError(5, "FixedSupply", "Fixed supply")
	ErrTokenAlreadyInUse              = tokenError(6, "AlreadyInUse", "Already in use")
	ErrTokenUninitializedState        = tokenError(9, "UninitializedState", "State is uninitialized")
	ErrTokenNonNativeHasBalance       = tokenError(11, "NonNativeHasBalance", "Non-native account can only be closed if its balance is zero")
	ErrTokenInvalidInstruction        = tokenError(12, "InvalidInstruction", "Invalid instruction")
	ErrTokenOverflow                  = tokenError(14, "Overflow", "Operation overflowed")
	ErrTokenAuthorityTypeNotSupported = tokenError(15, "AuthorityTypeNotSupported", "Account does not support specified authority type")
	ErrTokenAccountFrozen             = tokenError(17, "AccountFrozen", "Account is frozen")
)

// TokenProgram implements the SPL token instructions the sale needs.
type TokenProgram struct{}

// ID implements Program.
func (TokenProgram) ID() solana.Address { return solana.TokenProgramID }

// Name implements Program.
func (TokenProgram) Name() string { return "token" }

// Process implements Program.
func (p TokenProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ErrTokenInvalidInstruction
	}
	dec := bin.NewBinDecoder(data[1:])

	switch data[0] {
	case TokenInitializeMint:
		ic.Log("Instruction: InitializeMint")
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		return p.initializeMint(ic, accounts[0], accounts[1], dec)
	case TokenInitializeAccount:
		ic.Log("Instruction: InitializeAccount")
		if len(accounts) < 4 {
			return ErrNotEnoughAccountKeys
		}
		return p.initializeAccount(ic, accounts[0], accounts[1], accounts[2], accounts[3])
	case TokenTransfer:
		ic.Log("Instruction: Transfer")
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrTokenInvalidInstruction
		}
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		return p.transfer(accounts[0], accounts[1], accounts[2], amount)
	case TokenSetAuthority:
		ic.Log("Instruction: SetAuthority")
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		return p.setAuthority(accounts[0], accounts[1], dec)
	case TokenMintTo:
		ic.Log("Instruction: MintTo")
		amount, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrTokenInvalidInstruction
		}
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		return p.mintTo(accounts[0], accounts[1], accounts[2], amount)
	case TokenCloseAccount:
		ic.Log("Instruction: CloseAccount")
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		return p.closeAccount(accounts[0], accounts[1], accounts[2])
	default:
		return ErrTokenInvalidInstruction
	}
}

func checkTokenOwned(infos ...*AccountInfo) error {
	for _, info := range infos {
		if info.Owner() != solana.TokenProgramID {
			return fmt.Errorf("%w: %s owned by %s", ErrIncorrectProgramID, info.Key, info.Owner())
		}
	}
	return nil
}

func checkRentSysvar(info *AccountInfo) error {
	if info.Key != solana.SysVarRentID {
		return fmt.Errorf("%w: expected rent sysvar, got %s", ErrInvalidArgument, info.Key)
	}
	return nil
}

// loadTokenAccount decodes an initialized token account.
func loadTokenAccount(info *AccountInfo) (*solana.TokenAccount, error) {
	if err := checkTokenOwned(info); err != nil {
		return nil, err
	}
	if len(info.Data()) != solana.TokenAccountSize {
		return nil, ErrInvalidAccountData
	}
	acc, err := solana.DecodeTokenAccount(info.Data())
	if err != nil {
		return nil, ErrInvalidAccountData
	}
	if !acc.IsInitialized() {
		return nil, ErrTokenUninitializedState
	}
	return acc, nil
}

func loadMint(info *AccountInfo) (*solana.Mint, error) {
	if err := checkTokenOwned(info); err != nil {
		return nil, err
	}
	if len(info.Data()) != solana.MintSize {
		return nil, ErrInvalidAccountData
	}
	mint, err := solana.DecodeMint(info.Data())
	if err != nil {
		return nil, ErrInvalidAccountData
	}
	if !mint.IsInitialized {
		return nil, ErrTokenUninitializedState
	}
	return mint, nil
}

func storeTokenState(info *AccountInfo, encode func() ([]byte, error)) error {
	data, err := encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	copy(info.Data(), data)
	return nil
}

// checkAuthority requires expected to have signed through info.
func checkAuthority(expected solana.Address, info *AccountInfo) error {
	if expected != info.Key {
		return ErrTokenOwnerMismatch
	}
	if !info.IsSigner {
		return fmt.Errorf("%w: authority %s", ErrMissingRequiredSignature, info.Key)
	}
	return nil
}

func (TokenProgram) initializeMint(ic *InvokeContext, mintInfo, rent *AccountInfo, dec *bin.Decoder) error {
	decimals, err := dec.ReadUint8()
	if err != nil {
		return ErrTokenInvalidInstruction
	}
	authority, err := readAddress(dec)
	if err != nil {
		return ErrTokenInvalidInstruction
	}
	freeze, err := readOptionalAddress(dec)
	if err != nil {
		return ErrTokenInvalidInstruction
	}
	if err := checkRentSysvar(rent); err != nil {
		return err
	}
	if err := checkTokenOwned(mintInfo); err != nil {
		return err
	}
	if len(mintInfo.Data()) != solana.MintSize {
		return ErrInvalidAccountData
	}
	if existing, err := solana.DecodeMint(mintInfo.Data()); err == nil && existing.IsInitialized {
		return ErrTokenAlreadyInUse
	}
	if !ic.Rent().IsExempt(mintInfo.Lamports(), len(mintInfo.Data())) {
		return ErrTokenNotRentExempt
	}

	mint := &solana.Mint{
		MintAuthority:   &authority,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freeze,
	}
	return storeTokenState(mintInfo, mint.Encode)
}

func (TokenProgram) initializeAccount(ic *InvokeContext, accountInfo, mintInfo, ownerInfo, rent *AccountInfo) error {
	if err := checkRentSysvar(rent); err != nil {
		return err
	}
	if err := checkTokenOwned(accountInfo); err != nil {
		return err
	}
	if len(accountInfo.Data()) != solana.TokenAccountSize {
		return ErrInvalidAccountData
	}
	if existing, err := solana.DecodeTokenAccount(accountInfo.Data()); err == nil && existing.IsInitialized() {
		return ErrTokenAlreadyInUse
	}
	if !ic.Rent().IsExempt(accountInfo.Lamports(), len(accountInfo.Data())) {
		return ErrTokenNotRentExempt
	}
	if _, err := loadMint(mintInfo); err != nil {
		return ErrTokenInvalidMint
	}

	acc := &solana.TokenAccount{
		Mint:  mintInfo.Key,
		Owner: ownerInfo.Key,
		State: solana.TokenAccountInitialized,
	}
	return storeTokenState(accountInfo, acc.Encode)
}

func (TokenProgram) transfer(sourceInfo, destInfo, authority *AccountInfo, amount uint64) error {
	source, err := loadTokenAccount(sourceInfo)
	if err != nil {
		return err
	}
	dest, err := loadTokenAccount(destInfo)
	if err != nil {
		return err
	}
	if source.State == solana.TokenAccountFrozen || dest.State == solana.TokenAccountFrozen {
		return ErrTokenAccountFrozen
	}
	if source.Amount < amount {
		return ErrTokenInsufficientFunds
	}
	if source.Mint != dest.Mint {
		return ErrTokenMintMismatch
	}
	if err := checkAuthority(source.Owner, authority); err != nil {
		return err
	}
	if sourceInfo.Key == destInfo.Key {
		return nil
	}

	credited, err := CheckedAdd(dest.Amount, amount)
	if err != nil {
		return ErrTokenOverflow
	}
	source.Amount -= amount
	dest.Amount = credited
	if err := storeTokenState(sourceInfo, source.Encode); err != nil {
		return err
	}
	return storeTokenState(destInfo, dest.Encode)
}

func (TokenProgram) setAuthority(target, authority *AccountInfo, dec *bin.Decoder) error {
	kind, err := dec.ReadUint8()
	if err != nil {
		return ErrTokenInvalidInstruction
	}
	newAuthority, err := readOptionalAddress(dec)
	if err != nil {
		return ErrTokenInvalidInstruction
	}

	if len(target.Data()) == solana.TokenAccountSize {
		acc, err := loadTokenAccount(target)
		if err != nil {
			return err
		}
		if acc.State == solana.TokenAccountFrozen {
			return ErrTokenAccountFrozen
		}
		switch AuthorityType(kind) {
		case AuthorityAccountOwner:
			if err := checkAuthority(acc.Owner, authority); err != nil {
				return err
			}
			if newAuthority == nil {
				return ErrTokenInvalidInstruction
			}
			acc.Owner = *newAuthority
			acc.Delegate = nil
			acc.DelegatedAmount = 0
		case AuthorityCloseAccount:
			current := acc.Owner
			if acc.CloseAuthority != nil {
				current = *acc.CloseAuthority
			}
			if err := checkAuthority(current, authority); err != nil {
				return err
			}
			acc.CloseAuthority = newAuthority
		default:
			return ErrTokenAuthorityTypeNotSupported
		}
		return storeTokenState(target, acc.Encode)
	}

	mint, err := loadMint(target)
	if err != nil {
		return err
	}
	switch AuthorityType(kind) {
	case AuthorityMintTokens:
		if mint.MintAuthority == nil {
			return ErrTokenFixedSupply
		}
		if err := checkAuthority(*mint.MintAuthority, authority); err != nil {
			return err
		}
		mint.MintAuthority = newAuthority
	case AuthorityFreezeAccount:
		if mint.FreezeAuthority == nil {
			return tokenError(16, "MintCannotFreeze", "This token mint cannot freeze accounts")
		}
		if err := checkAuthority(*mint.FreezeAuthority, authority); err != nil {
			return err
		}
		mint.FreezeAuthority = newAuthority
	default:
		return ErrTokenAuthorityTypeNotSupported
	}
	return storeTokenState(target, mint.Encode)
}

func (TokenProgram) mintTo(mintInfo, destInfo, authority *AccountInfo, amount uint64) error {
	mint, err := loadMint(mintInfo)
	if err != nil {
		return err
	}
	dest, err := loadTokenAccount(destInfo)
	if err != nil {
		return err
	}
	if dest.State == solana.TokenAccountFrozen {
		return ErrTokenAccountFrozen
	}
	if dest.Mint != mintInfo.Key {
		return ErrTokenMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrTokenFixedSupply
	}
	if err := checkAuthority(*mint.MintAuthority, authority); err != nil {
		return err
	}

	supply, err := CheckedAdd(mint.Supply, amount)
	if err != nil {
		return ErrTokenOverflow
	}
	balance, err := CheckedAdd(dest.Amount, amount)
	if err != nil {
		return ErrTokenOverflow
	}
	mint.Supply = supply
	dest.Amount = balance
	if err := storeTokenState(mintInfo, mint.Encode); err != nil {
		return err
	}
	return storeTokenState(destInfo, dest.Encode)
}

func (TokenProgram) closeAccount(accountInfo, destInfo, authority *AccountInfo) error {
	if accountInfo.Key == destInfo.Key {
		return ErrInvalidAccountData
	}
	acc, err := loadTokenAccount(accountInfo)
	if err != nil {
		return err
	}
	if acc.IsNative == nil && acc.Amount != 0 {
		return ErrTokenNonNativeHasBalance
	}
	current := acc.Owner
	if acc.CloseAuthority != nil {
		current = *acc.CloseAuthority
	}
	if err := checkAuthority(current, authority); err != nil {
		return err
	}

	credited, err := CheckedAdd(destInfo.Lamports(), accountInfo.Lamports())
	if err != nil {
		return ErrTokenOverflow
	}
	destInfo.SetLamports(credited)
	accountInfo.SetLamports(0)
	accountInfo.SetData(nil)
	accountInfo.Assign(solana.SystemProgramID)
	return nil
}

func readOptionalAddress(dec *bin.Decoder) (*solana.Address, error) {
	tag, err := dec.ReadUint8()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	addr, err := readAddress(dec)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func writeOptionalAddress(enc *bin.Encoder, addr *solana.Address) {
	if addr == nil {
		_ = enc.WriteUint8(0)
		return
	}
	_ = enc.WriteUint8(1)
	_ = enc.WriteBytes(addr[:], false)
}

func tokenInstruction(accounts []AccountMeta, build func(enc *bin.Encoder)) Instruction {
	buf := new(bytes.Buffer)
	build(bin.NewBinEncoder(buf))
	return Instruction{ProgramID: solana.TokenProgramID, Accounts: accounts, Data: buf.Bytes()}
}

// NewInitializeMintInstruction initializes a mint account.
func NewInitializeMintInstruction(mint solana.Address, decimals uint8, mintAuthority solana.Address, freezeAuthority *solana.Address) Instruction {
	return tokenInstruction(
		[]AccountMeta{Meta(mint, false, true), Meta(solana.SysVarRentID, false, false)},
		func(enc *bin.Encoder) {
			_ = enc.WriteUint8(TokenInitializeMint)
			_ = enc.WriteUint8(decimals)
			_ = enc.WriteBytes(mintAuthority[:], false)
			writeOptionalAddress(enc, freezeAuthority)
		},
	)
}

// NewInitializeAccountInstruction initializes a token account for mint held by owner.
func NewInitializeAccountInstruction(account, mint, owner solana.Address) Instruction {
	return tokenInstruction(
		[]AccountMeta{
			Meta(account, false, true),
			Meta(mint, false, false),
			Meta(owner, false, false),
			Meta(solana.SysVarRentID, false, false),
		},
		func(enc *bin.Encoder) { _ = enc.WriteUint8(TokenInitializeAccount) },
	)
}

// NewTokenTransferInstruction moves amount tokens from source to dest.
func NewTokenTransferInstruction(source, dest, authority solana.Address, amount uint64) Instruction {
	return tokenInstruction(
		[]AccountMeta{Meta(source, false, true), Meta(dest, false, true), Meta(authority, true, false)},
		func(enc *bin.Encoder) {
			_ = enc.WriteUint8(TokenTransfer)
			_ = enc.WriteUint64(amount, bin.LE)
		},
	)
}

// NewSetAuthorityInstruction changes an authority of a mint or token account.
// A nil newAuthority clears it.
func NewSetAuthorityInstruction(target, currentAuthority solana.Address, kind AuthorityType, newAuthority *solana.Address) Instruction {
	return tokenInstruction(
		[]AccountMeta{Meta(target, false, true), Meta(currentAuthority, true, false)},
		func(enc *bin.Encoder) {
			_ = enc.WriteUint8(TokenSetAuthority)
			_ = enc.WriteUint8(uint8(kind))
			writeOptionalAddress(enc, newAuthority)
		},
	)
}

// NewMintToInstruction mints amount tokens into dest.
func NewMintToInstruction(mint, dest, authority solana.Address, amount uint64) Instruction {
	return tokenInstruction(
		[]AccountMeta{Meta(mint, false, true), Meta(dest, false, true), Meta(authority, true, false)},
		func(enc *bin.Encoder) {
			_ = enc.WriteUint8(TokenMintTo)
			_ = enc.WriteUint64(amount, bin.LE)
		},
	)
}

// NewCloseAccountInstruction closes an empty token account, sending its
// lamports to dest.
func NewCloseAccountInstruction(account, dest, authority solana.Address) Instruction {
	return tokenInstruction(
		[]AccountMeta{Meta(account, false, true), Meta(dest, false, true), Meta(authority, true, false)},
		func(enc *bin.Encoder) { _ = enc.WriteUint8(TokenCloseAccount) },
	)
}
