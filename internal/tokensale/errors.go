package tokensale

import (
	"fmt"

	"github.com/go-faster/errors"

	"solana-token-sale/internal/ledger"
)

func programError(code uint32, name, message string) *ledger.ProgramError {
	return &ledger.ProgramError{Program: ProgramName, Code: code, Name: name, Message: message}
}

// Sale errors.
var (
	ErrInvalidSellerAccount  = programError(6000, "InvalidSellerAccount", "Invalid Seller")
	ErrPurchaseLimitExceeded = programError(6001, "PurchaseLimitExceeded", "Purchase Limit Exceeded")
	ErrInvalidEscrowAccount  = programError(6002, "InvalidEscrowAccount", "Invalid Escrow Account")
	ErrArithmeticOverflow    = programError(6003, "ArithmeticOverflow", "Arithmetic Overflow")
	ErrInvalidPurchaseAmount = programError(6004, "InvalidPurchaseAmount", "Purchase amount must be greater than zero")
)

// Framework errors raised while resolving instruction data and accounts.
var (
	ErrInstructionMissing           = programError(100, "InstructionMissing", "8 byte instruction identifier not provided")
	ErrInstructionFallbackNotFound  = programError(101, "InstructionFallbackNotFound", "Fallback functions are not supported")
	ErrInstructionDidNotDeserialize = programError(102, "InstructionDidNotDeserialize", "The program could not deserialize the given instruction")

	ErrConstraintMut        = programError(2000, "ConstraintMut", "A mut constraint was violated")
	ErrConstraintSeeds      = programError(2006, "ConstraintSeeds", "A seeds constraint was violated")
	ErrConstraintTokenOwner = programError(2015, "ConstraintTokenOwner", "A token owner constraint was violated")

	ErrAccountDiscriminatorNotFound = programError(3001, "AccountDiscriminatorNotFound", "No discriminator was found on the account")
	ErrAccountDiscriminatorMismatch = programError(3002, "AccountDiscriminatorMismatch", "8 byte discriminator did not match what was expected")
	ErrAccountDidNotDeserialize     = programError(3003, "AccountDidNotDeserialize", "Failed to deserialize the account")
	ErrAccountNotEnoughKeys         = programError(3005, "AccountNotEnoughKeys", "Not enough account keys given to the instruction")
	ErrAccountOwnedByWrongProgram   = programError(3007, "AccountOwnedByWrongProgram", "The given account is owned by a different program than expected")
	ErrInvalidProgramID             = programError(3008, "InvalidProgramId", "Program ID was not as expected")
	ErrAccountNotSigner             = programError(3010, "AccountNotSigner", "The given account did not sign")
	ErrAccountNotSystemOwned        = programError(3011, "AccountNotSystemOwned", "The given account is not owned by the system program")
	ErrAccountNotInitialized        = programError(3012, "AccountNotInitialized", "The program expected this account to be already initialized")
	ErrAccountSysvarMismatch        = programError(3015, "AccountSysvarMismatch", "The given public key does not match the required sysvar")
)

// AccountError attributes a framework error to a named instruction account.
type AccountError struct {
	Account string
	Err     *ledger.ProgramError
}

// Error implements error.
func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.Account, e.Err)
}

// Unwrap returns the program error.
func (e *AccountError) Unwrap() error {
	return e.Err
}

func accountErr(name string, err *ledger.ProgramError) error {
	return &AccountError{Account: name, Err: err}
}

// ErrorClass groups failures by what the caller did wrong.
type ErrorClass string

const (
	ClassAuthorization ErrorClass = "authorization"
	ClassPolicy        ErrorClass = "policy"
	ClassArithmetic    ErrorClass = "arithmetic"
	ClassResource      ErrorClass = "resource"
	ClassState         ErrorClass = "state"
	ClassInput         ErrorClass = "input"
	ClassRuntime       ErrorClass = "runtime"
)

// Classify maps a transaction error to its class. A missing whitelist entry is
// an authorization failure even though it surfaces as AccountNotInitialized.
func Classify(err error) ErrorClass {
	var ae *AccountError
	if errors.As(err, &ae) && ae.Account == accountBuyerWhitelist && ae.Err.Code == ErrAccountNotInitialized.Code {
		return ClassAuthorization
	}
	if errors.Is(err, ledger.ErrArithmeticOverflow) {
		return ClassArithmetic
	}

	pe, ok := ledger.AsProgramError(err)
	if !ok {
		return ClassRuntime
	}
	switch pe.Program {
	case ProgramName:
		switch {
		case pe.Code == 6001 || pe.Code == 6004:
			return ClassPolicy
		case pe.Code == 6003:
			return ClassArithmetic
		case pe.Code >= 6000 || (pe.Code >= 2000 && pe.Code < 3000) || pe.Code == ErrAccountNotSigner.Code:
			return ClassAuthorization
		case pe.Code >= 3000:
			return ClassState
		default:
			return ClassInput
		}
	case "system":
		if pe.Code == ledger.ErrSystemAccountAlreadyInUse.Code {
			return ClassState
		}
		return ClassResource
	case "token":
		switch pe.Code {
		case ledger.ErrTokenMintMismatch.Code, ledger.ErrTokenOwnerMismatch.Code:
			return ClassAuthorization
		case ledger.ErrTokenOverflow.Code:
			return ClassArithmetic
		}
		return ClassResource
	}
	return ClassRuntime
}
