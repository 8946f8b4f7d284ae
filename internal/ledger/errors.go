package ledger

import (
	"errors"
	"fmt"
)

// Transaction-level errors. These abort the transaction before or after
// instruction execution.
var (
	ErrSignatureVerification = errors.New("transaction signature verification failure")
	ErrMissingSignatures     = errors.New("transaction signature count does not match required signers")
	ErrAlreadyProcessed      = errors.New("transaction has already been processed")
	ErrEmptyTransaction      = errors.New("transaction has no instructions")
	ErrConflict              = errors.New("account modified by a concurrent transaction")
	ErrLockTimeout           = errors.New("timed out waiting for account locks")
	ErrTooManyAccounts       = errors.New("transaction references too many accounts")
	ErrFaucetDisabled        = errors.New("faucet is disabled")
	ErrFaucetLimit           = errors.New("airdrop exceeds faucet limit")
)

// Instruction-level runtime errors. Programs and the runtime return these
// when an instruction violates an execution rule.
var (
	ErrMissingRequiredSignature    = errors.New("missing required signature for instruction")
	ErrNotEnoughAccountKeys        = errors.New("insufficient account keys for instruction")
	ErrInvalidInstructionData      = errors.New("invalid instruction data")
	ErrInvalidArgument             = errors.New("invalid program argument")
	ErrInvalidAccountData          = errors.New("invalid account data for instruction")
	ErrIncorrectProgramID          = errors.New("incorrect program id for instruction")
	ErrUnsupportedProgramID        = errors.New("unsupported program id")
	ErrReadonlyDataModified        = errors.New("instruction modified data of a read-only account")
	ErrReadonlyLamportChange       = errors.New("instruction changed the balance of a read-only account")
	ErrExternalAccountDataModified = errors.New("instruction modified data of an account it does not own")
	ErrExternalAccountLamportSpend = errors.New("instruction spent from the balance of an account it does not own")
	ErrModifiedProgramID           = errors.New("instruction illegally modified the program id of an account")
	ErrExecutableModified          = errors.New("instruction changed executable accounts data")
	ErrUnbalancedInstruction       = errors.New("sum of account balances before and after instruction do not match")
	ErrPrivilegeEscalation         = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrCallDepth                   = errors.New("cross-program invocation call depth too deep")
	ErrReentrancyNotAllowed        = errors.New("cross-program invocation reentrancy not allowed for this instruction")
	ErrInsufficientFundsForRent    = errors.New("transaction results in an account with insufficient funds for rent")
	ErrArithmeticOverflow          = errors.New("program arithmetic overflowed")
	ErrInvalidSeeds                = errors.New("provided seeds do not result in a valid address")
)

// ProgramError is a numbered error returned by a program, the analogue of a
// custom program error code.
type ProgramError struct {
	Program string // program name, e.g. "system", "token", "token_sale"
	Code    uint32
	Name    string
	Message string
}

// Error implements error.
func (e *ProgramError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error %d (%s): %s", e.Program, e.Code, e.Name, e.Message)
	}
	return fmt.Sprintf("%s error %d (%s)", e.Program, e.Code, e.Name)
}

// Is matches another *ProgramError with the same program and code.
func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	if !ok {
		return false
	}
	return t.Program == e.Program && t.Code == e.Code
}

// InstructionError attributes a failure to a top-level instruction.
type InstructionError struct {
	Index int
	Err   error
}

// Error implements error.
func (e *InstructionError) Error() string {
	return fmt.Sprintf("error processing instruction %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *InstructionError) Unwrap() error {
	return e.Err
}

// AsProgramError extracts the *ProgramError from err, if any.
func AsProgramError(err error) (*ProgramError, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
