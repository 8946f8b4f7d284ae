package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"solana-token-sale/internal/solana"
)

// System instruction tags (u32 little endian).
const (
	SystemCreateAccount uint32 = 0
	SystemAssign        uint32 = 1
	SystemTransfer      uint32 = 2
)

// MaxPermittedDataLength bounds account data created by the system program.
const MaxPermittedDataLength = 10 * 1024 * 1024

// System program errors.
var (
	ErrSystemAccountAlreadyInUse = &ProgramError{Program: "system", Code: 0, Name: "AccountAlreadyInUse", Message: "an account with the same address already exists"}
	ErrSystemNegativeLamports    = &ProgramError{Program: "system", Code: 1, Name: "ResultWithNegativeLamports", Message: "account does not have enough SOL to perform the operation"}
	ErrSystemInvalidDataLength   = &ProgramError{Program: "system", Code: 3, Name: "InvalidAccountDataLength", Message: "cannot allocate account data of this length"}
)

// SystemProgram creates accounts, assigns owners and moves lamports.
type SystemProgram struct{}

// ID implements Program.
func (SystemProgram) ID() solana.Address { return solana.SystemProgramID }

// Name implements Program.
func (SystemProgram) Name() string { return "system" }

// Process implements Program.
func (p SystemProgram) Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error {
	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return ErrInvalidInstructionData
	}

	switch tag {
	case SystemCreateAccount:
		lamports, space, owner, err := decodeCreateAccount(dec)
		if err != nil {
			return err
		}
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		return p.createAccount(ic, accounts[0], accounts[1], lamports, space, owner)
	case SystemAssign:
		owner, err := readAddress(dec)
		if err != nil {
			return ErrInvalidInstructionData
		}
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		return p.assign(accounts[0], owner)
	case SystemTransfer:
		lamports, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstructionData
		}
		if len(accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		return p.transfer(ic, accounts[0], accounts[1], lamports)
	default:
		return ErrInvalidInstructionData
	}
}

func decodeCreateAccount(dec *bin.Decoder) (lamports, space uint64, owner solana.Address, err error) {
	if lamports, err = dec.ReadUint64(bin.LE); err != nil {
		return 0, 0, owner, ErrInvalidInstructionData
	}
	if space, err = dec.ReadUint64(bin.LE); err != nil {
		return 0, 0, owner, ErrInvalidInstructionData
	}
	if owner, err = readAddress(dec); err != nil {
		return 0, 0, owner, ErrInvalidInstructionData
	}
	return lamports, space, owner, nil
}

func (p SystemProgram) createAccount(ic *InvokeContext, from, to *AccountInfo, lamports, space uint64, owner solana.Address) error {
	if !to.IsSigner {
		return fmt.Errorf("%w: create account %s", ErrMissingRequiredSignature, to.Key)
	}
	if to.Lamports() > 0 || len(to.Data()) > 0 || to.Owner() != solana.SystemProgramID {
		ic.logf("Create Account: account Address { address: %s, base: None } already in use", to.Key)
		return ErrSystemAccountAlreadyInUse
	}
	if space > MaxPermittedDataLength {
		return ErrSystemInvalidDataLength
	}

	to.SetData(make([]byte, space))
	to.Assign(owner)
	return p.transfer(ic, from, to, lamports)
}

func (SystemProgram) assign(account *AccountInfo, owner solana.Address) error {
	if account.Owner() == owner {
		return nil
	}
	if !account.IsSigner {
		return fmt.Errorf("%w: assign %s", ErrMissingRequiredSignature, account.Key)
	}
	account.Assign(owner)
	return nil
}

func (SystemProgram) transfer(ic *InvokeContext, from, to *AccountInfo, lamports uint64) error {
	if !from.IsSigner {
		return fmt.Errorf("%w: transfer from %s", ErrMissingRequiredSignature, from.Key)
	}
	if len(from.Data()) > 0 {
		return fmt.Errorf("%w: transfer from must not carry data", ErrInvalidArgument)
	}
	if from.Lamports() < lamports {
		ic.logf("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return ErrSystemNegativeLamports
	}
	if from.Key == to.Key {
		return nil
	}
	credited, err := CheckedAdd(to.Lamports(), lamports)
	if err != nil {
		return err
	}
	from.SetLamports(from.Lamports() - lamports)
	to.SetLamports(credited)
	return nil
}

func readAddress(dec *bin.Decoder) (solana.Address, error) {
	var a solana.Address
	raw, err := dec.ReadBytes(solana.AddressLength)
	if err != nil {
		return a, err
	}
	copy(a[:], raw)
	return a, nil
}

// NewCreateAccountInstruction creates space bytes at to, funded by from and
// owned by owner. Both accounts must sign.
func NewCreateAccountInstruction(from, to solana.Address, lamports, space uint64, owner solana.Address) Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(SystemCreateAccount, bin.LE)
	_ = enc.WriteUint64(lamports, bin.LE)
	_ = enc.WriteUint64(space, bin.LE)
	_ = enc.WriteBytes(owner[:], false)
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []AccountMeta{Meta(from, true, true), Meta(to, true, true)},
		Data:      buf.Bytes(),
	}
}

// NewAssignInstruction reassigns account to owner.
func NewAssignInstruction(account, owner solana.Address) Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(SystemAssign, bin.LE)
	_ = enc.WriteBytes(owner[:], false)
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []AccountMeta{Meta(account, true, true)},
		Data:      buf.Bytes(),
	}
}

// NewTransferInstruction moves lamports from a system account.
func NewTransferInstruction(from, to solana.Address, lamports uint64) Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(SystemTransfer, bin.LE)
	_ = enc.WriteUint64(lamports, bin.LE)
	return Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []AccountMeta{Meta(from, true, true), Meta(to, false, true)},
		Data:      buf.Bytes(),
	}
}
