package ledger

import (
	"bytes"
	"fmt"
	"time"

	"solana-token-sale/internal/domain"
	"solana-token-sale/internal/solana"
)

// MaxInvokeDepth bounds nested cross-program invocations. The top-level
// instruction runs at depth 1.
const MaxInvokeDepth = 5

// frame is one program invocation on the call stack.
type frame struct {
	programID solana.Address
	accounts  []*AccountInfo
	pre       map[solana.Address]snapshot
}

// pendingEvent is an event emitted by a program, attributed to the top-level
// instruction that produced it.
type pendingEvent struct {
	event            *domain.SaleEvent
	instructionIndex int
}

// InvokeContext carries the execution state of one transaction. Programs use
// it for logging, events and cross-program invocation.
type InvokeContext struct {
	programs map[solana.Address]Program
	accounts map[solana.Address]*workingAccount
	rent     Rent
	slot     uint64
	now      time.Time

	stack       []*frame
	logs        []string
	events      []pendingEvent
	instruction int
}

// ProgramID returns the id of the program currently executing.
func (ic *InvokeContext) ProgramID() solana.Address {
	return ic.current().programID
}

// Rent returns the rent parameters in effect.
func (ic *InvokeContext) Rent() Rent { return ic.rent }

// Slot returns the slot assigned to the transaction.
func (ic *InvokeContext) Slot() uint64 { return ic.slot }

// Now returns the transaction's block time.
func (ic *InvokeContext) Now() time.Time { return ic.now }

// Log appends a program log line.
func (ic *InvokeContext) Log(format string, args ...interface{}) {
	ic.logs = append(ic.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// Emit records an event. Events are published only if the transaction commits.
func (ic *InvokeContext) Emit(event *domain.SaleEvent) {
	ic.events = append(ic.events, pendingEvent{event: event, instructionIndex: ic.instruction})
}

// Logs returns the log lines written so far.
func (ic *InvokeContext) Logs() []string {
	return ic.logs
}

func (ic *InvokeContext) current() *frame {
	return ic.stack[len(ic.stack)-1]
}

func (ic *InvokeContext) logf(format string, args ...interface{}) {
	ic.logs = append(ic.logs, fmt.Sprintf(format, args...))
}

// accountInfos resolves instruction metas against the working set.
func (ic *InvokeContext) accountInfos(metas []AccountMeta) ([]*AccountInfo, error) {
	infos := make([]*AccountInfo, len(metas))
	for i, meta := range metas {
		w, ok := ic.accounts[meta.Address]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotEnoughAccountKeys, meta.Address)
		}
		infos[i] = &AccountInfo{
			Key:        meta.Address,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			account:    w,
		}
	}
	return infos, nil
}

// processInstruction runs a top-level instruction. Signer flags were checked
// against transaction signatures before execution.
func (ic *InvokeContext) processInstruction(index int, ix Instruction) error {
	ic.instruction = index
	infos, err := ic.accountInfos(ix.Accounts)
	if err != nil {
		return err
	}
	return ic.run(ix.ProgramID, infos, ix.Data)
}

// Invoke performs a cross-program invocation from the current program.
// signerSeeds are seed sets (bump included) of program derived addresses the
// caller signs for.
func (ic *InvokeContext) Invoke(ix Instruction, signerSeeds ...[][]byte) error {
	caller := ic.current()
	if len(ic.stack) >= MaxInvokeDepth {
		return ErrCallDepth
	}
	for _, f := range ic.stack[:len(ic.stack)-1] {
		if f.programID == ix.ProgramID {
			return ErrReentrancyNotAllowed
		}
	}

	pdaSigners := make(map[solana.Address]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := solana.CreateProgramAddress(seeds, caller.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		pdaSigners[addr] = true
	}

	signer, writable := callerPrivileges(caller)
	if _, ok := signer[ix.ProgramID]; !ok {
		return fmt.Errorf("%w: program %s not passed to caller", ErrNotEnoughAccountKeys, ix.ProgramID)
	}
	for _, meta := range ix.Accounts {
		isSigner, known := signer[meta.Address]
		if !known {
			return fmt.Errorf("%w: %s", ErrNotEnoughAccountKeys, meta.Address)
		}
		if meta.IsWritable && !writable[meta.Address] {
			return fmt.Errorf("%w: %s writable", ErrPrivilegeEscalation, meta.Address)
		}
		if meta.IsSigner && !isSigner && !pdaSigners[meta.Address] {
			return fmt.Errorf("%w: %s signer", ErrPrivilegeEscalation, meta.Address)
		}
	}

	// Changes the caller made so far must be legal for the caller before the
	// callee sees them.
	if err := ic.verifyFrame(caller, false); err != nil {
		return err
	}

	infos, err := ic.accountInfos(ix.Accounts)
	if err != nil {
		return err
	}
	if err := ic.run(ix.ProgramID, infos, ix.Data); err != nil {
		return err
	}

	caller.pre = snapshotFrame(caller.accounts)
	return nil
}

func callerPrivileges(f *frame) (signer, writable map[solana.Address]bool) {
	signer = make(map[solana.Address]bool, len(f.accounts))
	writable = make(map[solana.Address]bool, len(f.accounts))
	for _, info := range f.accounts {
		signer[info.Key] = signer[info.Key] || info.IsSigner
		writable[info.Key] = writable[info.Key] || info.IsWritable
	}
	return signer, writable
}

// run pushes a frame, executes the program and verifies the result.
func (ic *InvokeContext) run(programID solana.Address, infos []*AccountInfo, data []byte) error {
	program, ok := ic.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedProgramID, programID)
	}

	f := &frame{programID: programID, accounts: infos, pre: snapshotFrame(infos)}
	ic.stack = append(ic.stack, f)
	defer func() { ic.stack = ic.stack[:len(ic.stack)-1] }()

	depth := len(ic.stack)
	ic.logf("Program %s invoke [%d]", programID, depth)
	if err := program.Process(ic, infos, data); err != nil {
		ic.logf("Program %s failed: %v", programID, err)
		return err
	}
	if err := ic.verifyFrame(f, true); err != nil {
		ic.logf("Program %s failed: %v", programID, err)
		return err
	}
	ic.logf("Program %s success", programID)
	return nil
}

func snapshotFrame(infos []*AccountInfo) map[solana.Address]snapshot {
	pre := make(map[solana.Address]snapshot, len(infos))
	for _, info := range infos {
		if _, ok := pre[info.Key]; !ok {
			pre[info.Key] = takeSnapshot(info.account)
		}
	}
	return pre
}

// verifyFrame checks the changes made since the frame's snapshot against the
// ownership rules of the frame's program:
//   - only the owner may change data or debit lamports
//   - only writable accounts may change at all
//   - only the owner may reassign an account, and only if its data is empty or
//     it is the one writing it
//   - executable accounts never change
//   - lamports are conserved across the frame when balanced is set
func (ic *InvokeContext) verifyFrame(f *frame, balanced bool) error {
	_, writable := callerPrivileges(f)

	var before, after []uint64
	for key, pre := range f.pre {
		cur := ic.accounts[key].state
		before = append(before, pre.lamports)
		after = append(after, cur.Lamports)

		dataChanged := !bytes.Equal(pre.data, cur.Data)
		changed := dataChanged || pre.lamports != cur.Lamports || pre.owner != cur.Owner || pre.executable != cur.Executable
		if !changed {
			continue
		}
		if pre.executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		if cur.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		if pre.owner != cur.Owner {
			if !writable[key] || pre.owner != f.programID {
				return fmt.Errorf("%w: %s", ErrModifiedProgramID, key)
			}
		}
		if cur.Lamports < pre.lamports && pre.owner != f.programID {
			return fmt.Errorf("%w: %s", ErrExternalAccountLamportSpend, key)
		}
		if pre.lamports != cur.Lamports && !writable[key] {
			return fmt.Errorf("%w: %s", ErrReadonlyLamportChange, key)
		}
		if dataChanged {
			if !writable[key] {
				return fmt.Errorf("%w: %s", ErrReadonlyDataModified, key)
			}
			if pre.owner != f.programID {
				return fmt.Errorf("%w: %s", ErrExternalAccountDataModified, key)
			}
		}
	}

	if balanced && !sumLamports(before).Eq(sumLamports(after)) {
		return ErrUnbalancedInstruction
	}
	return nil
}
