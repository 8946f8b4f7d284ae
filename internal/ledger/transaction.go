package ledger

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"solana-token-sale/internal/solana"
)

// MaxTransactionAccounts bounds the distinct accounts one transaction may lock.
const MaxTransactionAccounts = 64

// AccountMeta declares how an instruction accesses an account.
type AccountMeta struct {
	Address    solana.Address `json:"pubkey"`
	IsSigner   bool           `json:"isSigner"`
	IsWritable bool           `json:"isWritable"`
}

// Meta is shorthand for building an AccountMeta.
func Meta(address solana.Address, signer, writable bool) AccountMeta {
	return AccountMeta{Address: address, IsSigner: signer, IsWritable: writable}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID solana.Address `json:"programId"`
	Accounts  []AccountMeta  `json:"accounts"`
	Data      []byte         `json:"data"`
}

// Message is the signed part of a transaction. Payer is always the first
// signer. Nonce distinguishes otherwise identical messages.
type Message struct {
	Payer        solana.Address `json:"payer"`
	Nonce        uint64         `json:"nonce"`
	Instructions []Instruction  `json:"instructions"`
}

// Transaction is a message plus one signature per required signer, in the
// order returned by Message.Signers.
type Transaction struct {
	Signatures []solana.Signature `json:"signatures"`
	Message    Message            `json:"message"`
}

// Signers returns the payer followed by the distinct instruction signers in
// first-appearance order.
func (m *Message) Signers() []solana.Address {
	if m.Payer.IsZero() {
		return nil
	}
	signers := []solana.Address{m.Payer}
	seen := map[solana.Address]bool{m.Payer: true}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Address] {
				seen[meta.Address] = true
				signers = append(signers, meta.Address)
			}
		}
	}
	return signers
}

// AccountKeys returns every distinct account the message touches with merged
// privileges, payer first, then in first-appearance order. Program ids are
// included read-only.
func (m *Message) AccountKeys() []AccountMeta {
	keys := []AccountMeta{Meta(m.Payer, true, true)}
	index := map[solana.Address]int{m.Payer: 0}
	add := func(meta AccountMeta) {
		if i, ok := index[meta.Address]; ok {
			keys[i].IsSigner = keys[i].IsSigner || meta.IsSigner
			keys[i].IsWritable = keys[i].IsWritable || meta.IsWritable
			return
		}
		index[meta.Address] = len(keys)
		keys = append(keys, meta)
	}
	for _, ix := range m.Instructions {
		add(AccountMeta{Address: ix.ProgramID})
		for _, meta := range ix.Accounts {
			add(meta)
		}
	}
	return keys
}

// Serialize encodes the message in the borsh layout that signatures cover:
// payer | nonce u64 | u32 n | n x (program | u32 m | m x (key | signer u8 | writable u8) | u32 len | data).
func (m *Message) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteBytes(m.Payer[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(m.Nonce, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(m.Instructions)), bin.LE); err != nil {
		return nil, err
	}
	for _, ix := range m.Instructions {
		if err := enc.WriteBytes(ix.ProgramID[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint32(uint32(len(ix.Accounts)), bin.LE); err != nil {
			return nil, err
		}
		for _, meta := range ix.Accounts {
			if err := enc.WriteBytes(meta.Address[:], false); err != nil {
				return nil, err
			}
			if err := enc.WriteBool(meta.IsSigner); err != nil {
				return nil, err
			}
			if err := enc.WriteBool(meta.IsWritable); err != nil {
				return nil, err
			}
		}
		if err := enc.WriteUint32(uint32(len(ix.Data)), bin.LE); err != nil {
			return nil, err
		}
		if err := enc.WriteBytes(ix.Data, false); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// NewTransaction builds a transaction paid by the first keypair and signs it
// with keypairs. Every required signer must have a keypair.
func NewTransaction(nonce uint64, instructions []Instruction, keypairs ...*solana.Keypair) (*Transaction, error) {
	if len(keypairs) == 0 {
		return nil, fmt.Errorf("transaction requires a payer")
	}
	tx := &Transaction{Message: Message{Payer: keypairs[0].Address(), Nonce: nonce, Instructions: instructions}}
	if err := tx.Sign(keypairs...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills Signatures from keypairs.
func (tx *Transaction) Sign(keypairs ...*solana.Keypair) error {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	byAddress := make(map[solana.Address]*solana.Keypair, len(keypairs))
	for _, kp := range keypairs {
		byAddress[kp.Address()] = kp
	}

	signers := tx.Message.Signers()
	tx.Signatures = make([]solana.Signature, len(signers))
	for i, signer := range signers {
		kp, ok := byAddress[signer]
		if !ok {
			return fmt.Errorf("missing keypair for signer %s", signer)
		}
		tx.Signatures[i] = kp.Sign(msg)
	}
	return nil
}

// ID returns the first signature, which identifies the transaction.
func (tx *Transaction) ID() solana.Signature {
	if len(tx.Signatures) == 0 {
		return solana.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures checks every required signature against the serialized message.
func (tx *Transaction) VerifySignatures() error {
	signers := tx.Message.Signers()
	if len(signers) == 0 || len(signers) != len(tx.Signatures) {
		return ErrMissingSignatures
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	for i, signer := range signers {
		if !solana.Verify(signer, msg, tx.Signatures[i]) {
			return ErrSignatureVerification
		}
	}
	return nil
}

// MarshalBinary encodes the transaction as u32 count | signatures | message.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint32(uint32(len(tx.Signatures)), bin.LE); err != nil {
		return nil, err
	}
	for _, sig := range tx.Signatures {
		if err := enc.WriteBytes(sig[:], false); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteBytes(msg, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the MarshalBinary layout.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	dec := bin.NewBorshDecoder(data)

	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("read signature count: %w", err)
	}
	if int(count) > MaxTransactionAccounts {
		return ErrTooManyAccounts
	}
	sigs := make([]solana.Signature, count)
	for i := range sigs {
		raw, err := dec.ReadBytes(solana.SignatureLength)
		if err != nil {
			return fmt.Errorf("read signature %d: %w", i, err)
		}
		copy(sigs[i][:], raw)
	}

	var msg Message
	payer, err := dec.ReadBytes(solana.AddressLength)
	if err != nil {
		return fmt.Errorf("read payer: %w", err)
	}
	copy(msg.Payer[:], payer)
	if msg.Nonce, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("read nonce: %w", err)
	}
	n, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return fmt.Errorf("read instruction count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		ix, err := decodeInstruction(dec)
		if err != nil {
			return fmt.Errorf("read instruction %d: %w", i, err)
		}
		msg.Instructions = append(msg.Instructions, ix)
	}
	if dec.HasRemaining() {
		return fmt.Errorf("trailing bytes after transaction: %d", dec.Remaining())
	}

	tx.Signatures = sigs
	tx.Message = msg
	return nil
}

func decodeInstruction(dec *bin.Decoder) (Instruction, error) {
	var ix Instruction
	raw, err := dec.ReadBytes(solana.AddressLength)
	if err != nil {
		return ix, err
	}
	copy(ix.ProgramID[:], raw)

	m, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return ix, err
	}
	if int(m) > MaxTransactionAccounts {
		return ix, ErrTooManyAccounts
	}
	for j := uint32(0); j < m; j++ {
		var meta AccountMeta
		raw, err := dec.ReadBytes(solana.AddressLength)
		if err != nil {
			return ix, err
		}
		copy(meta.Address[:], raw)
		if meta.IsSigner, err = dec.ReadBool(); err != nil {
			return ix, err
		}
		if meta.IsWritable, err = dec.ReadBool(); err != nil {
			return ix, err
		}
		ix.Accounts = append(ix.Accounts, meta)
	}

	size, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return ix, err
	}
	data, err := dec.ReadBytes(int(size))
	if err != nil {
		return ix, err
	}
	ix.Data = append([]byte{}, data...)
	return ix, nil
}
