package solana

import (
	"encoding/base64"
	"fmt"
)

// Block represents a Solana block.
type Block struct {
	Slot         uint64
	ParentSlot   uint64
	Blockhash    string
	BlockTime    *int64 // Unix seconds
	BlockHeight  *uint64
	Transactions []Transaction
}

// Time returns the block time in Unix seconds, or 0 when unknown.
func (b *Block) Time() int64 {
	if b == nil || b.BlockTime == nil {
		return 0
	}
	return *b.BlockTime
}

// Transaction is a transaction inside a block with its metadata.
type Transaction struct {
	Index             int    // position within the block
	Signature         string // first signature
	Err               interface{}
	AccountKeys       []string // static keys, then loaded writable, then loaded readonly
	Instructions      []Instruction
	InnerInstructions []InnerInstructions
	LogMessages       []string
	TokenBalances     []TokenBalance // pre and post balances merged by account index
}

// Failed reports whether the transaction failed on chain.
func (t *Transaction) Failed() bool {
	return t.Err != nil
}

// ProgramID resolves the program address of an instruction.
// Returns "" when the index is out of range.
func (t *Transaction) ProgramID(ix *Instruction) string {
	return t.Account(ix.ProgramIDIndex)
}

// Account resolves an account key index. Returns "" when out of range.
func (t *Transaction) Account(index int) string {
	if index < 0 || index >= len(t.AccountKeys) {
		return ""
	}
	return t.AccountKeys[index]
}

// InnerGroup returns the inner instructions triggered by top-level instruction outer.
func (t *Transaction) InnerGroup(outer int) []Instruction {
	for _, g := range t.InnerInstructions {
		if g.Index == outer {
			return g.Instructions
		}
	}
	return nil
}

// MintOf returns the token mint held by the account at index, if known.
func (t *Transaction) MintOf(accountIndex int) string {
	for _, b := range t.TokenBalances {
		if b.AccountIndex == accountIndex {
			return b.Mint
		}
	}
	return ""
}

// Instruction is a raw compiled instruction.
type Instruction struct {
	ProgramIDIndex int
	Accounts       []int // indexes into Transaction.AccountKeys
	Data           []byte
	StackHeight    *int
}

// AccountAt resolves the i-th instruction account against the transaction keys.
// Returns "" when either index is out of range.
func (ix *Instruction) AccountAt(tx *Transaction, i int) string {
	if i < 0 || i >= len(ix.Accounts) {
		return ""
	}
	return tx.Account(ix.Accounts[i])
}

// InnerInstructions groups the instructions invoked by one top-level instruction.
type InnerInstructions struct {
	Index        int // index of the triggering top-level instruction
	Instructions []Instruction
}

// TokenBalance maps a transaction account to the SPL mint it holds.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// Bytes decodes the base64 account data.
func (a *AccountInfo) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return data, nil
}
