package domain

import (
	"strings"
	"time"
)

// TokenRecord is a persisted pump.fun launch. Natural key: Mint.
type TokenRecord struct {
	Mint         string
	Name         string
	Symbol       string
	URI          string
	BondingCurve string
	Creator      string
	Signature    string
	Slot         uint64
	BlockTime    int64
}

// TradeRecord is a persisted pump.fun trade.
// Natural key: (Signature, Outer, Inner).
type TradeRecord struct {
	Signature            string
	Outer                int
	Inner                int
	Slot                 uint64
	BlockTime            int64
	Source               Source
	TxFailed             bool
	Mint                 string
	User                 string
	IsBuy                bool
	SolAmount            uint64
	TokenAmount          uint64
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	Timestamp            int64
}

// SwapRecord is a persisted Raydium AMM v4 swap.
// Natural key: (Signature, Outer, Inner).
type SwapRecord struct {
	Signature    string
	Outer        int
	Inner        int
	Slot         uint64
	BlockTime    int64
	TxFailed     bool
	AMM          string
	InputMint    string
	InputAmount  uint64
	OutputMint   string
	OutputAmount uint64
	Signer       string
}

// NewTokenRecord converts a create instruction. Returns nil for other kinds.
// Name, symbol and URI are creator-supplied and lose any NUL bytes, which
// Postgres TEXT cannot hold.
func NewTokenRecord(ix *Instruction) *TokenRecord {
	if ix == nil || ix.Kind != KindCreate || ix.Create == nil {
		return nil
	}
	c := ix.Create
	return &TokenRecord{
		Mint:         c.Mint,
		Name:         stripNUL(c.Name),
		Symbol:       stripNUL(c.Symbol),
		URI:          stripNUL(c.URI),
		BondingCurve: c.BondingCurve,
		Creator:      c.User,
		Signature:    ix.Signature,
		Slot:         ix.Slot,
		BlockTime:    ix.BlockTime,
	}
}

// NewTradeRecord converts a trade instruction. Returns nil for other kinds.
func NewTradeRecord(ix *Instruction) *TradeRecord {
	if ix == nil || ix.Kind != KindTrade || ix.Trade == nil {
		return nil
	}
	t := ix.Trade
	return &TradeRecord{
		Signature:            ix.Signature,
		Outer:                ix.Position.Outer,
		Inner:                ix.Position.Inner,
		Slot:                 ix.Slot,
		BlockTime:            ix.BlockTime,
		Source:               ix.Source,
		TxFailed:             ix.TxFailed,
		Mint:                 t.Mint,
		User:                 t.User,
		IsBuy:                t.IsBuy,
		SolAmount:            t.SolAmount,
		TokenAmount:          t.TokenAmount,
		VirtualSolReserves:   t.VirtualSolReserves,
		VirtualTokenReserves: t.VirtualTokenReserves,
		Timestamp:            t.Timestamp,
	}
}

// NewSwapRecord converts a swap instruction. Returns nil for other kinds.
func NewSwapRecord(ix *Instruction) *SwapRecord {
	if ix == nil || ix.Kind != KindSwap || ix.Swap == nil {
		return nil
	}
	s := ix.Swap
	return &SwapRecord{
		Signature:    ix.Signature,
		Outer:        ix.Position.Outer,
		Inner:        ix.Position.Inner,
		Slot:         ix.Slot,
		BlockTime:    ix.BlockTime,
		TxFailed:     ix.TxFailed,
		AMM:          s.AMM,
		InputMint:    s.InputMint,
		InputAmount:  s.InputAmount,
		OutputMint:   s.OutputMint,
		OutputAmount: s.OutputAmount,
		Signer:       s.Signer,
	}
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// blockTime converts Unix seconds to UTC, zero when unknown.
func blockTime(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// Time returns the trade's block time.
func (r *TradeRecord) Time() time.Time { return blockTime(r.BlockTime) }

// Time returns the swap's block time.
func (r *SwapRecord) Time() time.Time { return blockTime(r.BlockTime) }

// CommittedBlock is everything one block committed, handed to post-commit consumers.
type CommittedBlock struct {
	Slot      uint64
	BlockTime int64
	Tokens    []*TokenRecord
	Trades    []*TradeRecord
	Swaps     []*SwapRecord
	Curves    []*CurveState // states applied by this block
}

// Empty reports whether the block produced no rows.
func (b *CommittedBlock) Empty() bool {
	return len(b.Tokens) == 0 && len(b.Trades) == 0 && len(b.Swaps) == 0 && len(b.Curves) == 0
}
