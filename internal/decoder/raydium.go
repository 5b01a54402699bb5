package decoder

import (
	"encoding/base64"
	"fmt"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

// Raydium AMM v4 swap instruction tags.
const (
	raydiumSwapBaseIn    = 9
	raydiumSwapBaseOut   = 11
	raydiumSwapBaseInV2  = 16
	raydiumSwapBaseOutV2 = 17
)

// ray_log types for swaps.
const (
	rayLogSwapBaseIn  = 3
	rayLogSwapBaseOut = 4
)

const (
	raydiumAMMAccount = 1
	// Smallest swap layout: token program, amm, authority, two vaults,
	// user source, user destination, user owner.
	raydiumMinSwapAccounts = 8

	raydiumLogMarker = "Program log: ray_log: "
)

// Raydium decodes Raydium AMM v4 swaps.
type Raydium struct {
	programID string
	report    ErrorHandler
}

var _ Decoder = (*Raydium)(nil)

// NewRaydium creates a Raydium AMM v4 decoder. report may be nil.
func NewRaydium(report ErrorHandler) *Raydium {
	if report == nil {
		report = func(*DecodeError) {}
	}
	return &Raydium{programID: domain.RaydiumAMMV4ProgramID, report: report}
}

// Venue implements Decoder.
func (d *Raydium) Venue() domain.Venue {
	return domain.VenueRaydiumAMMV4
}

// rayLog is a decoded swap log.
type rayLog struct {
	baseIn bool
	in     uint64 // amount_in or deduct_in
	out    uint64 // out_amount or amount_out
}

// Decode implements Decoder.
//
// Swap logs are assigned to swap instructions in call order. Amounts come
// from the log when its direction matches the instruction, from the
// instruction arguments otherwise. Mints are resolved from token balances.
func (d *Raydium) Decode(tx *solana.Transaction, meta TxMeta) []domain.Instruction {
	calls := programCalls(tx, d.programID)
	if len(calls) == 0 {
		return nil
	}

	logs := d.swapLogs(tx)
	var out []domain.Instruction
	next := 0

	for _, c := range calls {
		r := NewReader(c.ix.Data)
		tag, err := r.U8("instruction")
		if err != nil {
			continue
		}

		var baseIn bool
		switch tag {
		case raydiumSwapBaseIn, raydiumSwapBaseInV2:
			baseIn = true
		case raydiumSwapBaseOut, raydiumSwapBaseOutV2:
			baseIn = false
		default:
			continue
		}

		var log *rayLog
		if next < len(logs) {
			log = &logs[next]
			next++
		}

		swap, err := d.decodeSwap(tx, c.ix, r, baseIn, log)
		if err != nil {
			d.fail(tx, c.pos, fmt.Errorf("swap %d: %w", tag, err))
			continue
		}
		ix := base(domain.VenueRaydiumAMMV4, domain.KindSwap, domain.SourceInstruction, tx, meta, c.pos)
		if log != nil && log.baseIn == baseIn {
			ix.Source = domain.SourceLog
		}
		ix.Swap = swap
		out = append(out, ix)
	}
	return out
}

func (d *Raydium) fail(tx *solana.Transaction, pos domain.Position, err error) {
	d.report(&DecodeError{Venue: domain.VenueRaydiumAMMV4, Signature: tx.Signature, Position: pos, Err: err})
}

func (d *Raydium) decodeSwap(tx *solana.Transaction, ix *solana.Instruction, r *Reader, baseIn bool, log *rayLog) (*domain.Swap, error) {
	// SwapBaseIn: amount_in, minimum_amount_out.
	// SwapBaseOut: max_amount_in, amount_out.
	first, err := r.U64("amount_a")
	if err != nil {
		return nil, err
	}
	second, err := r.U64("amount_b")
	if err != nil {
		return nil, err
	}

	n := len(ix.Accounts)
	if n < raydiumMinSwapAccounts {
		return nil, fmt.Errorf("%w: need %d accounts, have %d", errMissingAccount, raydiumMinSwapAccounts, n)
	}

	s := &domain.Swap{
		AMM:          ix.AccountAt(tx, raydiumAMMAccount),
		InputMint:    tx.MintOf(ix.Accounts[n-3]),
		OutputMint:   tx.MintOf(ix.Accounts[n-2]),
		Signer:       ix.AccountAt(tx, n-1),
		InputAmount:  first,
		OutputAmount: second,
	}
	if log != nil && log.baseIn == baseIn {
		s.InputAmount = log.in
		s.OutputAmount = log.out
	}
	return s, nil
}

// swapLogs decodes ray_log swap entries in log order. Other log types are skipped.
func (d *Raydium) swapLogs(tx *solana.Transaction) []rayLog {
	var out []rayLog
	for i, payload := range programLogs(tx.LogMessages, d.programID, raydiumLogMarker) {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			d.fail(tx, logPosition(tx), fmt.Errorf("ray_log %d: %w", i, err))
			continue
		}
		log, ok, err := readRayLog(data)
		if err != nil {
			d.fail(tx, logPosition(tx), fmt.Errorf("ray_log %d: %w", i, err))
			continue
		}
		if ok {
			out = append(out, log)
		}
	}
	return out
}

// readRayLog decodes a swap ray_log. ok is false for non-swap log types.
func readRayLog(data []byte) (rayLog, bool, error) {
	r := NewReader(data)
	logType, err := r.U8("log_type")
	if err != nil {
		return rayLog{}, false, err
	}
	if logType != rayLogSwapBaseIn && logType != rayLogSwapBaseOut {
		return rayLog{}, false, nil
	}

	// Both layouts: a, b, direction, user_source, pool_coin, pool_pc, c.
	var f [7]uint64
	names := [7]string{"a", "b", "direction", "user_source", "pool_coin", "pool_pc", "c"}
	for i := range f {
		if f[i], err = r.U64(names[i]); err != nil {
			return rayLog{}, false, err
		}
	}

	if logType == rayLogSwapBaseIn {
		// amount_in, minimum_out, ..., out_amount
		return rayLog{baseIn: true, in: f[0], out: f[6]}, true, nil
	}
	// max_in, amount_out, ..., deduct_in
	return rayLog{baseIn: false, in: f[6], out: f[1]}, true, nil
}
