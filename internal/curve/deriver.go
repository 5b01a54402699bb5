// Package curve derives pump.fun bonding-curve state from decoded trades.
package curve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/storage"
)

// ErrNotApplicable is returned by Derive for instructions that do not move a curve.
var ErrNotApplicable = errors.New("instruction does not carry curve state")

// Params are the bonding-curve constants, in token base units and lamports.
// Progress is measured against InitialRealTokenReserves, the share of supply
// actually sold on the curve; TotalSupply also counts tokens that never enter
// the curve, so it only bounds the other constants in Validate.
type Params struct {
	TotalSupply                 uint64
	InitialVirtualTokenReserves uint64
	InitialVirtualSolReserves   uint64
	InitialRealTokenReserves    uint64
}

// DefaultParams returns the pump.fun launch constants.
func DefaultParams() Params {
	return Params{
		TotalSupply:                 1_000_000_000_000_000,
		InitialVirtualTokenReserves: 1_073_000_000_000_000,
		InitialVirtualSolReserves:   30_000_000_000,
		InitialRealTokenReserves:    793_100_000_000_000,
	}
}

// Validate checks the constants are consistent.
func (p Params) Validate() error {
	if p.InitialRealTokenReserves == 0 {
		return fmt.Errorf("initial real token reserves must be > 0")
	}
	if p.InitialVirtualTokenReserves < p.InitialRealTokenReserves {
		return fmt.Errorf("initial virtual token reserves (%d) below initial real token reserves (%d)",
			p.InitialVirtualTokenReserves, p.InitialRealTokenReserves)
	}
	if p.TotalSupply < p.InitialRealTokenReserves {
		return fmt.Errorf("total supply (%d) below initial real token reserves (%d)",
			p.TotalSupply, p.InitialRealTokenReserves)
	}
	return nil
}

// Options configures a Deriver.
type Options struct {
	Params  Params // zero value means DefaultParams
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Deriver turns trades into curve state and applies it with compare-and-set by slot.
type Deriver struct {
	params  Params
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewDeriver creates a Deriver.
func NewDeriver(opts Options) (*Deriver, error) {
	params := opts.Params
	if params == (Params{}) {
		params = DefaultParams()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("curve params: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{params: params, logger: logger, metrics: opts.Metrics}, nil
}

// Params returns the constants in use.
func (d *Deriver) Params() Params {
	return d.params
}

// Applicable reports whether ix moves a curve: a trade from a successful
// transaction whose source carries post-trade reserves.
func Applicable(ix *domain.Instruction) bool {
	if ix == nil || ix.Kind != domain.KindTrade || ix.Trade == nil {
		return false
	}
	if ix.TxFailed || ix.Source == domain.SourceInstruction {
		return false
	}
	return ix.Trade.VirtualTokenReserves > 0 && ix.Trade.VirtualSolReserves > 0
}

// Derive computes the curve state after ix. It does not touch storage.
func (d *Deriver) Derive(ix *domain.Instruction) (*domain.CurveState, error) {
	if !Applicable(ix) {
		return nil, ErrNotApplicable
	}
	t := ix.Trade

	realBase := d.RealBase(t.VirtualTokenReserves)
	if t.HasRealReserves {
		realBase = t.RealTokenReserves
	}

	progress := d.Progress(realBase)
	updated := ix.BlockTime
	if updated == 0 {
		updated = t.Timestamp
	}

	return &domain.CurveState{
		BaseMint:             t.Mint,
		QuoteMint:            domain.WSOLMint,
		Slot:                 ix.Slot,
		VirtualBaseReserves:  t.VirtualTokenReserves,
		VirtualQuoteReserves: t.VirtualSolReserves,
		RealBaseReserves:     realBase,
		Progress:             progress,
		Complete:             progress >= 100,
		UpdatedAt:            unixUTC(updated),
	}, nil
}

// RealBase estimates real token reserves from virtual token reserves.
func (d *Deriver) RealBase(virtualToken uint64) uint64 {
	offset := d.params.InitialVirtualTokenReserves - d.params.InitialRealTokenReserves
	if virtualToken <= offset {
		return 0
	}
	return virtualToken - offset
}

// Progress returns the share of initial real token reserves sold, in [0, 100].
func (d *Deriver) Progress(realBase uint64) float64 {
	initial := d.params.InitialRealTokenReserves
	if realBase >= initial {
		return 0
	}
	return float64(initial-realBase) * 100 / float64(initial)
}

// Upsert derives state from ix and applies it through w.
// Returns the state as stored and whether the incoming state was applied.
func (d *Deriver) Upsert(ctx context.Context, w storage.CurveStateWriter, ix *domain.Instruction) (*domain.CurveState, bool, error) {
	state, err := d.Derive(ix)
	if err != nil {
		return nil, false, err
	}

	stored, applied, err := w.UpsertCurveState(ctx, state)
	if err != nil {
		return nil, false, fmt.Errorf("upsert curve %s: %w", state.Key(), err)
	}
	d.metrics.RecordCurveUpsert(applied)
	if !applied {
		d.logger.Debug("curve state discarded",
			zap.String("curve", state.Key().String()),
			zap.Uint64("incoming_slot", state.Slot),
			zap.Uint64("stored_slot", stored.Slot),
		)
	}
	return stored, applied, nil
}

// LatestPerCurve keeps the last applicable trade per curve key, in call order.
// Input is expected sorted by position; output preserves the order of first
// appearance of each key.
func LatestPerCurve(ixs []domain.Instruction) []domain.Instruction {
	index := make(map[domain.CurveKey]int)
	var out []domain.Instruction
	for i := range ixs {
		ix := &ixs[i]
		if !Applicable(ix) {
			continue
		}
		key := domain.CurveKey{BaseMint: ix.Trade.Mint, QuoteMint: domain.WSOLMint}
		if j, ok := index[key]; ok {
			out[j] = *ix
			continue
		}
		index[key] = len(out)
		out = append(out, *ix)
	}
	return out
}

func unixUTC(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
