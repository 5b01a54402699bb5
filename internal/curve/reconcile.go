package curve

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
	"solana-curve-indexer/internal/storage"
)

// ErrAccountNotFound is returned when the bonding curve account does not exist on chain.
var ErrAccountNotFound = errors.New("bonding curve account not found")

// Report compares stored curve state with the on-chain account.
type Report struct {
	Mint    string
	Address string // bonding curve PDA
	Stored  *domain.CurveState
	OnChain *BondingCurveAccount

	VirtualBaseDelta  int64 // on-chain minus stored
	VirtualQuoteDelta int64
	CompleteMismatch  bool
}

// InSync reports whether stored state matches the account.
func (r *Report) InSync() bool {
	return r.Stored != nil && r.VirtualBaseDelta == 0 && r.VirtualQuoteDelta == 0 && !r.CompleteMismatch
}

// Reconciler checks derived state against bonding curve accounts.
type Reconciler struct {
	rpc     solana.RPCClient
	store   storage.CurveStateReader
	deriver *Deriver
	logger  *zap.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(rpc solana.RPCClient, store storage.CurveStateReader, deriver *Deriver, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{rpc: rpc, store: store, deriver: deriver, logger: logger}
}

// Reconcile fetches the bonding curve account for mint and compares it with stored state.
// A mint with no stored state yields a report with Stored nil.
func (r *Reconciler) Reconcile(ctx context.Context, mint string) (*Report, error) {
	addr, err := solana.BondingCurveAddress(mint, domain.PumpFunProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive bonding curve: %w", err)
	}

	info, err := r.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	if info == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrAccountNotFound)
	}
	data, err := info.Bytes()
	if err != nil {
		return nil, err
	}
	acct, err := DecodeBondingCurve(data)
	if err != nil {
		return nil, err
	}

	report := &Report{Mint: mint, Address: addr, OnChain: acct}

	stored, err := r.store.GetCurveState(ctx, domain.CurveKey{BaseMint: mint, QuoteMint: domain.WSOLMint})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.logger.Info("no stored curve state", zap.String("mint", mint), zap.String("address", addr))
		return report, nil
	case err != nil:
		return nil, fmt.Errorf("get curve state: %w", err)
	}

	report.Stored = stored
	report.VirtualBaseDelta = int64(acct.VirtualTokenReserves) - int64(stored.VirtualBaseReserves)
	report.VirtualQuoteDelta = int64(acct.VirtualSolReserves) - int64(stored.VirtualQuoteReserves)
	onChainComplete := acct.Complete || r.deriver.Progress(acct.RealTokenReserves) >= 100
	report.CompleteMismatch = onChainComplete != stored.Complete

	if !report.InSync() {
		r.logger.Warn("curve drift",
			zap.String("mint", mint),
			zap.Uint64("stored_slot", stored.Slot),
			zap.Int64("virtual_base_delta", report.VirtualBaseDelta),
			zap.Int64("virtual_quote_delta", report.VirtualQuoteDelta),
			zap.Bool("complete_mismatch", report.CompleteMismatch),
		)
	}
	return report, nil
}
