package storage

import (
	"context"

	"solana-curve-indexer/internal/domain"
)

// CheckpointReader reads the indexer checkpoint.
type CheckpointReader interface {
	// GetCheckpoint returns the last committed slot. Returns ErrNotFound if none.
	GetCheckpoint(ctx context.Context) (uint64, error)
}

// CurveStateReader reads derived curve state.
type CurveStateReader interface {
	// GetCurveState returns the stored state for key. Returns ErrNotFound if none.
	GetCurveState(ctx context.Context, key domain.CurveKey) (*domain.CurveState, error)
}

// CurveStateWriter applies curve state with compare-and-set by slot.
type CurveStateWriter interface {
	// UpsertCurveState inserts state when no row exists, replaces the row when
	// the stored slot is lower, and discards state otherwise.
	// Returns the row as stored after the call and whether state was applied.
	UpsertCurveState(ctx context.Context, state *domain.CurveState) (*domain.CurveState, bool, error)
}

// Tx is one atomic unit of work. Nothing is visible outside it until commit.
type Tx interface {
	CheckpointReader
	CurveStateReader
	CurveStateWriter

	// SetCheckpoint advances the checkpoint. A lower slot returns ErrCheckpointRegression;
	// the same slot is accepted so a block can be reprocessed.
	SetCheckpoint(ctx context.Context, slot uint64) error

	// UpsertToken inserts a token; an existing mint is left unchanged.
	UpsertToken(ctx context.Context, r *domain.TokenRecord) error

	// UpsertTrade inserts a trade; an existing (signature, outer, inner) is left unchanged.
	UpsertTrade(ctx context.Context, r *domain.TradeRecord) error

	// UpsertSwap inserts a swap; an existing (signature, outer, inner) is left unchanged.
	UpsertSwap(ctx context.Context, r *domain.SwapRecord) error
}

// Store is the indexer's persistent state.
type Store interface {
	CheckpointReader
	CurveStateReader

	// GetToken returns a token by mint. Returns ErrNotFound if none.
	GetToken(ctx context.Context, mint string) (*domain.TokenRecord, error)

	// ListTrades returns trades with slot in [fromSlot, toSlot], ordered by
	// slot, signature, outer, inner.
	ListTrades(ctx context.Context, fromSlot, toSlot uint64) ([]*domain.TradeRecord, error)

	// ListSwaps returns swaps with slot in [fromSlot, toSlot], in the same order as ListTrades.
	ListSwaps(ctx context.Context, fromSlot, toSlot uint64) ([]*domain.SwapRecord, error)

	// InTx runs fn in a transaction. fn returning an error rolls back every write.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
