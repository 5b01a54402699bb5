package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls the indexer depends on.
// Implementations make a single attempt per call; callers own retries.
type RPCClient interface {
	// GetBlock retrieves a block by slot number.
	// Returns nil, nil when the slot was skipped or has no block.
	GetBlock(ctx context.Context, slot uint64) (*Block, error)

	// GetAccountInfo retrieves raw account data.
	// Returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)

	// GetSlot retrieves the current chain tip at the client's commitment.
	GetSlot(ctx context.Context) (uint64, error)
}

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)
