package ingestion

import (
	"context"

	"solana-curve-indexer/internal/domain"
)

// SlotSource announces new chain tips.
type SlotSource interface {
	// Slots returns a channel of strictly increasing slots.
	// The channel is closed when ctx is done or the source fails.
	Slots(ctx context.Context) (<-chan uint64, error)
}

// CommitHook receives every block after it has been committed.
// Hooks cannot roll back a commit; their errors are logged and counted.
type CommitHook interface {
	Name() string
	AfterCommit(ctx context.Context, block *domain.CommittedBlock) error
}
