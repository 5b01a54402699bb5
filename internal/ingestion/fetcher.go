package ingestion

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/solana"
)

// FetchedBlock is the result of fetching one slot.
// Block is nil when the slot was skipped by the leader.
type FetchedBlock struct {
	Slot  uint64
	Block *solana.Block
}

// Skipped reports whether the slot produced no block.
func (b FetchedBlock) Skipped() bool {
	return b.Block == nil
}

// Fetcher retrieves blocks for a set of slots with bounded concurrency.
type Fetcher struct {
	rpc         solana.RPCClient
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// FetcherOptions contains configuration for creating a Fetcher.
type FetcherOptions struct {
	RPC         solana.RPCClient
	Concurrency int // Default: 8
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// NewFetcher creates a new block fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{
		rpc:         opts.RPC,
		concurrency: concurrency,
		logger:      logger.Named("fetcher"),
		metrics:     opts.Metrics,
	}
}

// Concurrency returns the maximum number of in-flight fetches.
func (f *Fetcher) Concurrency() int {
	return f.concurrency
}

// Fetch retrieves every slot with at most Concurrency requests in flight.
//
// Results are sorted by slot. Skipped slots are kept with a nil Block.
// Slots whose fetch failed are logged and left out, so callers detect
// them as gaps. On cancellation Fetch returns what completed and ctx.Err().
func (f *Fetcher) Fetch(ctx context.Context, slots []uint64) ([]FetchedBlock, error) {
	sem := semaphore.NewWeighted(int64(f.concurrency))
	buf := newOrderedBuffer(len(slots))

	var (
		wg       sync.WaitGroup
		admitErr error
	)
	for _, slot := range slots {
		if err := sem.Acquire(ctx, 1); err != nil {
			admitErr = err
			break
		}
		wg.Add(1)
		go func(slot uint64) {
			defer wg.Done()
			defer sem.Release(1)

			block, err := f.rpc.GetBlock(ctx, slot)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Warn("block fetch failed", zap.Uint64("slot", slot), zap.Error(err))
				}
				f.metrics.RecordFetch("error")
				return
			}
			if block == nil {
				f.metrics.RecordFetch("skipped")
			} else {
				f.metrics.RecordFetch("ok")
			}
			buf.put(FetchedBlock{Slot: slot, Block: block})
		}(slot)
	}
	wg.Wait()

	out := buf.drain()
	if admitErr != nil {
		return out, admitErr
	}
	return out, ctx.Err()
}

// FetchOne retrieves a single slot. Unlike Fetch it returns the RPC error.
func (f *Fetcher) FetchOne(ctx context.Context, slot uint64) (FetchedBlock, error) {
	block, err := f.rpc.GetBlock(ctx, slot)
	if err != nil {
		f.metrics.RecordFetch("error")
		return FetchedBlock{Slot: slot}, err
	}
	if block == nil {
		f.metrics.RecordFetch("skipped")
	} else {
		f.metrics.RecordFetch("ok")
	}
	return FetchedBlock{Slot: slot, Block: block}, nil
}

// orderedBuffer collects completions from concurrent fetches.
type orderedBuffer struct {
	mu     sync.Mutex
	blocks map[uint64]FetchedBlock
}

func newOrderedBuffer(capacity int) *orderedBuffer {
	return &orderedBuffer{blocks: make(map[uint64]FetchedBlock, capacity)}
}

func (b *orderedBuffer) put(fb FetchedBlock) {
	b.mu.Lock()
	b.blocks[fb.Slot] = fb
	b.mu.Unlock()
}

// drain returns the collected blocks sorted by slot and empties the buffer.
func (b *orderedBuffer) drain() []FetchedBlock {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]FetchedBlock, 0, len(b.blocks))
	for _, fb := range b.blocks {
		out = append(out, fb)
	}
	b.blocks = make(map[uint64]FetchedBlock)
	SortBlocks(out)
	return out
}

// isCanceled reports whether err comes from context cancellation.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
