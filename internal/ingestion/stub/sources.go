// Package stub provides in-memory ingestion collaborators for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/solana"
)

// SlotSource emits slots pushed with Push.
// Implements ingestion.SlotSource.
type SlotSource struct {
	ch chan uint64
}

// NewSlotSource creates a slot source with a buffer of n slots.
func NewSlotSource(n int) *SlotSource {
	return &SlotSource{ch: make(chan uint64, n)}
}

// Push queues a slot for delivery.
func (s *SlotSource) Push(slots ...uint64) {
	for _, slot := range slots {
		s.ch <- slot
	}
}

// Close ends the stream.
func (s *SlotSource) Close() {
	close(s.ch)
}

// Slots returns the pushed slots until ctx is done or Close is called.
func (s *SlotSource) Slots(ctx context.Context) (<-chan uint64, error) {
	out := make(chan uint64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case slot, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- slot:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WSClient replays fixed slot updates.
// Implements solana.WSClient.
type WSClient struct {
	Updates []solana.SlotUpdate
	Err     error
}

// SubscribeSlots emits Updates and closes the channel.
func (c *WSClient) SubscribeSlots(ctx context.Context) (<-chan solana.SlotUpdate, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	ch := make(chan solana.SlotUpdate)
	go func() {
		defer close(ch)
		for _, u := range c.Updates {
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Close implements solana.WSClient.
func (c *WSClient) Close() error {
	return nil
}

// ErrHookFailed is returned by a Hook configured to fail.
var ErrHookFailed = errors.New("hook failed")

// Hook records committed blocks.
// Implements ingestion.CommitHook.
type Hook struct {
	mu     sync.Mutex
	name   string
	fail   bool
	blocks []*domain.CommittedBlock
}

// NewHook creates a recording hook. A failing hook still records the block.
func NewHook(name string, fail bool) *Hook {
	return &Hook{name: name, fail: fail}
}

// Name implements ingestion.CommitHook.
func (h *Hook) Name() string {
	return h.name
}

// AfterCommit implements ingestion.CommitHook.
func (h *Hook) AfterCommit(_ context.Context, block *domain.CommittedBlock) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks = append(h.blocks, block)
	if h.fail {
		return ErrHookFailed
	}
	return nil
}

// Blocks returns the blocks seen so far.
func (h *Hook) Blocks() []*domain.CommittedBlock {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.CommittedBlock(nil), h.blocks...)
}
