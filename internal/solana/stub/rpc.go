package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-curve-indexer/internal/solana"
)

// AlwaysFail makes a slot fail on every fetch.
const AlwaysFail = -1

// RPCClient implements solana.RPCClient for testing.
// Slots without a block are reported as skipped (nil block, nil error).
type RPCClient struct {
	mu sync.Mutex

	Blocks   map[uint64]*solana.Block
	Accounts map[string]*solana.AccountInfo
	Tip      uint64

	// FailSlots maps a slot to the number of fetches that fail before it
	// succeeds. AlwaysFail makes the slot fail forever.
	FailSlots map[uint64]int
	// FailErr is returned for injected failures. Defaults to ErrBlockNotAvailable.
	FailErr error
	// Delay is applied to every GetBlock call.
	Delay time.Duration

	calls       map[uint64]int
	inFlight    int
	maxInFlight int
}

var _ solana.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Blocks:    make(map[uint64]*solana.Block),
		Accounts:  make(map[string]*solana.AccountInfo),
		FailSlots: make(map[uint64]int),
		calls:     make(map[uint64]int),
	}
}

// GetBlock returns the stored block for slot.
func (c *RPCClient) GetBlock(ctx context.Context, slot uint64) (*solana.Block, error) {
	c.mu.Lock()
	c.calls[slot]++
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	delay := c.Delay
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.FailSlots[slot]; ok && n != 0 {
		if n > 0 {
			c.FailSlots[slot] = n - 1
		}
		if c.FailErr != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, c.FailErr)
		}
		return nil, fmt.Errorf("slot %d: %w", slot, solana.ErrBlockNotAvailable)
	}

	return c.Blocks[slot], nil
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, address string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[address], nil
}

// GetSlot returns Tip.
func (c *RPCClient) GetSlot(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Tip, nil
}

// AddBlock stores a block under its slot.
func (c *RPCClient) AddBlock(block *solana.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blocks[block.Slot] = block
}

// SetTip updates the slot returned by GetSlot.
func (c *RPCClient) SetTip(slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tip = slot
}

// FailSlot injects n failures for slot.
func (c *RPCClient) FailSlot(slot uint64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FailSlots[slot] = n
}

// Calls returns how many times slot was fetched.
func (c *RPCClient) Calls(slot uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[slot]
}

// MaxInFlight returns the highest number of concurrent GetBlock calls seen.
func (c *RPCClient) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}
