package solana

import "context"

// WSClient streams slot notifications over a validator websocket.
type WSClient interface {
	// SubscribeSlots starts a slotSubscribe stream. The channel is closed
	// when the client is closed.
	SubscribeSlots(ctx context.Context) (<-chan SlotUpdate, error)
	Close() error
}

// SlotUpdate is one slotNotification. Root is the latest finalized slot the
// node knew of when it processed Slot.
type SlotUpdate struct {
	Slot   uint64
	Parent uint64
	Root   uint64
}
