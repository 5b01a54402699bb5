package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/solana"
)

// WSSlotSource provides new tips via a slotSubscribe WebSocket subscription.
type WSSlotSource struct {
	ws      solana.WSClient
	useRoot bool
	logger  *zap.Logger
}

// NewWSSlotSource creates a WebSocket-based slot source.
// With finalized commitment the notification root is used as the tip,
// otherwise the notified slot.
func NewWSSlotSource(ws solana.WSClient, commitment string, logger *zap.Logger) *WSSlotSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSSlotSource{
		ws:      ws,
		useRoot: commitment == solana.CommitmentFinalized,
		logger:  logger.Named("ws-slots"),
	}
}

// Slots implements SlotSource. Duplicates and regressions, which show up
// around reconnects and forks, are dropped.
func (s *WSSlotSource) Slots(ctx context.Context) (<-chan uint64, error) {
	updates, err := s.ws.SubscribeSlots(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan uint64, 16)
	go func() {
		defer close(out)

		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					s.logger.Info("slot subscription closed")
					return
				}
				slot := u.Slot
				if s.useRoot {
					slot = u.Root
				}
				if slot == 0 || slot <= last {
					continue
				}
				last = slot
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

// PollingSlotSource polls getSlot on an interval. It is used when no
// WebSocket endpoint is configured.
type PollingSlotSource struct {
	rpc      solana.RPCClient
	interval time.Duration
	logger   *zap.Logger
}

// NewPollingSlotSource creates a polling slot source. Default interval: 400ms.
func NewPollingSlotSource(rpc solana.RPCClient, interval time.Duration, logger *zap.Logger) *PollingSlotSource {
	if interval <= 0 {
		interval = 400 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingSlotSource{rpc: rpc, interval: interval, logger: logger.Named("poll-slots")}
}

// Slots implements SlotSource. Poll errors are logged and the next tick retried.
func (s *PollingSlotSource) Slots(ctx context.Context) (<-chan uint64, error) {
	out := make(chan uint64, 1)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var last uint64
		for {
			slot, err := s.rpc.GetSlot(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("getSlot failed", zap.Error(err))
			case slot > last:
				last = slot
				select {
				case out <- slot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}
