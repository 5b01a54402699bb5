package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/solana"
	"solana-curve-indexer/internal/storage"
)

// Orchestrator errors.
var (
	// ErrBackfillStalled is returned when a slot inside the backfill range
	// keeps failing. Restarting resumes from the committed checkpoint.
	ErrBackfillStalled = errors.New("backfill stalled")

	// ErrSlotSourceClosed is returned when the live slot stream ends.
	ErrSlotSourceClosed = errors.New("slot source closed")
)

const maxRetryInterval = 10 * time.Second

// Phase is the orchestrator lifecycle stage.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBackfilling
	PhaseLive
	PhaseStopped
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBackfilling:
		return "backfilling"
	case PhaseLive:
		return "live"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State is a snapshot of the orchestrator. From and To bound the backfill
// range while backfilling.
type State struct {
	Phase Phase
	From  uint64
	To    uint64
}

// Orchestrator drives backfill from the checkpoint to the chain tip, then
// follows the tip slot by slot.
type Orchestrator struct {
	rpc        solana.RPCClient
	checkpoint storage.CheckpointReader
	fetcher    *Fetcher
	processor  *Processor
	slots      SlotSource

	genesisSlot         uint64
	backfillWindow      uint64
	gapRetries          int
	commitRetries       int
	retryInterval       time.Duration
	liveFetchMaxElapsed time.Duration

	logger  *zap.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	state State
}

// OrchestratorOptions contains configuration for creating an Orchestrator.
type OrchestratorOptions struct {
	RPC        solana.RPCClient
	Checkpoint storage.CheckpointReader
	Fetcher    *Fetcher
	Processor  *Processor
	Slots      SlotSource

	GenesisSlot         uint64        // first slot when no checkpoint exists
	BackfillWindow      uint64        // Default: 100 slots per fetch batch
	GapRetries          int           // refetches of a missing backfill slot before ErrBackfillStalled
	CommitRetries       int           // reprocessing attempts of a block whose commit failed
	RetryInterval       time.Duration // Default: 500ms initial backoff
	LiveFetchMaxElapsed time.Duration // Default: 30s per live slot

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.RPC == nil:
		return nil, errors.New("orchestrator: rpc client is required")
	case opts.Checkpoint == nil:
		return nil, errors.New("orchestrator: checkpoint reader is required")
	case opts.Fetcher == nil:
		return nil, errors.New("orchestrator: fetcher is required")
	case opts.Processor == nil:
		return nil, errors.New("orchestrator: processor is required")
	case opts.Slots == nil:
		return nil, errors.New("orchestrator: slot source is required")
	}

	window := opts.BackfillWindow
	if window == 0 {
		window = 100
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}
	liveElapsed := opts.LiveFetchMaxElapsed
	if liveElapsed <= 0 {
		liveElapsed = 30 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		rpc:                 opts.RPC,
		checkpoint:          opts.Checkpoint,
		fetcher:             opts.Fetcher,
		processor:           opts.Processor,
		slots:               opts.Slots,
		genesisSlot:         opts.GenesisSlot,
		backfillWindow:      window,
		gapRetries:          max(opts.GapRetries, 0),
		commitRetries:       max(opts.CommitRetries, 0),
		retryInterval:       retryInterval,
		liveFetchMaxElapsed: liveElapsed,
		logger:              logger.Named("orchestrator"),
		metrics:             opts.Metrics,
	}
	o.setState(State{Phase: PhaseIdle})
	return o, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.metrics.SetState(s.Phase.String())
}

// Run backfills to the tip and then follows it until ctx is done or an
// unrecoverable error occurs. Blocks are committed one at a time in slot
// order, so on any return the checkpoint covers exactly the committed prefix.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.setState(State{Phase: PhaseStopped})
	}()

	next, err := o.resumeSlot(ctx)
	if err != nil {
		return err
	}
	o.logger.Info("starting", zap.Uint64("next_slot", next))

	for {
		tip, err := o.rpc.GetSlot(ctx)
		if err != nil {
			return fmt.Errorf("get tip: %w", err)
		}
		o.metrics.SetTip(tip)
		if next > tip {
			break
		}

		o.setState(State{Phase: PhaseBackfilling, From: next, To: tip})
		o.logger.Info("backfilling", zap.Uint64("from", next), zap.Uint64("to", tip))
		if next, err = o.backfill(ctx, next, tip); err != nil {
			return err
		}
	}

	o.setState(State{Phase: PhaseLive})
	o.logger.Info("caught up, following tip", zap.Uint64("next_slot", next))
	return o.live(ctx, next)
}

// resumeSlot returns the first slot to process.
func (o *Orchestrator) resumeSlot(ctx context.Context) (uint64, error) {
	cp, err := o.checkpoint.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return o.genesisSlot, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp + 1, nil
}

// backfill commits [from, tip] window by window and returns the next slot.
func (o *Orchestrator) backfill(ctx context.Context, from, tip uint64) (uint64, error) {
	for from <= tip {
		to := min(from+o.backfillWindow-1, tip)
		next, err := o.backfillOneWindow(ctx, from, to)
		if err != nil {
			return next, err
		}
		o.logger.Debug("backfill window committed", zap.Uint64("from", from), zap.Uint64("to", to))
		from = next
	}
	return from, nil
}

// backfillOneWindow fetches [from, to] and commits the contiguous prefix of the
// results. Blocks after a missing slot are discarded and the remainder of the
// window is refetched with backoff.
func (o *Orchestrator) backfillOneWindow(ctx context.Context, from, to uint64) (uint64, error) {
	b := o.newBackOff(ctx, o.gapRetries, 0)
	var lastGap uint64

	for {
		blocks, fetchErr := o.fetcher.Fetch(ctx, slotRange(from, to))
		prefix, next := ContiguousPrefix(blocks, from)

		for _, fb := range prefix {
			if err := ctx.Err(); err != nil {
				return fb.Slot, err
			}
			if err := o.commit(ctx, fb); err != nil {
				return fb.Slot, err
			}
		}
		if fetchErr != nil {
			return next, fetchErr
		}
		if next > to {
			return next, nil
		}

		if next != lastGap {
			b.Reset()
			lastGap = next
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return next, err
			}
			return next, fmt.Errorf("%w: slot %d unavailable", ErrBackfillStalled, next)
		}
		o.logger.Warn("backfill gap, refetching",
			zap.Uint64("slot", next),
			zap.Int("discarded", len(blocks)-len(prefix)),
			zap.Duration("wait", wait),
		)
		if err := sleep(ctx, wait); err != nil {
			return next, err
		}
		from = next
	}
}

// live processes every slot after the checkpoint as new tips arrive.
func (o *Orchestrator) live(ctx context.Context, next uint64) error {
	tips, err := o.slots.Slots(ctx)
	if err != nil {
		return fmt.Errorf("subscribe slots: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tip, ok := <-tips:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return ErrSlotSourceClosed
			}
			o.metrics.SetTip(tip)

			for ; next <= tip; next++ {
				fb, err := o.fetchLive(ctx, next)
				if err != nil {
					return err
				}
				if err := o.commit(ctx, fb); err != nil {
					return err
				}
			}
		}
	}
}

// fetchLive fetches one slot, retrying until liveFetchMaxElapsed.
func (o *Orchestrator) fetchLive(ctx context.Context, slot uint64) (FetchedBlock, error) {
	var fb FetchedBlock
	op := func() error {
		var err error
		fb, err = o.fetcher.FetchOne(ctx, slot)
		if err != nil && isCanceled(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Debug("live fetch retry", zap.Uint64("slot", slot), zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, o.newBackOff(ctx, -1, o.liveFetchMaxElapsed), notify); err != nil {
		return FetchedBlock{}, fmt.Errorf("fetch slot %d: %w", slot, err)
	}
	return fb, nil
}

// commit processes fb, reprocessing it from scratch after a failed commit.
func (o *Orchestrator) commit(ctx context.Context, fb FetchedBlock) error {
	op := func() error {
		_, err := o.processor.Process(ctx, fb)
		if err != nil && (isCanceled(err) || errors.Is(err, storage.ErrCheckpointRegression)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("commit failed, retrying", zap.Uint64("slot", fb.Slot), zap.Duration("wait", wait), zap.Error(err))
	}

	return backoff.RetryNotify(op, o.newBackOff(ctx, o.commitRetries, 0), notify)
}

// newBackOff builds an exponential policy. maxRetries < 0 means unbounded
// retries; maxElapsed 0 means no time bound.
func (o *Orchestrator) newBackOff(ctx context.Context, maxRetries int, maxElapsed time.Duration) backoff.BackOffContext {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     o.retryInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         max(maxRetryInterval, o.retryInterval),
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	var b backoff.BackOff = eb
	if maxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
