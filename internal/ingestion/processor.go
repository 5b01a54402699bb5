package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-curve-indexer/internal/curve"
	"solana-curve-indexer/internal/decoder"
	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/storage"
)

// Processor decodes a block and commits its rows, curve updates and the
// checkpoint in one transaction.
type Processor struct {
	store    storage.Store
	decoders *decoder.Set
	deriver  *curve.Deriver
	hooks    []CommitHook
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// ProcessorOptions contains configuration for creating a Processor.
type ProcessorOptions struct {
	Store    storage.Store
	Decoders *decoder.Set
	Deriver  *curve.Deriver
	Hooks    []CommitHook // run in order after each commit
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// NewProcessor creates a new block processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.New("processor: store is required")
	}
	if opts.Decoders == nil {
		return nil, errors.New("processor: decoders are required")
	}
	if opts.Deriver == nil {
		return nil, errors.New("processor: deriver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		store:    opts.Store,
		decoders: opts.Decoders,
		deriver:  opts.Deriver,
		hooks:    opts.Hooks,
		logger:   logger.Named("processor"),
		metrics:  opts.Metrics,
	}, nil
}

// Process commits one fetched block. A skipped slot commits only the
// checkpoint. On error nothing of the block is visible and the block can be
// processed again from scratch.
func (p *Processor) Process(ctx context.Context, fb FetchedBlock) (*domain.CommittedBlock, error) {
	start := time.Now()
	ixs := p.decoders.DecodeBlock(fb.Block)

	var committed *domain.CommittedBlock
	err := p.store.InTx(ctx, func(tx storage.Tx) error {
		block, err := p.apply(ctx, tx, fb, ixs)
		if err != nil {
			return err
		}
		committed = block
		return nil
	})
	if err != nil {
		p.metrics.RecordCommitFailure()
		return nil, fmt.Errorf("commit slot %d: %w", fb.Slot, err)
	}
	p.metrics.RecordCommit(fb.Slot, time.Since(start))

	p.logger.Debug("block committed",
		zap.Uint64("slot", fb.Slot),
		zap.Bool("skipped", fb.Skipped()),
		zap.Int("tokens", len(committed.Tokens)),
		zap.Int("trades", len(committed.Trades)),
		zap.Int("swaps", len(committed.Swaps)),
		zap.Int("curves", len(committed.Curves)),
	)

	p.runHooks(ctx, committed)
	return committed, nil
}

// apply writes one block inside tx. The checkpoint is written last.
func (p *Processor) apply(ctx context.Context, tx storage.Tx, fb FetchedBlock, ixs []domain.Instruction) (*domain.CommittedBlock, error) {
	block := &domain.CommittedBlock{Slot: fb.Slot}
	if fb.Block != nil {
		block.BlockTime = fb.Block.Time()
	}

	for i := range ixs {
		ix := &ixs[i]
		switch ix.Kind {
		case domain.KindCreate:
			r := domain.NewTokenRecord(ix)
			if r == nil {
				continue
			}
			if err := tx.UpsertToken(ctx, r); err != nil {
				return nil, fmt.Errorf("upsert token %s: %w", r.Mint, err)
			}
			block.Tokens = append(block.Tokens, r)
		case domain.KindTrade:
			r := domain.NewTradeRecord(ix)
			if r == nil {
				continue
			}
			if err := tx.UpsertTrade(ctx, r); err != nil {
				return nil, fmt.Errorf("upsert trade %s: %w", r.Signature, err)
			}
			block.Trades = append(block.Trades, r)
		case domain.KindSwap:
			r := domain.NewSwapRecord(ix)
			if r == nil {
				continue
			}
			if err := tx.UpsertSwap(ctx, r); err != nil {
				return nil, fmt.Errorf("upsert swap %s: %w", r.Signature, err)
			}
			block.Swaps = append(block.Swaps, r)
		}
	}

	latest := curve.LatestPerCurve(ixs)
	for i := range latest {
		stored, applied, err := p.deriver.Upsert(ctx, tx, &latest[i])
		if err != nil {
			return nil, err
		}
		if applied {
			block.Curves = append(block.Curves, stored)
		}
	}

	if err := tx.SetCheckpoint(ctx, fb.Slot); err != nil {
		return nil, fmt.Errorf("set checkpoint: %w", err)
	}
	return block, nil
}

// runHooks hands the committed block to every hook in order.
func (p *Processor) runHooks(ctx context.Context, block *domain.CommittedBlock) {
	for _, h := range p.hooks {
		if err := h.AfterCommit(ctx, block); err != nil {
			p.metrics.RecordHookError(h.Name())
			p.logger.Warn("commit hook failed",
				zap.String("hook", h.Name()),
				zap.Uint64("slot", block.Slot),
				zap.Error(err),
			)
		}
	}
}
