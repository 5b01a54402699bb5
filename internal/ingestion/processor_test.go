package ingestion

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-curve-indexer/internal/domain"
	ingstub "solana-curve-indexer/internal/ingestion/stub"
	"solana-curve-indexer/internal/storage"
	"solana-curve-indexer/internal/storage/memory"
)

var keyA = domain.CurveKey{BaseMint: mintA, QuoteMint: domain.WSOLMint}

func TestProcessor_CommitsBlock(t *testing.T) {
	hook := ingstub.NewHook("recorder", false)
	p := newPipeline(t, 1, hook)
	ctx := context.Background()

	block := newBlock(200,
		createTx(0, "create"),
		tradeTx(1, "t1", mintA, 31_000_000_000, vtokenAt(1)),
		tradeTx(2, "t2", mintA, 32_000_000_000, vtokenAt(2)),
		tradeTx(3, "t3", mintB, 33_000_000_000, vtokenAt(3)),
	)

	committed, err := p.processor.Process(ctx, FetchedBlock{Slot: 200, Block: block})
	require.NoError(t, err)

	assert.Len(t, committed.Tokens, 1)
	assert.Len(t, committed.Trades, 3)
	require.Len(t, committed.Curves, 2)

	cp, err := p.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), cp)

	token, err := p.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, "TKN", token.Symbol)
	assert.Equal(t, userKey, token.Creator)

	// The last trade of the block wins for mintA.
	st, err := p.store.GetCurveState(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, uint64(32_000_000_000), st.VirtualQuoteReserves)
	assert.Equal(t, uint64(200), st.Slot)

	require.Len(t, hook.Blocks(), 1)
	assert.Equal(t, committed, hook.Blocks()[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.BlocksCommitted))
}

func TestProcessor_SkippedSlotAdvancesCheckpoint(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	committed, err := p.processor.Process(ctx, FetchedBlock{Slot: 7})
	require.NoError(t, err)
	assert.True(t, committed.Empty())

	cp, err := p.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cp)
}

func TestProcessor_FailedTxDoesNotMoveCurve(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	tx := tradeTx(0, "failed", mintA, 31_000_000_000, vtokenAt(1))
	tx.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}

	committed, err := p.processor.Process(ctx, FetchedBlock{Slot: 10, Block: newBlock(10, tx)})
	require.NoError(t, err)

	require.Len(t, committed.Trades, 1)
	assert.True(t, committed.Trades[0].TxFailed)
	assert.Empty(t, committed.Curves)

	_, err = p.store.GetCurveState(ctx, keyA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProcessor_CommitFailureLeavesNothing(t *testing.T) {
	hook := ingstub.NewHook("recorder", false)
	p := newPipeline(t, 1, hook)
	ctx := context.Background()
	setCheckpoint(t, p.store, 9)

	p.store.FailCommits(1)
	fb := FetchedBlock{Slot: 10, Block: newBlock(10, tradeTx(0, "t", mintA, 31_000_000_000, vtokenAt(1)))}

	_, err := p.processor.Process(ctx, fb)
	require.ErrorIs(t, err, memory.ErrInjectedCommit)

	cp, err := p.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cp)
	assert.Empty(t, tradeSlots(t, p.store))
	_, err = p.store.GetCurveState(ctx, keyA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, hook.Blocks())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.CommitFailures))

	// Reprocessing from scratch commits the block exactly once.
	_, err = p.processor.Process(ctx, fb)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10}, tradeSlots(t, p.store))
	cp, err = p.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cp)
}

func TestProcessor_ReprocessIsIdempotent(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()
	fb := FetchedBlock{Slot: 10, Block: newBlock(10, tradeTx(0, "t", mintA, 31_000_000_000, vtokenAt(1)))}

	first, err := p.processor.Process(ctx, fb)
	require.NoError(t, err)
	require.Len(t, first.Curves, 1)

	second, err := p.processor.Process(ctx, fb)
	require.NoError(t, err)
	assert.Empty(t, second.Curves, "same-slot curve update must be discarded")
	assert.Equal(t, []uint64{10}, tradeSlots(t, p.store))
}

func TestProcessor_RegressionRejected(t *testing.T) {
	p := newPipeline(t, 1)
	setCheckpoint(t, p.store, 50)

	_, err := p.processor.Process(context.Background(), FetchedBlock{Slot: 49})
	assert.ErrorIs(t, err, storage.ErrCheckpointRegression)
}

func TestProcessor_HookErrorIsCounted(t *testing.T) {
	failing := ingstub.NewHook("archive", true)
	after := ingstub.NewHook("cache", false)
	p := newPipeline(t, 1, failing, after)

	_, err := p.processor.Process(context.Background(), FetchedBlock{Slot: 3})
	require.NoError(t, err)

	assert.Len(t, failing.Blocks(), 1)
	assert.Len(t, after.Blocks(), 1, "later hooks still run")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.CommitHookErrors.WithLabelValues("archive")))
}

func TestNewProcessor_Validation(t *testing.T) {
	_, err := NewProcessor(ProcessorOptions{})
	assert.Error(t, err)
}

func TestProcessor_UntrustedFieldsCommit(t *testing.T) {
	p := newPipeline(t, 1)
	ctx := context.Background()

	failed := tradeTx(1, "t-max", mintA, math.MaxUint64, math.MaxUint64)
	failed.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	block := newBlock(300,
		createTxNamed(0, "create-nul", "To\x00ken", "T\x00KN"),
		failed,
		tradeTx(2, "t-ok", mintA, math.MaxUint64, vtokenAt(2)),
	)

	committed, err := p.processor.Process(ctx, FetchedBlock{Slot: 300, Block: block})
	require.NoError(t, err)

	token, err := p.store.GetToken(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, "Token", token.Name)
	assert.Equal(t, "TKN", token.Symbol)

	trades, err := p.store.ListTrades(ctx, 300, 300)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].TxFailed)
	assert.Equal(t, uint64(math.MaxUint64), trades[0].VirtualTokenReserves)
	assert.Equal(t, uint64(math.MaxUint64), trades[1].VirtualSolReserves)

	require.Len(t, committed.Curves, 1)
	st, err := p.store.GetCurveState(ctx, keyA)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), st.VirtualQuoteReserves)

	cp, err := p.store.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), cp)
}
