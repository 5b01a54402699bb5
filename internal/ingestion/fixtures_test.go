package ingestion

import (
	"bytes"
	"context"
	"encoding/binary"
	"strconv"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"solana-curve-indexer/internal/curve"
	"solana-curve-indexer/internal/decoder"
	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/solana"
	"solana-curve-indexer/internal/solana/stub"
	"solana-curve-indexer/internal/storage"
	"solana-curve-indexer/internal/storage/memory"
)

var (
	eventCPIPrefix = []byte{0xe4, 0x45, 0xa5, 0x2e, 0x51, 0xcb, 0x9a, 0x1d}
	tradeEventDisc = []byte{0xbd, 0xdb, 0x7f, 0xd3, 0x4e, 0xe6, 0x61, 0xee}
	createDisc     = []byte{0x18, 0x1e, 0xc8, 0x28, 0x05, 0x1c, 0x07, 0x77}
)

func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	userKey  = key(1)
	mintA    = key(2)
	mintB    = key(3)
	curveKey = key(4)

	accountKeys = []string{userKey, mintA, domain.PumpFunProgramID, mintB, curveKey}
)

const (
	idxUser = 0
	idxPump = 2
)

type payload struct{ bytes.Buffer }

func (p *payload) u64(v uint64) *payload {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.Write(b[:])
	return p
}

func (p *payload) pubkey(s string) *payload {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		panic("bad test pubkey " + s)
	}
	p.Write(b)
	return p
}

func (p *payload) str(s string) *payload {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	p.Write(b[:])
	p.WriteString(s)
	return p
}

// tradeTx is a transaction carrying one self-CPI TradeEvent for mint.
func tradeTx(index int, sig, mint string, vsol, vtoken uint64) solana.Transaction {
	p := new(payload)
	p.Write(eventCPIPrefix)
	p.Write(tradeEventDisc)
	p.pubkey(mint).u64(1_000_000_000).u64(35_000_000_000_000)
	p.WriteByte(1) // is_buy
	p.pubkey(userKey).u64(1_700_000_000).u64(vsol).u64(vtoken)

	return solana.Transaction{
		Index:       index,
		Signature:   sig,
		AccountKeys: accountKeys,
		Instructions: []solana.Instruction{
			{ProgramIDIndex: idxPump, Accounts: []int{idxUser}, Data: p.Bytes()},
		},
	}
}

// createTx is a pump.fun create of mintA.
func createTx(index int, sig string) solana.Transaction {
	return createTxNamed(index, sig, "Token", "TKN")
}

func createTxNamed(index int, sig, name, symbol string) solana.Transaction {
	p := new(payload)
	p.Write(createDisc)
	p.str(name).str(symbol).str("https://example.invalid/t.json")

	return solana.Transaction{
		Index:       index,
		Signature:   sig,
		AccountKeys: accountKeys,
		Instructions: []solana.Instruction{
			{ProgramIDIndex: idxPump, Accounts: []int{1, 4, 4, 4, 4, 4, 4, idxUser}, Data: p.Bytes()},
		},
	}
}

func newBlock(slot uint64, txs ...solana.Transaction) *solana.Block {
	bt := int64(1_700_000_000 + slot)
	return &solana.Block{Slot: slot, ParentSlot: slot - 1, BlockTime: &bt, Transactions: txs}
}

// vtokenAt gives each slot a distinct, decreasing virtual token reserve.
func vtokenAt(slot uint64) uint64 {
	return 1_060_000_000_000_000 - slot*1_000_000_000
}

// addTradeBlocks stores a block with one mintA trade for every slot in [from, to].
func addTradeBlocks(rpc *stub.RPCClient, from, to uint64) {
	for s := from; s <= to; s++ {
		rpc.AddBlock(newBlock(s, tradeTx(0, "sig-"+strconv.FormatUint(s, 10), mintA, 30_000_000_000+s, vtokenAt(s))))
	}
}

func setCheckpoint(t *testing.T, store storage.Store, slot uint64) {
	t.Helper()
	require.NoError(t, store.InTx(context.Background(), func(tx storage.Tx) error {
		return tx.SetCheckpoint(context.Background(), slot)
	}))
}

func tradeSlots(t *testing.T, store storage.Store) []uint64 {
	t.Helper()
	trades, err := store.ListTrades(context.Background(), 0, ^uint64(0))
	require.NoError(t, err)
	out := make([]uint64, 0, len(trades))
	for _, tr := range trades {
		out = append(out, tr.Slot)
	}
	return out
}

// pipeline wires the ingestion components over a stub node and a memory store.
type pipeline struct {
	rpc       *stub.RPCClient
	store     *memory.Store
	metrics   *observability.Metrics
	registry  *prometheus.Registry
	fetcher   *Fetcher
	processor *Processor
}

func newPipeline(t *testing.T, concurrency int, hooks ...CommitHook) *pipeline {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)

	decoders, err := decoder.NewSet(decoder.Options{Metrics: metrics})
	require.NoError(t, err)
	deriver, err := curve.NewDeriver(curve.Options{Metrics: metrics})
	require.NoError(t, err)

	rpc := stub.NewRPCClient()
	store := memory.NewStore()

	processor, err := NewProcessor(ProcessorOptions{
		Store:    store,
		Decoders: decoders,
		Deriver:  deriver,
		Hooks:    hooks,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	return &pipeline{
		rpc:       rpc,
		store:     store,
		metrics:   metrics,
		registry:  reg,
		fetcher:   NewFetcher(FetcherOptions{RPC: rpc, Concurrency: concurrency, Metrics: metrics}),
		processor: processor,
	}
}

func (p *pipeline) orchestrator(t *testing.T, slots SlotSource, mutate func(*OrchestratorOptions)) *Orchestrator {
	t.Helper()
	opts := OrchestratorOptions{
		RPC:                 p.rpc,
		Checkpoint:          p.store,
		Fetcher:             p.fetcher,
		Processor:           p.processor,
		Slots:               slots,
		BackfillWindow:      100,
		RetryInterval:       time.Millisecond,
		LiveFetchMaxElapsed: time.Second,
		Metrics:             p.metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := NewOrchestrator(opts)
	require.NoError(t, err)
	return o
}
