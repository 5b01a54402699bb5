package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/storage"
)

var testKey = domain.CurveKey{BaseMint: "Mint111", QuoteMint: domain.WSOLMint}

func newCache(t *testing.T, opts Options) (*CurveCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCurveCache(client, opts), mr
}

func state(slot uint64, vsol uint64) *domain.CurveState {
	return &domain.CurveState{
		BaseMint:             testKey.BaseMint,
		QuoteMint:            testKey.QuoteMint,
		Slot:                 slot,
		VirtualQuoteReserves: vsol,
		Progress:             42.5,
		UpdatedAt:            time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestCurveCache_SetIfNewer(t *testing.T) {
	cache, _ := newCache(t, Options{})
	ctx := context.Background()

	applied, err := cache.Set(ctx, state(80, 800))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = cache.Set(ctx, state(50, 500))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = cache.Set(ctx, state(80, 999))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := cache.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, state(80, 800), got)

	applied, err = cache.Set(ctx, state(81, 810))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestCurveCache_Miss(t *testing.T) {
	cache, _ := newCache(t, Options{})
	_, err := cache.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCurveCache_TTLAndPrefix(t *testing.T) {
	cache, mr := newCache(t, Options{Prefix: "test:", TTL: time.Minute})
	ctx := context.Background()

	_, err := cache.Set(ctx, state(1, 1))
	require.NoError(t, err)

	key := "test:" + testKey.BaseMint + ":" + testKey.QuoteMint
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, testKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCurveCache_AfterCommitPublishes(t *testing.T) {
	cache, _ := newCache(t, Options{Channel: "curves"})
	ctx := context.Background()

	sub, err := cache.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	block := &domain.CommittedBlock{Slot: 9, Curves: []*domain.CurveState{state(9, 90)}}
	require.NoError(t, cache.AfterCommit(ctx, block))

	select {
	case msg := <-sub.Channel():
		var got domain.CurveState
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, uint64(9), got.Slot)
		assert.Equal(t, uint64(90), got.VirtualQuoteReserves)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for curve update")
	}

	// A stale update is neither stored nor published.
	require.NoError(t, cache.AfterCommit(ctx, &domain.CommittedBlock{Curves: []*domain.CurveState{state(8, 1)}}))
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected message: %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCurveCache_SubscribeWithoutChannel(t *testing.T) {
	cache, _ := newCache(t, Options{})
	_, err := cache.Subscribe(context.Background())
	assert.Error(t, err)
}
