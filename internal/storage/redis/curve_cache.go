// Package redis caches the latest curve state per curve for downstream readers.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solana-curve-indexer/internal/domain"
	"solana-curve-indexer/internal/storage"
)

// setIfNewer writes the state only when its slot is above the cached one and
// publishes it on ARGV[3] when a channel is configured.
var setIfNewer = goredis.NewScript(`
	local cur = redis.call("HGET", KEYS[1], "slot")
	if cur and tonumber(cur) >= tonumber(ARGV[1]) then
		return 0
	end
	redis.call("HSET", KEYS[1], "slot", ARGV[1], "state", ARGV[2])
	if tonumber(ARGV[4]) > 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[4])
	end
	if ARGV[3] ~= "" then
		redis.call("PUBLISH", ARGV[3], ARGV[2])
	end
	return 1
`)

// Options configures a CurveCache.
type Options struct {
	Prefix  string        // key prefix, default "curve:"
	Channel string        // pub/sub channel for updates, empty disables publishing
	TTL     time.Duration // zero keeps entries forever
	Logger  *zap.Logger
}

// CurveCache mirrors committed curve state into Redis hashes.
type CurveCache struct {
	client  goredis.UniversalClient
	prefix  string
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCurveCache creates a CurveCache on client.
func NewCurveCache(client goredis.UniversalClient, opts Options) *CurveCache {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "curve:"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CurveCache{
		client:  client,
		prefix:  prefix,
		channel: opts.Channel,
		ttl:     opts.TTL,
		logger:  logger,
	}
}

// Name identifies the cache in logs and metrics.
func (c *CurveCache) Name() string { return "redis_curve_cache" }

func (c *CurveCache) key(k domain.CurveKey) string {
	return c.prefix + k.BaseMint + ":" + k.QuoteMint
}

// Set caches state when it is newer than the cached entry.
func (c *CurveCache) Set(ctx context.Context, state *domain.CurveState) (bool, error) {
	if state == nil {
		return false, storage.ErrInvalidInput
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("marshal curve state: %w", err)
	}

	res, err := setIfNewer.Run(ctx, c.client,
		[]string{c.key(state.Key())},
		strconv.FormatUint(state.Slot, 10), string(payload), c.channel, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache curve %s: %w", state.Key(), err)
	}
	return res == 1, nil
}

// Get returns the cached state. Returns storage.ErrNotFound on a miss.
func (c *CurveCache) Get(ctx context.Context, key domain.CurveKey) (*domain.CurveState, error) {
	raw, err := c.client.HGet(ctx, c.key(key), "state").Result()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get curve %s: %w", key, err)
	}

	var st domain.CurveState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("unmarshal curve %s: %w", key, err)
	}
	return &st, nil
}

// AfterCommit caches every curve state the block applied.
func (c *CurveCache) AfterCommit(ctx context.Context, b *domain.CommittedBlock) error {
	if b == nil {
		return nil
	}
	for _, st := range b.Curves {
		applied, err := c.Set(ctx, st)
		if err != nil {
			return err
		}
		if !applied {
			c.logger.Debug("cached curve is newer",
				zap.String("curve", st.Key().String()),
				zap.Uint64("slot", st.Slot),
			)
		}
	}
	return nil
}

// Subscribe returns a subscription to curve updates. Callers must Close it.
func (c *CurveCache) Subscribe(ctx context.Context) (*goredis.PubSub, error) {
	if c.channel == "" {
		return nil, fmt.Errorf("curve cache: no channel configured")
	}
	sub := c.client.Subscribe(ctx, c.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	return sub, nil
}
