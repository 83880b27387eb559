package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store shared between gateway replicas. Values carry their own
// TTL; a sorted set scored by creation time drives Evict and the size cap.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type redisValue struct {
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration, maxEntries int) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, maxEntries: maxEntries, now: time.Now}
}

func (r *Redis) indexKey() string { return r.prefix + "index" }

func (r *Redis) valueKey(key string) string { return r.prefix + "v:" + key }

func (r *Redis) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var v redisValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode cached entry: %w", err)
	}
	if r.now().Sub(v.CreatedAt) >= r.ttl {
		return nil, false, nil
	}
	return &Entry{Key: key, Body: v.Body, CreatedAt: v.CreatedAt}, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, body []byte) error {
	now := r.now()
	raw, err := json.Marshal(redisValue{Body: body, CreatedAt: now})
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.valueKey(key), raw, r.ttl)
		p.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return r.trim(ctx)
}

// trim drops the oldest entries above maxEntries.
func (r *Redis) trim(ctx context.Context) error {
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	excess := n - int64(r.maxEntries)
	if excess <= 0 {
		return nil
	}
	popped, err := r.client.ZPopMin(ctx, r.indexKey(), excess).Result()
	if err != nil {
		return fmt.Errorf("redis zpopmin: %w", err)
	}
	return r.deleteValues(ctx, popped)
}

func (r *Redis) Evict(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.ttl).UnixNano()
	expired, err := r.client.ZRangeByScoreWithScores(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zrangebyscore: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	members := make([]any, len(expired))
	for i, z := range expired {
		members[i] = z.Member
	}
	if err := r.client.ZRem(ctx, r.indexKey(), members...).Err(); err != nil {
		return 0, fmt.Errorf("redis zrem: %w", err)
	}
	return len(expired), r.deleteValues(ctx, expired)
}

func (r *Redis) deleteValues(ctx context.Context, zs []redis.Z) error {
	if len(zs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(zs))
	for _, z := range zs {
		if m, ok := z.Member.(string); ok {
			keys = append(keys, r.valueKey(m))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

var _ Store = (*Redis)(nil)
