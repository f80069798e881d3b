package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every limiter key.
const DefaultRedisPrefix = "ratelimit:"

// slidingWindowScript records the call, prunes expired entries, counts the
// survivors and peeks the oldest score in a single atomic step.
//
// KEYS[1] = window key
// ARGV[1] = now (ms), ARGV[2] = window (ms), ARGV[3] = member, ARGV[4] = ttl (ms)
//
// Returns {count, oldest_ms}.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZADD', key, now, ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, tonumber(ARGV[4]))

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {count, oldest}
`)

var _ Limiter = (*Redis)(nil)

// Redis is a Limiter backed by a Redis sorted set per key. It is safe to share
// across processes.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a Redis limiter.
type RedisOption func(*Redis)

// WithPrefix overrides DefaultRedisPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

// NewRedis creates a Redis-backed sliding-window limiter.
func NewRedis(rdb goredis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:    rdb,
		prefix: DefaultRedisPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow records a call under key and reports whether it fits in the window.
func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
	ttl := (window + Grace).Milliseconds()

	vals, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{r.prefix + key},
		now, window.Milliseconds(), member, ttl,
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit/redis: allow %q: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit/redis: allow %q: unexpected reply %v", key, vals)
	}

	return newResult(int(vals[0]), limit, time.UnixMilli(vals[1]), window), nil
}
