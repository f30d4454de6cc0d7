package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] bucket key
// ARGV[1] refill rate in tokens per second
// ARGV[2] capacity
// ARGV[3] now in fractional unix seconds
// ARGV[4] ttl in seconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return {allowed, math.floor(tokens)}
`)

// Redis is a token bucket shared by every API instance. Capacity equals the
// limit and the bucket refills over one window.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "perfhub:ratelimit:", now: time.Now}
}

// NewRedisFromURL accepts redis://[user:password@]host:port/db.
func NewRedisFromURL(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts)), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	rate := float64(limit) / window.Seconds()
	now := float64(r.now().UnixMicro()) / 1e6
	ttl := int(window.Seconds()) + 1

	res, err := tokenBucketScript.Run(ctx, r.client, []string{r.prefix + key}, rate, limit, now, ttl).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return Decision{}, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	allowed, _ := results[0].(int64)
	remaining, _ := results[1].(int64)

	resetIn := time.Duration(float64(limit-int(remaining)) / rate * float64(time.Second))
	return Decision{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: int(remaining),
		ResetIn:   resetIn,
	}, nil
}
