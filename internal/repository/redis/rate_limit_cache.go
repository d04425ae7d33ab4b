package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"passwordless-auth/internal/client"
	"passwordless-auth/internal/model"
	"passwordless-auth/internal/ratelimit"
	"passwordless-auth/internal/util"
)

// multiWindowTokenBucket checks every window and, only if all have a
// token, takes one from each. Refill is continuous. The script runs
// atomically so concurrent instances share one consistent view per key.
//
// KEYS[1]  bucket hash
// ARGV[1]  now in ms
// ARGV[2]  number of windows, then capacity and period_ms per window
// returns  {1, 0} when allowed, {0, wait_ms} when denied
var multiWindowTokenBucket = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[2])

local tokens = {}
local wait = -1
local ttl = 0

for i = 1, n do
  local capacity = tonumber(ARGV[1 + i * 2])
  local period = tonumber(ARGV[2 + i * 2])
  local rate = capacity / period

  local t = tonumber(redis.call('HGET', key, 't' .. i))
  local ts = tonumber(redis.call('HGET', key, 'ts' .. i))
  if t == nil or ts == nil then
    t = capacity
    ts = now
  end

  local elapsed = math.max(0, now - ts)
  t = math.min(capacity, t + elapsed * rate)
  tokens[i] = t

  if t < 1 then
    local w = math.ceil((1 - t) * period / capacity)
    if wait < 0 or w < wait then
      wait = w
    end
  end
  if period > ttl then
    ttl = period
  end
end

if wait >= 0 then
  return {0, wait}
end

for i = 1, n do
  redis.call('HSET', key, 't' .. i, tostring(tokens[i] - 1), 'ts' .. i, now)
end
redis.call('PEXPIRE', key, ttl)
return {1, 0}
`)

// RateLimitCache is a Limiter shared across service instances. Keys
// expire once the longest window has had time to refill completely.
type RateLimitCache struct {
	client  *client.RedisClient
	windows []ratelimit.Window
	clock   model.Clock
}

func NewRateLimitCache(client *client.RedisClient, windows []ratelimit.Window, clock model.Clock) *RateLimitCache {
	if len(windows) == 0 {
		windows = ratelimit.DefaultWindows()
	}
	return &RateLimitCache{client: client, windows: windows, clock: clock}
}

// TryConsume fails open: if Redis cannot answer the request is allowed
// and the error logged, since the limiter must never surface an error.
func (c *RateLimitCache) TryConsume(ctx context.Context, key string) ratelimit.Decision {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	args := make([]interface{}, 0, 2+2*len(c.windows))
	args = append(args, c.clock.Now().UnixMilli(), len(c.windows))
	for _, w := range c.windows {
		args = append(args, w.Capacity, w.Period.Milliseconds())
	}

	res, err := c.client.RunScript(ctx, multiWindowTokenBucket, []string{c.client.Key("rate_limit", key)}, args...)
	if err != nil {
		util.Error("Rate limit check failed, allowing request", zap.Error(err))
		return ratelimit.Decision{Allowed: true}
	}

	return decisionFromReply(res)
}

// decisionFromReply allows the request when the script reply cannot be
// understood.
func decisionFromReply(res interface{}) ratelimit.Decision {
	allowed, waitMs, err := parseBucketReply(res)
	if err != nil {
		util.Error("Unexpected rate limit script reply, allowing request", zap.Error(err))
		return ratelimit.Decision{Allowed: true}
	}
	if allowed {
		return ratelimit.Decision{Allowed: true}
	}

	util.Debug("Rate limit exhausted", zap.Int64("retry_after_ms", waitMs))
	return ratelimit.Decision{Allowed: false, RetryAfter: time.Duration(waitMs) * time.Millisecond}
}

func parseBucketReply(res interface{}) (bool, int64, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected reply %v", res)
	}
	flag, ok1 := values[0].(int64)
	wait, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, fmt.Errorf("unexpected reply types %T, %T", values[0], values[1])
	}
	return flag == 1, wait, nil
}
