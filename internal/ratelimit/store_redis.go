package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// allowScript evicts expired members, checks the count, and conditionally
// records the new event in one atomic step, so concurrent submissions cannot
// both slip under the limit.
//
// KEYS[1] = window key
// ARGV[1] = now (unix micros)
// ARGV[2] = window (micros)
// ARGV[3] = limit
// ARGV[4] = member (unique per event)
//
// Returns {allowed, count, oldest} where count includes the new event when
// allowed, and oldest is the unix-micro score of the earliest surviving event.
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], math.ceil(window / 1000))
  allowed = 1
  count = count + 1
end
local oldest = now
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisStore implements WindowStore on a Redis sorted set of event
// timestamps, shared across processes.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed sliding window store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	raw, err := allowScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + key},
		now.UnixMicro(), window.Microseconds(), limit, member,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit check: unexpected script reply of length %d", len(raw))
	}

	allowed := toInt64(raw[0]) == 1
	count := int(toInt64(raw[1]))
	oldest := time.UnixMicro(toInt64(raw[2]))

	res := &Result{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: oldest.Add(window),
	}
	if allowed {
		res.Remaining = limit - count
	} else {
		res.RetryAfter = window
	}
	return res, nil
}

func toInt64(v any) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}
