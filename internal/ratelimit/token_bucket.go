package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces quota hashes; each caller and route pair gets
// its own hash under it.
const DefaultKeyPrefix = "pixelcache:quota"

// ErrOverCapacity is returned for a cost the bucket can never cover.
var ErrOverCapacity = errors.New("cost exceeds quota capacity")

// Decision is the outcome of one charge. RetryAfter is zero when the charge
// was accepted.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// chargeQuota refills the caller's balance for the time elapsed since the
// last charge, then takes the requested cost if the balance covers it.
//
// KEYS[1] quota hash
// ARGV    capacity, refill per ms, now in ms, cost, ttl in ms
// returns {accepted, balance, wait_ms}
var chargeQuota = redis.NewScript(`
local quota = KEYS[1]
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", quota, "balance", "refilled_at")
local balance = tonumber(state[1]) or capacity
local refilled_at = tonumber(state[2]) or now

balance = math.min(capacity, balance + math.max(0, now - refilled_at) * per_ms)

local accepted = 0
local wait_ms = 0
if balance >= cost then
  balance = balance - cost
  accepted = 1
else
  wait_ms = math.ceil((cost - balance) / per_ms)
end

redis.call("HSET", quota, "balance", balance, "refilled_at", now)
redis.call("PEXPIRE", quota, ttl)

return {accepted, math.floor(balance), wait_ms}
`)

// RedisTokenBucket charges request quotas against a token bucket kept in
// redis, so every api replica draws from the same balance.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMS     float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}

	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(capacity),
		perMS:     float64(capacity) / float64(max(1, window.Milliseconds())),
		ttl:       2 * window,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

// AllowN charges cost tokens to subject. Warm requests pass one token per
// requested variant; a cost above capacity fails with ErrOverCapacity.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(1, cost)
	if int64(cost) > l.capacity {
		return Decision{}, fmt.Errorf("charge %d of %d: %w", cost, l.capacity, ErrOverCapacity)
	}

	reply, err := chargeQuota.Run(ctx, l.client, []string{l.key(subject)},
		l.capacity,
		l.perMS,
		l.now().UTC().UnixMilli(),
		cost,
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("charge quota: %w", err)
	}
	return decodeReply(reply)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + subject
}

func decodeReply(reply any) (Decision, error) {
	fields, ok := reply.([]any)
	if !ok || len(fields) != 3 {
		return Decision{}, fmt.Errorf("unexpected quota reply %T", reply)
	}

	var parsed [3]int64
	for i, name := range []string{"accepted", "balance", "wait"} {
		n, err := replyInt(fields[i])
		if err != nil {
			return Decision{}, fmt.Errorf("quota reply %s: %w", name, err)
		}
		parsed[i] = n
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func replyInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
