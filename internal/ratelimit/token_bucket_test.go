package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisTokenBucketValidates(t *testing.T) {
	_, err := NewRedisTokenBucket(nil, 10, time.Minute, "")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	_, err = NewRedisTokenBucket(client, 0, time.Minute, "")
	assert.Error(t, err)
	_, err = NewRedisTokenBucket(client, 10, 0, "")
	assert.Error(t, err)
}

func TestQuotaKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisTokenBucket(client, 10, time.Minute, " ")
	require.NoError(t, err)
	assert.Equal(t, "pixelcache:quota:alice:/v1/warm", l.key("alice:/v1/warm"))
	assert.Equal(t, "pixelcache:quota:anonymous", l.key("  "))
}

func TestAllowNRejectsCostAboveCapacity(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisTokenBucket(client, 3, time.Minute, "")
	require.NoError(t, err)

	d, err := l.AllowN(context.Background(), "alice", 4)
	assert.ErrorIs(t, err, ErrOverCapacity)
	assert.False(t, d.Allowed)
}

func TestDecodeReply(t *testing.T) {
	d, err := decodeReply([]any{int64(1), int64(9), int64(0)})
	require.NoError(t, err)
	assert.Equal(t, Decision{Allowed: true, Remaining: 9}, d)

	d, err = decodeReply([]any{int64(0), "0", float64(1500)})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)

	_, err = decodeReply([]any{int64(1)})
	assert.Error(t, err)
	_, err = decodeReply("OK")
	assert.Error(t, err)
	_, err = decodeReply([]any{true, int64(0), int64(0)})
	assert.ErrorContains(t, err, "accepted")
}

func TestReplyInt(t *testing.T) {
	for _, in := range []any{int64(42), 42, float64(42.9), "42"} {
		got, err := replyInt(in)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)
	}
	_, err := replyInt("forty")
	assert.Error(t, err)
}
