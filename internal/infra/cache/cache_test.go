package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/domain/entity"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

/* ──────────────────────────── 1. MemoryTier ──────────────────────────── */

func TestMemoryTier_SetGetDelete(t *testing.T) {
	m := NewMemoryTier(10, time.Minute)
	cred := &entity.Credential{TenantID: "t1"}

	m.Set("k1", cred)
	got, ok := m.Get("k1")
	require.True(t, ok)
	assert.Same(t, cred, got)

	m.Delete("k1")
	_, ok = m.Peek("k1")
	assert.False(t, ok)
}

func TestMemoryTier_Expires(t *testing.T) {
	m := NewMemoryTier(10, 20*time.Millisecond)
	m.Set("k1", &entity.Credential{TenantID: "t1"})

	assert.Eventually(t, func() bool {
		_, ok := m.Get("k1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryTier_Purge(t *testing.T) {
	m := NewMemoryTier(0, 0)
	m.Set("a", &entity.Credential{})
	m.Set("b", &entity.Credential{})
	require.Equal(t, 2, m.Len())

	m.Purge()
	assert.Zero(t, m.Len())
}

/* ──────────────────────────── 2. RedisTier ──────────────────────────── */

func TestRedisTier_RoundTripWithTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	tier := NewRedisTier(rdb, 30*time.Minute)
	ctx := context.Background()

	cred := &entity.Credential{TenantID: "t1", SMTPHost: "smtp.example.com", SMTPPort: 587}
	require.NoError(t, tier.Set(ctx, "NotificationActionConfig:t1", cred))

	assert.Equal(t, 30*time.Minute, mr.TTL("NotificationActionConfig:t1"))

	got, ok, err := tier.Get(ctx, "NotificationActionConfig:t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cred, got)
}

func TestRedisTier_Miss(t *testing.T) {
	_, rdb := newRedis(t)
	got, ok, err := NewRedisTier(rdb, 0).Get(context.Background(), "nope")

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisTier_CorruptValue(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("k", "{not json"))

	_, ok, err := NewRedisTier(rdb, 0).Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisTier_PrefixOperations(t *testing.T) {
	mr, rdb := newRedis(t)
	tier := NewRedisTier(rdb, 0)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		require.NoError(t, tier.Set(ctx, fmt.Sprintf("P:%d", i), &entity.Credential{}))
	}
	require.NoError(t, mr.Set("other", "x"))

	n, err := tier.CountPrefix(ctx, "P:")
	require.NoError(t, err)
	assert.Equal(t, 1200, n)

	removed, err := tier.DeletePrefix(ctx, "P:")
	require.NoError(t, err)
	assert.Equal(t, 1200, removed)
	assert.True(t, mr.Exists("other"))

	n, err = tier.CountPrefix(ctx, "P:")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisTier_Unavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	tier := NewRedisTier(rdb, 0)
	mr.Close()

	_, _, err := tier.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, tier.Ping(context.Background()))
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "::not-a-url")
	assert.Error(t, err)
}

func TestNewRedisClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer func() { _ = rdb.Close() }()
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}
