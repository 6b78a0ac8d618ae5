package configcache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/infra/cache"
	"notifyhub/internal/usecase/configcache"
)

/* ──────────────────────────── ヘルパ ──────────────────────────── */

type stubStore struct {
	mu    sync.Mutex
	calls int
	creds map[string]*entity.Credential
	err   error
	gate  chan struct{}
}

func (s *stubStore) Get(ctx context.Context, tenantID string) (*entity.Credential, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.creds[tenantID], nil
}

func (s *stubStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	mr    *miniredis.Miniredis
	local *cache.MemoryTier
	store *stubStore
	cache *configcache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	local := cache.NewMemoryTier(100, 5*time.Minute)
	store := &stubStore{creds: map[string]*entity.Credential{
		"t1": {TenantID: "t1", SMTPHost: "smtp.t1"},
		"t2": {TenantID: "t2", SMTPHost: "smtp.t2"},
	}}
	return &fixture{
		mr:    mr,
		local: local,
		store: store,
		cache: configcache.New(local, cache.NewRedisTier(rdb, 30*time.Minute), store, nil),
	}
}

/* ──────────────────────────── 1. Get ──────────────────────────── */

func TestGet_ColdPopulatesBothTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "smtp.t1", got.SMTPHost)
	assert.Equal(t, 1, f.store.Calls())

	_, inMemory := f.local.Peek(configcache.Key("t1"))
	assert.True(t, inMemory)
	assert.True(t, f.mr.Exists("NotificationActionConfig:t1"))
	assert.Equal(t, 30*time.Minute, f.mr.TTL("NotificationActionConfig:t1"))

	// 2回目はストアに行かない
	_, err = f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Calls())
}

func TestGet_RedisHitBackfillsMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	f.local.Purge()

	got, err := f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, 1, f.store.Calls())

	_, inMemory := f.local.Peek(configcache.Key("t1"))
	assert.True(t, inMemory)
}

func TestGet_MissIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, "ghost")
	assert.ErrorIs(t, err, configcache.ErrNotFound)
	_, err = f.cache.Get(ctx, "ghost")
	assert.ErrorIs(t, err, configcache.ErrNotFound)

	assert.Equal(t, 2, f.store.Calls())
	assert.False(t, f.mr.Exists("NotificationActionConfig:ghost"))
}

func TestGet_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("db down")

	_, err := f.cache.Get(context.Background(), "t1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, configcache.ErrNotFound)
}

func TestGet_CorruptSharedEntryFallsThrough(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("NotificationActionConfig:t1", "garbage"))

	got, err := f.cache.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "smtp.t1", got.SMTPHost)
	assert.Equal(t, 1, f.store.Calls())
}

func TestGet_RedisDownFallsThroughToStore(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	got, err := f.cache.Get(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "smtp.t2", got.SMTPHost)
}

func TestGet_ConcurrentMissesShareOneStoreRead(t *testing.T) {
	f := newFixture(t)
	f.store.gate = make(chan struct{})

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.cache.Get(context.Background(), "t1")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.store.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.store.Calls())
}

func TestGet_CanceledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	f.store.gate = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.cache.Get(firstCtx, "t1")
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan *entity.Credential, 1)
	secondErr := make(chan error, 1)
	go func() {
		cred, err := f.cache.Get(context.Background(), "t1")
		second <- cred
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.store.gate)
	require.NoError(t, <-secondErr)
	assert.Equal(t, "smtp.t1", (<-second).SMTPHost)
	assert.Equal(t, 1, f.store.Calls())
}

/* ──────────────────────────── 2. Peek ──────────────────────────── */

func TestPeek_NeverTouchesStore(t *testing.T) {
	f := newFixture(t)

	_, ok := f.cache.Peek(context.Background(), "t1")
	assert.False(t, ok)
	assert.Zero(t, f.store.Calls())
}

func TestPeek_RedisOnlyDoesNotBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	f.local.Purge()

	got, ok := f.cache.Peek(ctx, "t1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.TenantID)

	_, inMemory := f.local.Peek(configcache.Key("t1"))
	assert.False(t, inMemory)
}

/* ──────────────────────────── 3. Invalidate / Count ──────────────────────────── */

func TestInvalidate_ForcesReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Get(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, f.cache.Invalidate(ctx, "t1"))
	_, ok := f.cache.Peek(ctx, "t1")
	assert.False(t, ok)

	_, err = f.cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Calls())
}

func TestInvalidateMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		_, err := f.cache.Get(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, f.cache.InvalidateMany(ctx, []string{"t1", "t2"}))

	n, err := f.cache.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, f.cache.InvalidateMany(ctx, nil))
}

func TestInvalidateAll_CountsAndClearsPrefixOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		_, err := f.cache.Get(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, f.mr.Set("unrelated", "x"))

	n, err := f.cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := f.cache.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.True(t, f.mr.Exists("unrelated"))

	_, ok := f.cache.Peek(ctx, "t1")
	assert.False(t, ok)
}
