// Package configcache serves per-tenant delivery credentials from a two-tier cache
// (process memory, then redis) in front of the credential store.
package configcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/observability/metrics"
	"notifyhub/internal/repository"
)

// KeyPrefix namespaces credential entries in the shared tier.
const KeyPrefix = "NotificationActionConfig:"

// loadTimeout bounds one shared load from redis and the store.
const loadTimeout = 10 * time.Second

// ErrNotFound is returned when no tier and no store row has the tenant.
// It wraps entity.ErrNotFound.
var ErrNotFound = fmt.Errorf("tenant configuration %w", entity.ErrNotFound)

// Key returns the cache key for a tenant.
func Key(tenantID string) string {
	return KeyPrefix + tenantID
}

// LocalTier is the process-local tier.
type LocalTier interface {
	Get(key string) (*entity.Credential, bool)
	Peek(key string) (*entity.Credential, bool)
	Set(key string, cred *entity.Credential)
	Delete(keys ...string)
	Purge()
}

// SharedTier is the cross-process tier.
type SharedTier interface {
	Get(ctx context.Context, key string) (*entity.Credential, bool, error)
	Set(ctx context.Context, key string, cred *entity.Credential) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	CountPrefix(ctx context.Context, prefix string) (int, error)
}

// Cache resolves tenant credentials. Returned values are shared and must be treated as read-only.
type Cache struct {
	local  LocalTier
	shared SharedTier
	store  repository.CredentialRepository
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Cache over the two tiers and the credential store.
func New(local LocalTier, shared SharedTier, store repository.CredentialRepository, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{local: local, shared: shared, store: store, logger: logger}
}

// Get returns the tenant's credential: memory, then redis (backfilling memory),
// then the store (backfilling both). Misses are not cached.
// Concurrent misses for the same tenant share one store read.
func (c *Cache) Get(ctx context.Context, tenantID string) (*entity.Credential, error) {
	key := Key(tenantID)
	if cred, ok := c.local.Get(key); ok {
		metrics.RecordCacheLookup("memory")
		return cred, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// 他の待機者がいるので呼び出し元のキャンセルでロードを止めない
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.loadSlow(loadCtx, tenantID, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entity.Credential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) loadSlow(ctx context.Context, tenantID, key string) (*entity.Credential, error) {
	// 直前の呼び出しが埋めている可能性がある
	if cred, ok := c.local.Get(key); ok {
		metrics.RecordCacheLookup("memory")
		return cred, nil
	}

	cred, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache read failed, falling through to store",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
	}
	if ok {
		metrics.RecordCacheLookup("redis")
		c.local.Set(key, cred)
		return cred, nil
	}

	cred, err = c.store.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant configuration: %w", err)
	}
	if cred == nil {
		metrics.RecordCacheLookup("miss")
		return nil, ErrNotFound
	}
	metrics.RecordCacheLookup("store")

	if err := c.shared.Set(ctx, key, cred); err != nil {
		c.logger.Warn("shared cache backfill failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
	}
	c.local.Set(key, cred)
	return cred, nil
}

// Peek reports what the cache tiers hold for a tenant without consulting the
// store and without backfilling.
func (c *Cache) Peek(ctx context.Context, tenantID string) (*entity.Credential, bool) {
	key := Key(tenantID)
	if cred, ok := c.local.Peek(key); ok {
		return cred, true
	}
	cred, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache peek failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
		return nil, false
	}
	return cred, ok
}

// Invalidate removes the tenant from both tiers.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	return c.InvalidateMany(ctx, []string{tenantID})
}

// InvalidateMany removes several tenants from both tiers.
func (c *Cache) InvalidateMany(ctx context.Context, tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		keys = append(keys, Key(id))
	}
	c.local.Delete(keys...)
	if err := c.shared.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	return nil
}

// InvalidateAll removes every credential key from the shared tier and purges
// this process's memory tier. Other processes' memory tiers expire on their own TTL.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	c.local.Purge()
	n, err := c.shared.DeletePrefix(ctx, KeyPrefix)
	if err != nil {
		return n, fmt.Errorf("invalidate all: %w", err)
	}
	c.logger.Info("tenant configuration cache cleared", slog.Int("keys", n))
	return n, nil
}

// Count returns the number of credential keys in the shared tier.
func (c *Cache) Count(ctx context.Context) (int, error) {
	n, err := c.shared.CountPrefix(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
