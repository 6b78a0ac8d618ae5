package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notifyhub/internal/domain/entity"
)

// DefaultRedisTTL is the lifetime of a shared-tier entry.
const DefaultRedisTTL = 30 * time.Minute

const scanCount = 500

// RedisTier stores tenant credentials as JSON strings with a TTL.
type RedisTier struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisTier(rdb redis.UniversalClient, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisTier{rdb: rdb, ttl: ttl}
}

// Get returns (nil, false, nil) on a miss. A value that cannot be decoded is
// reported as an error so callers can treat it as a miss.
func (r *RedisTier) Get(ctx context.Context, key string) (*entity.Credential, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var cred entity.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return &cred, true, nil
}

func (r *RedisTier) Set(ctx context.Context, key string, cred *entity.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// scanPrefix walks every key starting with prefix using SCAN, calling fn per page.
func (r *RedisTier) scanPrefix(ctx context.Context, prefix string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// DeletePrefix removes every key under prefix and returns how many were removed.
func (r *RedisTier) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	err := r.scanPrefix(ctx, prefix, func(keys []string) error {
		n, err := r.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		return nil
	})
	return removed, err
}

// CountPrefix returns the number of keys under prefix.
func (r *RedisTier) CountPrefix(ctx context.Context, prefix string) (int, error) {
	seen := make(map[string]struct{})
	err := r.scanPrefix(ctx, prefix, func(keys []string) error {
		// SCAN may return a key more than once
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		return nil
	})
	return len(seen), err
}

// Ping reports whether redis is reachable.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
