package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"notifyhub/internal/domain/entity"
)

// DefaultMemoryTTL is the lifetime of a process-local entry.
const DefaultMemoryTTL = 5 * time.Minute

// DefaultMemorySize bounds the number of tenants kept in process.
const DefaultMemorySize = 10000

// MemoryTier is a size-bounded, TTL-expiring in-process map of tenant credentials.
// It is safe for concurrent use.
type MemoryTier struct {
	lru *expirable.LRU[string, *entity.Credential]
}

func NewMemoryTier(size int, ttl time.Duration) *MemoryTier {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	return &MemoryTier{lru: expirable.NewLRU[string, *entity.Credential](size, nil, ttl)}
}

func (m *MemoryTier) Get(key string) (*entity.Credential, bool) {
	return m.lru.Get(key)
}

// Peek reads without refreshing recency.
func (m *MemoryTier) Peek(key string) (*entity.Credential, bool) {
	return m.lru.Peek(key)
}

func (m *MemoryTier) Set(key string, cred *entity.Credential) {
	m.lru.Add(key, cred)
}

func (m *MemoryTier) Delete(keys ...string) {
	for _, k := range keys {
		m.lru.Remove(k)
	}
}

// Purge drops every entry.
func (m *MemoryTier) Purge() {
	m.lru.Purge()
}

func (m *MemoryTier) Len() int {
	return m.lru.Len()
}
