package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"notifyhub/internal/domain/entity"
)

// ClientFactory builds a provider client from one tenant's credential.
type ClientFactory[T any] func(ctx context.Context, cred *entity.Credential) (T, error)

type clientEntry[T any] struct {
	mu          sync.Mutex
	client      T
	fingerprint string
	ready       atomic.Bool
}

// ClientRegistry caches one provider client per tenant. It starts empty and
// builds clients on first use. A client is rebuilt when the credential's
// fingerprint changes, so rotated secrets take effect once the config cache
// serves them.
type ClientRegistry[T any] struct {
	mu          sync.Mutex
	entries     map[string]*clientEntry[T]
	factory     ClientFactory[T]
	fingerprint func(*entity.Credential) string
}

// NewClientRegistry creates an empty registry. fingerprint selects the
// credential fields the client depends on.
func NewClientRegistry[T any](factory ClientFactory[T], fingerprint func(*entity.Credential) string) *ClientRegistry[T] {
	return &ClientRegistry[T]{
		entries:     make(map[string]*clientEntry[T]),
		factory:     factory,
		fingerprint: fingerprint,
	}
}

func (r *ClientRegistry[T]) entry(key string) *clientEntry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &clientEntry[T]{}
		r.entries[key] = e
	}
	return e
}

// Get returns the tenant's client, creating it from cred if missing or stale.
// Creation for one tenant is serialized; different tenants do not block each other.
func (r *ClientRegistry[T]) Get(ctx context.Context, tenantID string, cred *entity.Credential) (T, error) {
	e := r.entry(tenantID)
	fp := r.fingerprint(cred)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready.Load() && e.fingerprint == fp {
		return e.client, nil
	}
	client, err := r.factory(ctx, cred)
	if err != nil {
		var zero T
		return zero, err
	}
	e.client = client
	e.fingerprint = fp
	e.ready.Store(true)
	return client, nil
}

// Len returns the number of tenants with a built client.
func (r *ClientRegistry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.ready.Load() {
			n++
		}
	}
	return n
}
