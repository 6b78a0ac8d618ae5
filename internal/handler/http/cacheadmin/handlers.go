// Package cacheadmin provides the operator endpoints over the tenant
// configuration cache: lookup, peek, invalidation and key count.
package cacheadmin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"notifyhub/internal/domain/entity"
	"notifyhub/internal/handler/http/pathutil"
	"notifyhub/internal/handler/http/respond"
	"notifyhub/internal/observability/logging"
	"notifyhub/internal/usecase/configcache"
)

// maxBatch bounds one batch invalidation request.
const maxBatch = 1000

// Cache is the configuration cache as the admin endpoints see it.
type Cache interface {
	Get(ctx context.Context, tenantID string) (*entity.Credential, error)
	Peek(ctx context.Context, tenantID string) (*entity.Credential, bool)
	Invalidate(ctx context.Context, tenantID string) error
	InvalidateMany(ctx context.Context, tenantIDs []string) error
	InvalidateAll(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// Register registers the cache admin routes with the given mux.
func Register(mux *http.ServeMux, cache Cache) {
	h := Handlers{Cache: cache}
	mux.HandleFunc("GET /admin/cache/count", h.Count)
	mux.HandleFunc("POST /admin/cache/invalidate", h.InvalidateBatch)
	mux.HandleFunc("POST /admin/cache/invalidate-all", h.InvalidateAll)
	mux.HandleFunc("GET /admin/cache/{tenantID}", h.Get)
	mux.HandleFunc("GET /admin/cache/{tenantID}/peek", h.Peek)
	mux.HandleFunc("POST /admin/cache/{tenantID}/invalidate", h.Invalidate)
}

// Handlers groups the cache admin endpoints.
type Handlers struct{ Cache Cache }

// Get loads the tenant configuration through every tier, backfilling on a miss.
func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}
	cred, err := h.Cache.Get(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, configcache.ErrNotFound) {
			respond.SafeError(w, r, http.StatusNotFound, errors.New("tenant configuration not found"))
			return
		}
		h.fail(w, r, "cache get failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, toDTO(cred))
}

// Peek reports what the tiers hold without touching the store.
func (h Handlers) Peek(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}
	cred, cached := h.Cache.Peek(r.Context(), tenantID)
	resp := PeekResponse{TenantID: tenantID, Cached: cached}
	if cached {
		dto := toDTO(cred)
		resp.Config = &dto
	}
	respond.JSON(w, http.StatusOK, resp)
}

// Invalidate drops one tenant from both tiers.
func (h Handlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}
	if err := h.Cache.Invalidate(r.Context(), tenantID); err != nil {
		h.fail(w, r, "cache invalidate failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, InvalidateResponse{Invalidated: 1})
}

// InvalidateBatch drops the tenants listed in the body.
func (h Handlers) InvalidateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if len(req.TenantIDs) == 0 {
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("tenantIds is required"))
		return
	}
	if len(req.TenantIDs) > maxBatch {
		respond.SafeError(w, r, http.StatusBadRequest, errors.New("tenantIds must be at most 1000 entries"))
		return
	}

	ids := make([]string, 0, len(req.TenantIDs))
	seen := make(map[string]struct{}, len(req.TenantIDs))
	for _, raw := range req.TenantIDs {
		id, err := pathutil.TenantID(strings.TrimSpace(raw))
		if err != nil {
			respond.SafeError(w, r, http.StatusBadRequest, err)
			return
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if err := h.Cache.InvalidateMany(r.Context(), ids); err != nil {
		h.fail(w, r, "cache batch invalidate failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, InvalidateResponse{Invalidated: len(ids)})
}

// InvalidateAll clears every tenant configuration key.
func (h Handlers) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.Cache.InvalidateAll(r.Context())
	if err != nil {
		h.fail(w, r, "cache invalidate-all failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, InvalidateResponse{Invalidated: n})
}

// Count returns the number of cached tenant configurations in the shared tier.
func (h Handlers) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.Cache.Count(r.Context())
	if err != nil {
		h.fail(w, r, "cache count failed", err)
		return
	}
	respond.JSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h Handlers) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(msg,
		slog.String("path", r.URL.Path),
		slog.String("error", respond.SanitizeError(err)))
	respond.Error(w, r, http.StatusInternalServerError, respond.InternalErrorMessage)
}

func tenantFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := pathutil.TenantID(r.PathValue("tenantID"))
	if err != nil {
		respond.SafeError(w, r, http.StatusBadRequest, err)
		return "", false
	}
	return id, true
}
