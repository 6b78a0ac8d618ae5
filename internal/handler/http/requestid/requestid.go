// Package requestid tags every request with an id that follows it through
// logs, error bodies and the X-Request-ID response header.
package requestid

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

type contextKey struct{}

// RequestIDHeader carries the id in both directions.
const RequestIDHeader = "X-Request-ID"

// 呼び出し元の ID はログにそのまま出るので、安全な文字だけ受け付ける
var validID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// FromContext returns the request id, or "" outside a request.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Valid reports whether a caller-supplied id can be reused as is.
func Valid(id string) bool {
	return validID.MatchString(id)
}

// Middleware reuses a valid incoming X-Request-ID or generates a UUID v4,
// echoes it on the response and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !Valid(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
