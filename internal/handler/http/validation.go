package http

import (
	"mime"
	"net/http"

	"notifyhub/internal/handler/http/respond"
)

// DefaultMaxBodyBytes bounds a notify or device request body.
const DefaultMaxBodyBytes = 1 << 20

// InputValidation returns middleware that validates and limits request inputs.
// It enforces:
//   - URI path length (2KB)
//   - application/json on requests that carry a body
//   - request body size (maxBodyBytes, DefaultMaxBodyBytes when <= 0)
func InputValidation(maxBodyBytes int64) func(http.Handler) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(r.URL.Path) > 2048 {
				respond.Error(w, r, http.StatusRequestURITooLong, "URI too long")
				return
			}

			if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "application/json" {
					respond.Error(w, r, http.StatusUnsupportedMediaType, "content type must be application/json")
					return
				}
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			next.ServeHTTP(w, r)
		})
	}
}
