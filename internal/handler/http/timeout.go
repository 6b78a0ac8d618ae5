package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"notifyhub/internal/handler/http/respond"
	"notifyhub/internal/observability/logging"
)

// Timeout returns middleware that answers 504 when the handler has not started
// its response within d. The handler's context is canceled at the deadline and
// its later writes fail with http.ErrHandlerTimeout.
//
// A handler that already sent its header is allowed to finish. A panic in the
// handler is re-raised on the serving goroutine so Recover still sees it.
//
// Admin routes use it; /notify does not, since an inline fan-out must not be
// cut short once sends have started.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			r = r.WithContext(ctx)

			gw := &guardedWriter{w: w, header: make(http.Header)}
			done := make(chan struct{})
			var panicVal any

			go func() {
				defer close(done)
				defer func() { panicVal = recover() }()
				next.ServeHTTP(gw, r)
			}()

			select {
			case <-done:
				if panicVal != nil {
					panic(panicVal)
				}
			case <-ctx.Done():
				if !gw.expire() {
					// ヘッダー送信済みなら最後まで書かせる
					<-done
					return
				}
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					logging.FromContext(ctx).Warn("request timed out",
						slog.String("path", r.URL.Path),
						slog.Duration("timeout", d))
				}
				respond.Error(w, r, http.StatusGatewayTimeout, "request timeout")
			}
		})
	}
}

// guardedWriter buffers headers and lets exactly one side (handler or
// timeout) own the underlying writer.
type guardedWriter struct {
	mu          sync.Mutex
	w           http.ResponseWriter
	header      http.Header
	wroteHeader bool
	expired     bool
}

func (g *guardedWriter) Header() http.Header {
	return g.header
}

func (g *guardedWriter) WriteHeader(code int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeHeaderLocked(code)
}

func (g *guardedWriter) writeHeaderLocked(code int) {
	if g.expired || g.wroteHeader {
		return
	}
	g.wroteHeader = true
	dst := g.w.Header()
	for k, v := range g.header {
		dst[k] = v
	}
	g.w.WriteHeader(code)
}

func (g *guardedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.expired {
		return 0, http.ErrHandlerTimeout
	}
	g.writeHeaderLocked(http.StatusOK)
	return g.w.Write(b)
}

// expire hands the response to the timeout path. It fails once the handler
// has sent its header.
func (g *guardedWriter) expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wroteHeader {
		return false
	}
	g.expired = true
	return true
}
