// Package respond writes JSON responses and error bodies.
// Server-side errors never reach the client: they are logged (with secrets
// masked) and replaced by a generic message.
package respond

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"notifyhub/internal/handler/http/requestid"
	"notifyhub/internal/observability/logging"
)

// InternalErrorMessage is returned in place of any 5xx error detail.
const InternalErrorMessage = "internal server error"

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// JSON encodes v and writes it with the given status code.
// v is encoded before the header is sent, so an encoding failure still yields a 500.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if v == nil {
		w.WriteHeader(code)
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Default().Error("failed to encode JSON response",
			slog.Int("status_code", code),
			slog.Any("error", err))
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"` + InternalErrorMessage + `"}` + "\n"))
		return
	}
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// Error writes msg as an error body tagged with the request id.
func Error(w http.ResponseWriter, r *http.Request, code int, msg string) {
	JSON(w, code, ErrorBody{
		Error:     msg,
		RequestID: requestid.FromContext(r.Context()),
	})
}

// SafeError writes err for client errors (4xx) as-is. For 5xx the error is
// logged with the request-scoped logger and the client gets InternalErrorMessage.
func SafeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if err == nil {
		return
	}
	if code < http.StatusInternalServerError {
		Error(w, r, code, err.Error())
		return
	}

	// 機密情報をマスクしてログ出力
	logging.FromContext(r.Context()).Error("internal server error",
		slog.Int("code", code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", SanitizeError(err)))
	Error(w, r, code, InternalErrorMessage)
}
