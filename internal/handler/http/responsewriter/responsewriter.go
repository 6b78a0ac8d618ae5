// Package responsewriter records the status and size of a response for the
// logging and metrics middleware.
package responsewriter

import "net/http"

// ResponseWriter remembers the first status code and counts body bytes.
type ResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

// Wrap returns w itself when it is already a *ResponseWriter, so stacked
// middleware share one recorder.
func Wrap(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader forwards the first call only; later calls are ignored like net/http does.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *ResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// StatusCode is the status sent, or 200 if the handler wrote nothing.
func (w *ResponseWriter) StatusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// BytesWritten is the body size so far.
func (w *ResponseWriter) BytesWritten() int {
	return w.bytes
}

// Written reports whether the header has been sent.
func (w *ResponseWriter) Written() bool {
	return w.status != 0
}

// Flush implements http.Flusher when the underlying writer does.
func (w *ResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if w.status == 0 {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *ResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
