package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func readingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestInputValidation(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		contentType string
		maxBody     int64
		wantStatus  int
	}{
		{"json body", http.MethodPost, "/notify", `{"tenantId":"t1"}`, "application/json", 0, http.StatusOK},
		{"json with charset", http.MethodPost, "/notify", `{}`, "application/json; charset=utf-8", 0, http.StatusOK},
		{"no body needs no content type", http.MethodPost, "/admin/cache/invalidate-all", "", "", 0, http.StatusOK},
		{"GET without body", http.MethodGet, "/admin/cache/count", "", "", 0, http.StatusOK},
		{"form body rejected", http.MethodPost, "/devices", "a=b", "application/x-www-form-urlencoded", 0, http.StatusUnsupportedMediaType},
		{"missing content type", http.MethodPost, "/devices", `{}`, "", 0, http.StatusUnsupportedMediaType},
		{"path too long", http.MethodGet, "/" + strings.Repeat("a", 2048), "", "", 0, http.StatusRequestURITooLong},
		{"path at limit", http.MethodGet, "/" + strings.Repeat("a", 2047), "", "", 0, http.StatusOK},
		{"body over limit", http.MethodPost, "/notify", strings.Repeat("a", 200), "application/json", 100, http.StatusRequestEntityTooLarge},
		{"body at limit", http.MethodPost, "/notify", strings.Repeat("a", 100), "application/json", 100, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := InputValidation(tt.maxBody)(readingHandler())

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestInputValidation_DefaultLimit(t *testing.T) {
	handler := InputValidation(0)(readingHandler())

	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(strings.Repeat("a", DefaultMaxBodyBytes+1)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
