package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPAHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!DOCTYPE html><html><body>Turbo</body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('turbo');"), 0o644))

	handler := NewSPAHandler(dir)

	tests := []struct {
		name     string
		path     string
		code     int
		contains string
	}{
		{"index for root", "/", http.StatusOK, "Turbo"},
		{"static asset", "/app.js", http.StatusOK, "console.log"},
		{"client route falls back to index", "/transfer/history", http.StatusOK, "Turbo"},
		{"traversal stays inside static dir", "/../../etc/passwd", http.StatusOK, "Turbo"},
		{"unknown api path", "/api/unknown", http.StatusNotFound, ""},
		{"bare api prefix", "/api", http.StatusNotFound, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			assert.Equal(t, tc.code, rec.Code)
			if tc.contains != "" {
				assert.Contains(t, rec.Body.String(), tc.contains)
			}
		})
	}
}

func TestSPAHandler_NoIndexFile(t *testing.T) {
	handler := NewSPAHandler(t.TempDir())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
