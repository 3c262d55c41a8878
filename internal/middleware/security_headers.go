package middleware

import (
	"net/http"
)

type SecurityHeadersMiddleware struct {
	tlsEnabled bool
}

func NewSecurityHeadersMiddleware(tlsEnabled bool) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{tlsEnabled: tlsEnabled}
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if m.tlsEnabled {
			h.Set("Strict-Transport-Security", "max-age=31536000")
		}

		// Thumbnails and previews are rendered from blob: URLs.
		csp := "default-src 'self'; " +
			"script-src 'self'; " +
			"style-src 'self' 'unsafe-inline'; " +
			"img-src 'self' data: blob:; " +
			"media-src 'self' blob:; " +
			"connect-src 'self'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'self'"

		h.Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
