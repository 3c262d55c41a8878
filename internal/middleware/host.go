package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/audit"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/util"
)

type contextKey string

const (
	HostContextKey    contextKey = "host"
	SessionContextKey contextKey = "session"
)

const HostTokenHeader = "X-Host-Token"

func IsHost(ctx context.Context) bool {
	isHost, _ := ctx.Value(HostContextKey).(bool)
	return isHost
}

// HostMiddleware marks requests presenting the configured host token as
// host requests, and requests from the host machine itself unless loopback
// trust is disabled. It never rejects.
type HostMiddleware struct {
	tokenHash     string
	trustLoopback bool
	proxyWarning  sync.Once
}

func NewHostMiddleware(tokenHash string, trustLoopback bool) *HostMiddleware {
	return &HostMiddleware{tokenHash: tokenHash, trustLoopback: trustLoopback}
}

func (m *HostMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isHost := m.trustLoopback && isLoopback(r)
		if isHost && isForwarded(r) {
			m.proxyWarning.Do(func() {
				log.Warn().Msg("loopback request carries forwarding headers; a local proxy makes every client host, set TRUST_LOOPBACK_AS_HOST=false")
			})
		}
		if !isHost {
			if token := r.Header.Get(HostTokenHeader); token != "" {
				isHost = m.tokenHash != "" && util.CheckPasswordHash(token, m.tokenHash)
				if !isHost {
					log.Warn().Str("ip", clientIP(r)).Msg("invalid host token")
					audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure, Details: map[string]interface{}{"reason": "invalid host token"}})
				}
			}
		}

		ctx := context.WithValue(r.Context(), HostContextKey, isHost)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireHost rejects requests that HostMiddleware did not mark as host.
func RequireHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsHost(r.Context()) {
			writeError(w, apperrors.Forbidden("Host access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isForwarded(r *http.Request) bool {
	return r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("Forwarded") != "" || r.Header.Get("X-Real-IP") != ""
}

func isLoopback(r *http.Request) bool {
	ip := net.ParseIP(clientIP(r))
	return ip != nil && ip.IsLoopback()
}
