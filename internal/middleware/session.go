package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/turbotransfer/host/internal/audit"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
)

const (
	SessionIDHeader = "X-Session-ID"
	sessionIDQuery  = "session_id"
)

type SessionAuthorizer interface {
	Authorize(sessionID string) (*model.Session, error)
}

func GetSession(ctx context.Context) *model.Session {
	if session, ok := ctx.Value(SessionContextKey).(*model.Session); ok {
		return session
	}
	return nil
}

// SessionIDFromRequest reads the session id from the header, or from the
// query string for requests a browser issues without custom headers
// (downloads, thumbnails, event streams).
func SessionIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(SessionIDHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get(sessionIDQuery))
}

// SessionMiddleware resolves the caller's session. Requests without a
// session id pass through; a session id that is not authenticated is
// rejected. The host may pass a device's session id to act on its behalf.
type SessionMiddleware struct {
	sessions SessionAuthorizer
}

func NewSessionMiddleware(sessions SessionAuthorizer) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := SessionIDFromRequest(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.sessions.Authorize(id)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventAuthFailure,
				SessionID: id,
				Details:   map[string]interface{}{"reason": "session not authenticated"},
			})
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects callers that are neither the host nor an
// authenticated session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetSession(r.Context()) == nil && !IsHost(r.Context()) {
			writeError(w, apperrors.Unauthorized("Session required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
