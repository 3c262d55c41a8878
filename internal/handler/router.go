package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/turbotransfer/host/internal/config"
	"github.com/turbotransfer/host/internal/middleware"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Session *SessionHandler
	Files   *FilesHandler
	Host    *HostHandler
	Events  *EventsHandler
	SPA     http.Handler
	DB      Pinger

	HostAuth        *middleware.HostMiddleware
	SessionAuth     *middleware.SessionMiddleware
	VerifyLimit     *middleware.RateLimitMiddleware
	BodyLimit       *middleware.BodyLimitMiddleware
	SecurityHeaders *middleware.SecurityHeadersMiddleware
}

// NewRouter mounts the API at the root and again under /api, the prefix
// the bundled web client uses. Streaming routes (upload, download, events)
// run without the request timeout and body limit.
func NewRouter(c RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(c.SecurityHeaders.Handler)
	r.Use(c.HostAuth.Handler)

	for _, prefix := range []string{"", "/api"} {
		r.Get(prefix+"/health", c.health)
		r.Route(prefix+"/session", c.sessionRoutes)
		r.Route(prefix+"/files", c.filesRoutes)
		r.Route(prefix+"/host", c.hostRoutes)
		r.With(c.SessionAuth.Handler).Get(prefix+"/events", c.Events.ServeHTTP)
	}

	if c.SPA != nil {
		r.NotFound(c.SPA.ServeHTTP)
	}

	return r
}

func (c RouterConfig) jsonGroup(r chi.Router) {
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(c.BodyLimit.Handler)
}

func (c RouterConfig) sessionRoutes(r chi.Router) {
	c.jsonGroup(r)

	r.Get("/init", c.Session.Init)
	r.Get("/me", c.Session.Me)
	r.With(c.VerifyLimit.Handler).Post("/verify", c.Session.Verify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireHost)
		r.Get("/status", c.Session.Status)
		r.Post("/reset", c.Session.Reset)
		r.Post("/block/{id}", c.Session.Block)
		r.Post("/disconnect/{id}", c.Session.Disconnect)
		r.Get("/blocked", c.Session.ListBlocked)
		r.Delete("/blocked/{fingerprint}", c.Session.Unblock)
		r.Get("/qr", c.Session.QR)
		r.Get("/pairing-target", c.Session.PairingTarget)
	})
}

func (c RouterConfig) filesRoutes(r chi.Router) {
	r.Use(c.SessionAuth.Handler)
	r.Use(middleware.RequireSession)

	r.Post("/upload", c.Files.Upload)
	r.Get("/download/{name}", c.Files.Download)
	r.Get("/batch-download", c.Files.BatchDownload)
	r.Get("/thumbnail/{name}", c.Files.Thumbnail)

	r.Group(func(r chi.Router) {
		c.jsonGroup(r)
		r.Get("/", c.Files.List)
		r.Post("/batch-delete", c.Files.BatchDelete)
		r.Get("/analytics/history", c.Files.AnalyticsHistory)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireHost)
			r.Delete("/analytics/history", c.Files.ClearAnalytics)
			r.Post("/cleanup", c.Files.Cleanup)
			r.Get("/config", c.Files.GetConfig)
			r.Post("/config", c.Files.UpdateConfig)
		})
	})
}

func (c RouterConfig) hostRoutes(r chi.Router) {
	c.jsonGroup(r)
	r.Use(c.SessionAuth.Handler)

	r.Get("/info", c.Host.Info)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession)
		r.Get("/clipboard", c.Host.GetClipboard)
		r.Post("/clipboard", c.Host.SetClipboard)
		r.Post("/command", c.Host.Command)
	})
}

func (c RouterConfig) health(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if c.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()
		if err := c.DB.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	})
}
