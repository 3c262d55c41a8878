package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbotransfer/host/internal/database"
	"github.com/turbotransfer/host/internal/hostexec"
	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/repository"
	"github.com/turbotransfer/host/internal/service"
	"github.com/turbotransfer/host/internal/sse"
	"github.com/turbotransfer/host/internal/transfer"
)

const (
	hostAddr   = "127.0.0.1:50000"
	clientAddr = "192.168.1.40:50000"

	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148"
	androidUA = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Mobile Safari/537.36"
)

type testServer struct {
	handler  http.Handler
	registry *service.SessionRegistry
	store    *transfer.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := t.Context()

	db, err := database.Connect("sqlite://" + filepath.Join(t.TempDir(), "turbo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker := sse.NewBroker(nil)
	t.Cleanup(broker.Close)

	analytics := service.NewAnalyticsService(repository.NewAnalyticsRepository(db.DB), broker)
	store, err := transfer.NewStore(analytics, broker, transfer.Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(store.WaitThumbnails)

	registry := service.NewSessionRegistry(repository.NewBlocklistRepository(db.DB), store, broker, service.RegistryOptions{
		PINTTL: 2 * time.Minute,
	})
	require.NoError(t, registry.Start(ctx))

	pairing := service.NewPairingService(registry, service.PairingOptions{
		FingerprintSecret: "test-secret",
		PublicHost:        "192.168.1.20",
		Port:              8000,
	})
	executor := hostexec.NewExecutor(hostexec.Options{DryRun: true, GOOS: "linux"})

	router := NewRouter(RouterConfig{
		Session: NewSessionHandler(pairing, registry),
		Files:   NewFilesHandler(store, analytics),
		Host: NewHostHandler(executor,
			service.NewClipboardService(1024, broker),
			service.NewCommandService(registry, executor)),
		Events:          NewEventsHandler(broker),
		DB:              db,
		HostAuth:        middleware.NewHostMiddleware("", true),
		SessionAuth:     middleware.NewSessionMiddleware(registry),
		VerifyLimit:     middleware.NewRateLimitMiddleware(middleware.NewMemoryLimiter(5), "verify"),
		BodyLimit:       middleware.NewBodyLimitMiddleware(0),
		SecurityHeaders: middleware.NewSecurityHeadersMiddleware(false),
	})

	return &testServer{handler: router, registry: registry, store: store}
}

type call struct {
	method  string
	path    string
	remote  string
	body    io.Reader
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, c.body)
	req.RemoteAddr = c.remote
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// pair runs the full handshake for a client device and returns its session.
func (s *testServer) pair(t *testing.T, userAgent, deviceToken string) service.InitiateResult {
	t.Helper()

	rec := s.do(t, call{
		method:  http.MethodGet,
		path:    "/api/session/init",
		remote:  clientAddr,
		headers: map[string]string{"User-Agent": userAgent, "X-Device-Token": deviceToken},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	initiated := decode[service.InitiateResult](t, rec)
	require.Empty(t, initiated.PIN)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/session/status", remote: hostAddr})
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[struct {
		Sessions []model.Session `json:"sessions"`
	}](t, rec)

	var pin string
	for _, session := range status.Sessions {
		if session.ID == initiated.SessionID {
			pin = session.PIN
		}
	}
	require.NotEmpty(t, pin)

	rec = s.do(t, call{
		method: http.MethodPost,
		path:   "/api/session/verify",
		remote: clientAddr,
		body:   jsonBody(t, map[string]string{"pin": pin, "session_id": initiated.SessionID}),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return initiated
}

func TestRouter_Pairing(t *testing.T) {
	s := newTestServer(t)

	t.Run("host init returns pin", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/session/init?device_name=Desk", remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decode[service.InitiateResult](t, rec).PIN)
	})

	t.Run("clients cannot read session status", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/session/status", remote: clientAddr})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("handshake authenticates", func(t *testing.T) {
		session := s.pair(t, iPhoneUA, "token-handshake")

		rec := s.do(t, call{
			method:  http.MethodGet,
			path:    "/session/me",
			remote:  clientAddr,
			headers: map[string]string{middleware.SessionIDHeader: session.SessionID},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		me := decode[model.Session](t, rec)
		assert.Equal(t, model.SessionStatusAuthenticated, me.Status)
		assert.Empty(t, me.PIN)
	})

	t.Run("wrong pin", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/session/init", remote: clientAddr})
		initiated := decode[service.InitiateResult](t, rec)

		rec = s.do(t, call{
			method: http.MethodPost,
			path:   "/session/verify",
			remote: "192.168.1.41:50000",
			body:   jsonBody(t, map[string]string{"pin": "0000", "session_id": initiated.SessionID}),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_PIN")
	})

	t.Run("clients cannot choose their device name", func(t *testing.T) {
		rec := s.do(t, call{
			method:  http.MethodGet,
			path:    "/session/init?device_name=Desk",
			remote:  clientAddr,
			headers: map[string]string{"User-Agent": androidUA},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Android Device", decode[service.InitiateResult](t, rec).DeviceName)
	})

	t.Run("pairing target", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/session/pairing-target", remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://192.168.1.20:8000/?id=session&start=1", decode[map[string]string](t, rec)["url"])

		rec = s.do(t, call{method: http.MethodGet, path: "/session/qr", remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	})
}

func TestRouter_VerifyRateLimit(t *testing.T) {
	s := newTestServer(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := s.do(t, call{
			method: http.MethodPost,
			path:   "/session/verify",
			remote: "192.168.1.99:50000",
			body:   jsonBody(t, map[string]string{"pin": "1234"}),
		})
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRouter_Files(t *testing.T) {
	s := newTestServer(t)
	session := s.pair(t, iPhoneUA, "token-a")
	asClient := map[string]string{middleware.SessionIDHeader: session.SessionID}

	upload := func(remote, name, content string) *httptest.ResponseRecorder {
		return s.do(t, call{
			method: http.MethodPost,
			path:   "/api/files/upload",
			remote: remote,
			body:   bytes.NewBufferString(content),
			headers: map[string]string{
				middleware.SessionIDHeader: session.SessionID,
				filenameHeader:             url.QueryEscape(name),
				filesizeHeader:             strconv.Itoa(len(content)),
			},
		})
	}

	t.Run("client upload is received", func(t *testing.T) {
		rec := upload(clientAddr, "holiday photo.txt", "hello host")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "holiday photo.txt", decode[map[string]any](t, rec)["filename"])
	})

	t.Run("host upload is sent to the session", func(t *testing.T) {
		rec := upload(hostAddr, "for-phone.txt", "hello phone")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("client lists both directions", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/files/", remote: clientAddr, headers: asClient})
		require.Equal(t, http.StatusOK, rec.Code)

		byName := map[string]model.Direction{}
		for _, f := range decode[[]model.StoredFile](t, rec) {
			byName[f.Name] = f.Direction
		}
		assert.Equal(t, map[string]model.Direction{
			"holiday photo.txt": model.DirectionReceived,
			"for-phone.txt":     model.DirectionSent,
		}, byName)
	})

	t.Run("download round trip", func(t *testing.T) {
		rec := s.do(t, call{
			method: http.MethodGet,
			path:   "/files/download/for-phone.txt?session_id=" + session.SessionID,
			remote: clientAddr,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello phone", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "for-phone.txt")
	})

	t.Run("download missing file", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/files/download/nope.txt", remote: clientAddr, headers: asClient})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("upload requires a session", func(t *testing.T) {
		rec := s.do(t, call{
			method:  http.MethodPost,
			path:    "/files/upload",
			remote:  clientAddr,
			body:    bytes.NewBufferString("x"),
			headers: map[string]string{filenameHeader: "x.txt"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("traversal is rejected", func(t *testing.T) {
		rec := upload(clientAddr, "../escape.txt", "x")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "PATH_TRAVERSAL")
	})

	t.Run("size mismatch is reported generically", func(t *testing.T) {
		rec := s.do(t, call{
			method: http.MethodPost,
			path:   "/files/upload",
			remote: clientAddr,
			body:   bytes.NewBufferString("short"),
			headers: map[string]string{
				middleware.SessionIDHeader: session.SessionID,
				filenameHeader:             "short.txt",
				filesizeHeader:             "100",
			},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Transfer failed", decode[map[string]any](t, rec)["error"])
	})

	t.Run("analytics history", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/files/analytics/history", remote: clientAddr, headers: asClient})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode[struct {
			History []model.AnalyticsEntry `json:"history"`
			Stats   model.AnalyticsStats   `json:"stats"`
		}](t, rec)
		// two uploads, one download, one failed upload
		assert.Len(t, body.History, 4)
		assert.Equal(t, int64(len("hello host")), body.Stats.TotalReceived)
	})

	t.Run("batch delete skips missing", func(t *testing.T) {
		rec := s.do(t, call{
			method:  http.MethodPost,
			path:    "/files/batch-delete",
			remote:  clientAddr,
			headers: asClient,
			body:    jsonBody(t, map[string][]string{"filenames": {"holiday photo.txt", "missing.txt"}}),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode[map[string]any](t, rec)["deleted"])
	})

	t.Run("host only maintenance", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/files/cleanup", remote: clientAddr, headers: asClient})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = s.do(t, call{
			method: http.MethodPost,
			path:   "/files/config",
			remote: hostAddr,
			body:   jsonBody(t, map[string]bool{"overwrite_duplicates": true}),
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, s.store.OverwriteDuplicates())
	})
}

func TestRouter_HostChannel(t *testing.T) {
	s := newTestServer(t)
	session := s.pair(t, androidUA, "token-pixel")
	asClient := map[string]string{middleware.SessionIDHeader: session.SessionID}

	t.Run("clipboard round trip", func(t *testing.T) {
		rec := s.do(t, call{
			method:  http.MethodPost,
			path:    "/host/clipboard",
			remote:  clientAddr,
			headers: asClient,
			body:    jsonBody(t, map[string]string{"content": "shared text"}),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(t, call{method: http.MethodGet, path: "/host/clipboard", remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code)
		record := decode[model.ClipboardRecord](t, rec)
		assert.Equal(t, "shared text", record.Content)
		assert.Equal(t, "Android Device", record.DeviceSource)
	})

	t.Run("clipboard requires a session", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/host/clipboard", remote: clientAddr})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("commands", func(t *testing.T) {
		rec := s.do(t, call{
			method:  http.MethodPost,
			path:    "/host/command",
			remote:  clientAddr,
			headers: asClient,
			body:    jsonBody(t, map[string]string{"command": "lock"}),
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(t, call{
			method:  http.MethodPost,
			path:    "/host/command",
			remote:  clientAddr,
			headers: asClient,
			body:    jsonBody(t, map[string]string{"command": "format"}),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNKNOWN_COMMAND")
	})

	t.Run("blocked session loses access", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/session/block/" + session.SessionID, remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = s.do(t, call{method: http.MethodGet, path: "/host/clipboard", remote: clientAddr, headers: asClient})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("info and health", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodGet, path: "/api/host/info", remote: clientAddr})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "online", decode[hostexec.Info](t, rec).Status)

		rec = s.do(t, call{method: http.MethodGet, path: "/health", remote: clientAddr})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouter_DeviceIsolation(t *testing.T) {
	s := newTestServer(t)
	a := s.pair(t, iPhoneUA, "token-a")
	b := s.pair(t, iPhoneUA, "token-b")
	require.NotEqual(t, a.DeviceName, b.DeviceName)
	assert.Equal(t, "iPhone (2)", b.DeviceName)

	rec := s.do(t, call{
		method: http.MethodPost,
		path:   "/files/upload",
		remote: clientAddr,
		body:   bytes.NewBufferString("secret-a"),
		headers: map[string]string{
			middleware.SessionIDHeader: a.SessionID,
			filenameHeader:             "private.jpg",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	asB := map[string]string{middleware.SessionIDHeader: b.SessionID}

	rec = s.do(t, call{method: http.MethodGet, path: "/files/", remote: clientAddr, headers: asB})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]model.StoredFile](t, rec))

	rec = s.do(t, call{method: http.MethodGet, path: "/files/download/private.jpg", remote: clientAddr, headers: asB})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{
		method:  http.MethodPost,
		path:    "/files/batch-delete",
		remote:  clientAddr,
		headers: asB,
		body:    jsonBody(t, map[string][]string{"filenames": {"private.jpg"}}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["deleted"])

	t.Run("same device re-pairs into its own namespace", func(t *testing.T) {
		rec := s.do(t, call{method: http.MethodPost, path: "/session/disconnect/" + a.SessionID, remote: hostAddr})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		again := s.pair(t, iPhoneUA, "token-a")
		assert.Equal(t, a.DeviceName, again.DeviceName)

		rec = s.do(t, call{
			method:  http.MethodGet,
			path:    "/files/download/private.jpg",
			remote:  clientAddr,
			headers: map[string]string{middleware.SessionIDHeader: again.SessionID},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "secret-a", rec.Body.String())
	})
}
