package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/service"
)

const (
	deviceNameHeader  = "X-Device-Name"
	deviceTokenHeader = "X-Device-Token"
)

type SessionHandler struct {
	pairing  *service.PairingService
	registry *service.SessionRegistry
}

func NewSessionHandler(pairing *service.PairingService, registry *service.SessionRegistry) *SessionHandler {
	return &SessionHandler{
		pairing:  pairing,
		registry: registry,
	}
}

// GET /session/init
// Only the host may name the device; clients are labelled from their
// user agent.
func (h *SessionHandler) Init(w http.ResponseWriter, r *http.Request) {
	isHost := middleware.IsHost(r.Context())

	var deviceName string
	if isHost {
		deviceName = r.URL.Query().Get("device_name")
		if deviceName == "" {
			deviceName = r.Header.Get(deviceNameHeader)
		}
	}

	result, err := h.pairing.Initiate(r.Context(), service.InitiateParams{
		DeviceName:  deviceName,
		UserAgent:   r.UserAgent(),
		DeviceToken: r.Header.Get(deviceTokenHeader),
		IsHost:      isHost,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /session/status
// Host only; pending sessions carry their PIN so the host can display it.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.registry.List()})
}

// GET /session/me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.SessionIDFromRequest(r)
	if id == "" {
		writeError(w, missingSession())
		return
	}

	session, err := h.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session.WithoutPIN())
}

// POST /session/verify
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN       string `json:"pin"`
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = r.Header.Get(middleware.SessionIDHeader)
	}

	session, err := h.pairing.Verify(r.Context(), sessionID, req.PIN)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  model.SessionStatusAuthenticated,
		"session": session.WithoutPIN(),
	})
}

// POST /session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.ResetAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"message": "All sessions cleared"})
}

// POST /session/block/{id}
func (h *SessionHandler) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Block(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"message": "Session blocked"})
}

// POST /session/disconnect/{id}
func (h *SessionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"message": "Session disconnected"})
}

// GET /session/blocked
func (h *SessionHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.registry.ListBlocked(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocked})
}

// DELETE /session/blocked/{fingerprint}
func (h *SessionHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Unblock(r.Context(), chi.URLParam(r, "fingerprint")); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"message": "Device unblocked"})
}

// GET /session/qr
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	png, err := h.pairing.PairingQR(size)
	if err != nil {
		log.Error().Err(err).Msg("failed to render pairing qr")
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// GET /session/pairing-target
func (h *SessionHandler) PairingTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.pairing.PairingTarget()
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve pairing target")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": target})
}
