package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/turbotransfer/host/internal/hostexec"
	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/service"
)

type HostInfoProvider interface {
	Info(ctx context.Context) hostexec.Info
}

type HostHandler struct {
	info      HostInfoProvider
	clipboard *service.ClipboardService
	commands  *service.CommandService
}

func NewHostHandler(info HostInfoProvider, clipboard *service.ClipboardService, commands *service.CommandService) *HostHandler {
	return &HostHandler{
		info:      info,
		clipboard: clipboard,
		commands:  commands,
	}
}

// GET /host/info
func (h *HostHandler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info.Info(r.Context()))
}

// GET /host/clipboard
func (h *HostHandler) GetClipboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.clipboard.Get())
}

// POST /host/clipboard
func (h *HostHandler) SetClipboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	record, err := h.clipboard.Set(r.Context(), req.Content, clipboardSource(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"clipboard": record})
}

// POST /host/command
func (h *HostHandler) Command(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var err error
	if session := middleware.GetSession(r.Context()); session != nil {
		err = h.commands.Send(r.Context(), session.ID, req.Command)
	} else {
		err = h.commands.SendAsHost(r.Context(), req.Command)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"command": req.Command})
}

func clipboardSource(r *http.Request) string {
	if name := strings.TrimSpace(r.Header.Get(deviceNameHeader)); name != "" {
		return name
	}
	if session := middleware.GetSession(r.Context()); session != nil {
		return session.DeviceName
	}
	if middleware.IsHost(r.Context()) {
		return "Host"
	}
	return ""
}
