package handler

import (
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/turbotransfer/host/internal/audit"
	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/middleware"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/service"
	"github.com/turbotransfer/host/internal/transfer"
)

const (
	filenameHeader   = "X-Filename"
	filesizeHeader   = "X-Filesize"
	batchArchiveName = "turbo-transfer.zip"
	hostDeviceParam  = "device"
)

type FilesHandler struct {
	store     *transfer.Store
	analytics *service.AnalyticsService
}

func NewFilesHandler(store *transfer.Store, analytics *service.AnalyticsService) *FilesHandler {
	return &FilesHandler{
		store:     store,
		analytics: analytics,
	}
}

// scope resolves whose files the caller may touch. A session sees its own
// sent buffer and received namespace. The host acts on a device by passing
// its session id, or on a device namespace by name.
func scope(r *http.Request) transfer.Scope {
	if session := middleware.GetSession(r.Context()); session != nil {
		return transfer.Scope{SessionID: session.ID, DeviceName: session.DeviceName}
	}
	if middleware.IsHost(r.Context()) {
		device := r.URL.Query().Get(hostDeviceParam)
		if device == "" {
			device = r.Header.Get(deviceNameHeader)
		}
		return transfer.Scope{DeviceName: device}
	}
	return transfer.Scope{}
}

// GET /files/
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	sc := scope(r)

	var files []model.StoredFile
	var err error
	if sc.SessionID == "" && sc.DeviceName == "" && middleware.IsHost(r.Context()) {
		files, err = h.store.ListAllReceived()
	} else {
		files, err = h.store.List(sc)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to list files")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, files)
}

// POST /files/upload
// The raw request body is the file content.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	if session == nil {
		writeError(w, missingSession())
		return
	}

	filename, err := url.QueryUnescape(r.Header.Get(filenameHeader))
	if err != nil {
		writeError(w, apperrors.InvalidInput("filename", "malformed encoding"))
		return
	}
	if filename == "" {
		writeError(w, apperrors.MissingRequired(filenameHeader))
		return
	}

	var size int64
	if raw := r.Header.Get(filesizeHeader); raw != "" {
		size, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			writeError(w, apperrors.InvalidInput("filesize", "must be a non-negative integer"))
			return
		}
	} else if r.ContentLength > 0 {
		size = r.ContentLength
	}

	direction := model.DirectionReceived
	if middleware.IsHost(r.Context()) {
		direction = model.DirectionSent
	}

	file, err := h.store.Upload(r.Context(), transfer.UploadParams{
		Scope:     transfer.Scope{SessionID: session.ID, DeviceName: session.DeviceName},
		Filename:  filename,
		Size:      size,
		Direction: direction,
		Body:      r.Body,
	})
	if err != nil {
		writeTransferError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"filename": file.Name, "file": file})
}

// GET /files/download/{name}
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	started := false
	err = h.store.Download(r.Context(), scope(r), name, w, func(d transfer.DownloadInfo) {
		started = true
		w.Header().Set("Content-Type", d.ContentType)
		w.Header().Set("Content-Disposition", attachment(d.Name))
		if d.Size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
		}
		w.WriteHeader(http.StatusOK)
	})
	if err != nil && !started {
		writeError(w, err)
	}
}

// POST /files/batch-delete
func (h *FilesHandler) BatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filenames []string `json:"filenames"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Filenames) == 0 {
		writeError(w, apperrors.MissingRequired("filenames"))
		return
	}

	deleted, err := h.store.BatchDelete(r.Context(), scope(r), req.Filenames)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]any{"deleted": deleted})
}

// GET /files/batch-download?filenames=a,b
func (h *FilesHandler) BatchDownload(w http.ResponseWriter, r *http.Request) {
	names := splitNames(r.URL.Query()["filenames"])
	if len(names) == 0 {
		writeError(w, apperrors.MissingRequired("filenames"))
		return
	}

	started := false
	err := h.store.BatchDownload(r.Context(), scope(r), names, w, func(count int) {
		started = true
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", attachment(batchArchiveName))
		w.WriteHeader(http.StatusOK)
	})
	if err != nil && !started {
		writeError(w, err)
	}
}

// GET /files/thumbnail/{name}
func (h *FilesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	name, err := nameParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	path, err := h.store.ThumbnailPath(scope(r), name)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

// GET /files/analytics/history
func (h *FilesHandler) AnalyticsHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.analytics.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.analytics.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": history,
		"stats":   stats,
	})
}

// DELETE /files/analytics/history
func (h *FilesHandler) ClearAnalytics(w http.ResponseWriter, r *http.Request) {
	removed, err := h.analytics.Clear(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"removed": removed})
}

// POST /files/cleanup
func (h *FilesHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.store.CleanupAll(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to clean up storage")
		writeError(w, apperrors.Internal("Failed to clean up storage"))
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventCleanupAll})
	writeSuccess(w, map[string]any{"message": "All files removed"})
}

type filesConfig struct {
	SavePath            string `json:"save_path"`
	OverwriteDuplicates bool   `json:"overwrite_duplicates"`
}

// GET /files/config
func (h *FilesHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.currentConfig())
}

// POST /files/config
// Only the duplicate policy is mutable at runtime.
func (h *FilesHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OverwriteDuplicates *bool `json:"overwrite_duplicates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OverwriteDuplicates != nil {
		h.store.SetOverwriteDuplicates(*req.OverwriteDuplicates)
	}

	writeJSON(w, http.StatusOK, h.currentConfig())
}

func (h *FilesHandler) currentConfig() filesConfig {
	return filesConfig{
		SavePath:            h.store.Root(),
		OverwriteDuplicates: h.store.OverwriteDuplicates(),
	}
}

// nameParam decodes the {name} route segment. chi matches against the raw
// path when the request carried escaped characters.
func nameParam(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		return "", apperrors.InvalidInput("filename", "malformed encoding")
	}
	return name, nil
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func splitNames(values []string) []string {
	var names []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
