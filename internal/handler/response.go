package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// writeTransferError hides the cause of stream failures from the caller.
// Input validation errors keep their own message.
func writeTransferError(w http.ResponseWriter, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeTransferFailed, apperrors.ErrCodeSizeMismatch:
		httputil.WriteTransferError(w, err)
	default:
		httputil.WriteError(w, err)
	}
}

func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{"status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return apperrors.ValidationError("Request body too large")
	case errors.Is(err, io.EOF):
		return apperrors.InvalidInput("body", "must not be empty")
	default:
		return apperrors.InvalidInput("body", "must be valid JSON")
	}
}

func missingSession() error {
	return apperrors.MissingRequired("X-Session-ID")
}
