package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Dan9191/gopay/internal/apperrors"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes {"error": {...}} with the status of err
func respondError(w http.ResponseWriter, err error) {
	appErr := apperrors.As(err)
	respondJSON(w, appErr.Status(), map[string]any{"error": appErr})
}

// decodeJSON reads the request body into v
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return apperrors.NewPayloadTooLarge(tooLarge.Limit, r.ContentLength)
	case errors.Is(err, io.EOF):
		return apperrors.NewBadRequest("request body is empty")
	default:
		return apperrors.NewBadRequest("request body is not valid JSON")
	}
}
