package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the control plane error kinds onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Message: err.Error()}
	status := http.StatusInternalServerError
	var (
		verr   orcherr.ValidationError
		tooBig bodyTooLargeError
	)
	switch {
	case errors.As(err, &tooBig):
		status, body.Error = http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.As(err, &verr):
		status, body.Error, body.Field = http.StatusBadRequest, "validation_failed", verr.Field
	case errors.Is(err, orcherr.ErrValidation):
		status, body.Error = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, orcherr.ErrAuth):
		status, body.Error = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, orcherr.ErrNotFound):
		status, body.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, orcherr.ErrNoEligibleTarget):
		status, body.Error = http.StatusConflict, "no_eligible_target"
	default:
		body.Error = "internal"
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, body)
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

type bodyTooLargeError struct{ limit int64 }

func (e bodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.limit)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return bodyTooLargeError{limit: tooBig.Limit}
		}
		return orcherr.Invalid("body", "%v", fmt.Errorf("invalid json: %w", err))
	}
	return nil
}
