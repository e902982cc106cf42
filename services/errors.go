package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/conecoach/backend/repository"
)

var errValidation = errors.New("validation failed")

// validationError carries the message shown to the client
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Is(target error) bool { return target == errValidation }

func invalid(msg string) error {
	return &validationError{msg: msg}
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// writeError maps domain errors to status codes. Anything else is reported
// with the fallback status and message.
func writeError(w http.ResponseWriter, err error, fallback int, fallbackMsg string) {
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		writeMessage(w, http.StatusBadRequest, verr.msg)
	case errors.Is(err, repository.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Simulation not found")
	default:
		writeMessage(w, fallback, fallbackMsg)
	}
}
