package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/supportdesk/backend/internal/apperr"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// RespondJSON writes payload as JSON with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

// RespondError writes a plain error message.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondAppError maps an error kind onto an HTTP status. Conflicting state
// asks the caller to refresh; a missing operator asks the client to wait.
func RespondAppError(w http.ResponseWriter, err error) {
	status, kind, hint := Classify(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		RespondJSON(w, status, ErrorBody{Error: "internal error"})
		return
	}
	RespondJSON(w, status, ErrorBody{Error: err.Error(), Kind: kind, Hint: hint})
}

// Classify returns the HTTP status, kind name and user hint for err.
func Classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", ""
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden", ""
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found", ""
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "please refresh"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict", "please refresh"
	case errors.Is(err, apperr.ErrNoEligibleStaff):
		return http.StatusServiceUnavailable, "no_eligible_staff", "please wait"
	}
	return http.StatusInternalServerError, "", ""
}
