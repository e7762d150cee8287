package server

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/orgball2608/nostr-media-observatory/pkg/errors"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, successEnvelope{Success: true, Data: data})
}

func writeError(log logger.Logger, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
		msg = "not found"
	case errors.IsBadRequest(err), errors.IsInvalidInput(err):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.IsServiceUnavailable(err):
		status = http.StatusServiceUnavailable
		msg = "service unavailable"
	default:
		log.Error("Request failed", "error", err)
	}

	writeJSON(w, status, errorEnvelope{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
