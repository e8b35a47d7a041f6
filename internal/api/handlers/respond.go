package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/aegis/exitengine/internal/contracts"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, contracts.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, contracts.ErrExecution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
