package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/exitengine/internal/volatility"
)

// ProfileHandler serves tolerance profiles
type ProfileHandler struct {
	profiles *volatility.Builder
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles *volatility.Builder) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// Get returns the profile for a symbol, building it on demand
// GET /api/profiles/{symbol}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	respondJSON(w, http.StatusOK, h.profiles.Profile(r.Context(), symbol))
}

// List returns every cached profile
// GET /api/profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles := h.profiles.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": profiles,
		"count":    len(profiles),
	})
}
