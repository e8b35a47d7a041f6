package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// OutcomeReader reads persisted trade outcomes (execution.Repository)
type OutcomeReader interface {
	Recent(ctx context.Context, symbol string, limit int) ([]contracts.TradeOutcome, error)
}

// OutcomeHandler serves recorded trade outcomes
type OutcomeHandler struct {
	reader OutcomeReader
	logger *logger.Logger
}

// NewOutcomeHandler creates a new outcome handler
func NewOutcomeHandler(reader OutcomeReader, log *logger.Logger) *OutcomeHandler {
	return &OutcomeHandler{reader: reader, logger: log}
}

// List returns the latest outcomes
// GET /api/outcomes?symbol=BTCUSDT&limit=50
func (h *OutcomeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))

	outcomes, err := h.reader.Recent(r.Context(), symbol, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read trade outcomes")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve outcomes")
		return
	}
	if outcomes == nil {
		outcomes = []contracts.TradeOutcome{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}
