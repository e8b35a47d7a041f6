package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/exitengine/internal/contracts"
	"github.com/wonny/aegis/exitengine/internal/execution"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// PositionHandler handles position endpoints
// ⭐ SSOT: 포지션 API 핸들러는 이 구조체에서만
type PositionHandler struct {
	monitor *execution.PositionMonitor
	logger  *logger.Logger
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(monitor *execution.PositionMonitor, log *logger.Logger) *PositionHandler {
	return &PositionHandler{
		monitor: monitor,
		logger:  log,
	}
}

// openPositionRequest POST /api/positions
type openPositionRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	EntryPrice  float64 `json:"entry_price"`
	Quantity    float64 `json:"quantity"`
	Leverage    float64 `json:"leverage"`
	StrategyTag string  `json:"strategy_tag"`
}

// List returns live positions, or recently closed ones with ?status=closed
// GET /api/positions
func (h *PositionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store := h.monitor.Store()

	var (
		positions []*contracts.Position
		err       error
	)
	switch strings.ToLower(r.URL.Query().Get("status")) {
	case "", "open":
		positions, err = store.Live(ctx)
	case "closed":
		limit := 50
		if v, convErr := strconv.Atoi(r.URL.Query().Get("limit")); convErr == nil && v > 0 {
			limit = v
		}
		positions, err = store.Closed(ctx, limit)
	default:
		respondError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to list positions")
		respondError(w, statusFor(err), "Failed to list positions")
		return
	}
	if positions == nil {
		positions = []*contracts.Position{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// Get returns one position
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := h.monitor.Store().Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Open registers a filled entry for monitoring
// POST /api/positions
func (h *PositionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	side, err := contracts.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}

	p, err := h.monitor.OpenPosition(r.Context(), contracts.OpenRequest{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Side:        side,
		EntryPrice:  req.EntryPrice,
		Quantity:    req.Quantity,
		Leverage:    req.Leverage,
		StrategyTag: req.StrategyTag,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to open position")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

// Close closes a position manually; repeated calls return the same result
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := h.monitor.ClosePosition(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("position_id", id).Warn("Manual close failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, p)
}
