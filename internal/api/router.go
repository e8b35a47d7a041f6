package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wonny/aegis/exitengine/internal/api/handlers"
	"github.com/wonny/aegis/exitengine/pkg/logger"
)

// RouterDeps API 라우터 의존성 (nil 핸들러는 라우트 미등록)
type RouterDeps struct {
	Monitor   *handlers.MonitorHandler
	Positions *handlers.PositionHandler
	Profiles  *handlers.ProfileHandler
	Outcomes  *handlers.OutcomeHandler
	Metrics   prometheus.Gatherer
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(deps RouterDeps, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	if deps.Monitor != nil {
		r.HandleFunc("/health", deps.Monitor.Health).Methods("GET")
	} else {
		r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	}

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	if deps.Monitor != nil {
		api.HandleFunc("/monitor/status", deps.Monitor.Status).Methods("GET")
	}

	if deps.Positions != nil {
		api.HandleFunc("/positions", deps.Positions.List).Methods("GET")
		api.HandleFunc("/positions", deps.Positions.Open).Methods("POST")
		api.HandleFunc("/positions/{id}", deps.Positions.Get).Methods("GET")
		api.HandleFunc("/positions/{id}/close", deps.Positions.Close).Methods("POST")
	}

	if deps.Profiles != nil {
		api.HandleFunc("/profiles", deps.Profiles.List).Methods("GET")
		api.HandleFunc("/profiles/{symbol}", deps.Profiles.Get).Methods("GET")
	}

	if deps.Outcomes != nil {
		api.HandleFunc("/outcomes", deps.Outcomes.List).Methods("GET")
	}

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "exitengine",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
