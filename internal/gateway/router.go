package gateway

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/metrics"
)

// Router assembles the public HTTP surface with the middleware stack.
// ws may be nil when the dev-browser channel is disabled.
func Router(s *Server, ws http.HandlerFunc, cfg config.Config, m *metrics.Metrics, log zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(log, m))
	r.Use(CORSMiddleware)
	if cfg.Features.RateLimitEnabled {
		limiter := NewRateLimiter(cfg.Gateway.RateLimit, cfg.Gateway.RateLimitWindow)
		r.Use(RateLimitMiddleware(limiter))
	}
	if cfg.Features.AuthEnabled && cfg.Gateway.AuthSecret != "" {
		r.Use(AuthMiddleware(cfg.Gateway.AuthSecret))
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if ws != nil {
		r.HandleFunc("/ws", ws).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/properties", s.handleSearchProperties).Methods(http.MethodGet)
	api.HandleFunc("/properties/{id}", s.handlePropertyDetail).Methods(http.MethodGet)
	api.HandleFunc("/underwrite", s.handleUnderwrite).Methods(http.MethodPost)
	api.HandleFunc("/underwrite/grid", s.handleGridRow).Methods(http.MethodGet)
	api.HandleFunc("/searches", s.handleCreateSearch).Methods(http.MethodPost)
	api.HandleFunc("/searches", s.handleListSearches).Methods(http.MethodGet)
	api.HandleFunc("/searches/{id}", s.handleGetSearch).Methods(http.MethodGet)
	api.HandleFunc("/searches/{id}", s.handleUpdateSearch).Methods(http.MethodPut)
	api.HandleFunc("/searches/{id}", s.handleDeleteSearch).Methods(http.MethodDelete)
	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)

	return r
}
