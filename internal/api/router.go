package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the settlement API under /api/v1 next to /health and /metrics.
func NewRouter(h *Handler, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")

	authed := apiV1.NewRoute().Subrouter()
	authed.Use(h.Authenticated)
	settle := func(f http.HandlerFunc) http.Handler { return h.Limited(limiter, f) }

	authed.Handle("/transfers", settle(h.CreateTransferHandler)).Methods("POST")
	authed.Handle("/requests", settle(h.CreateRequestHandler)).Methods("POST")
	authed.Handle("/requests/{requestId}/respond", settle(h.RespondToRequestHandler)).Methods("POST")
	authed.HandleFunc("/requests", h.ListRequestsHandler).Methods("GET")
	authed.HandleFunc("/balance", h.GetBalanceHandler).Methods("GET")
	authed.HandleFunc("/transactions", h.ListTransactionsHandler).Methods("GET")
	authed.HandleFunc("/ws", h.WebSocketHandler).Methods("GET")

	return r
}

// routeOf returns the matched route template for metric labels.
func routeOf(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return strings.TrimPrefix(tpl, "/api/v1")
		}
	}
	return "unmatched"
}
