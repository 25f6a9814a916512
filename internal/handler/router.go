package handler

import (
	"net/http"
	"strings"

	"github.com/Dan9191/atm-service/internal/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route with its middleware chain
func (h *Handler) NewRouter() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.log))

	// Ops routes
	r.HandleFunc("/-/live", func(w http.ResponseWriter, r *http.Request) {
		middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/-/ready", h.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Public routes
	r.HandleFunc("/auth/pin", h.Login).Methods(http.MethodPost)

	// Operator routes
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminAuth([]byte(h.cfg.JWTSecret)))
	admin.HandleFunc("/cards/{cardID:[0-9]+}/block", h.BlockCard).Methods(http.MethodPost)
	admin.HandleFunc("/cards/{cardID:[0-9]+}/unblock", h.UnblockCard).Methods(http.MethodPost)
	admin.HandleFunc("/audit", h.Audit).Methods(http.MethodGet)

	// Session routes
	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.SessionAuth(h.svc))
	authed.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)
	authed.HandleFunc("/account/balance", h.Balance).Methods(http.MethodGet)
	authed.HandleFunc("/account/deposit", h.Deposit).Methods(http.MethodPost)
	authed.HandleFunc("/account/withdraw", h.Withdraw).Methods(http.MethodPost)
	authed.HandleFunc("/account/statement", h.Statement).Methods(http.MethodGet)
	authed.HandleFunc("/transactions", h.Transactions).Methods(http.MethodGet)

	return cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(h.cfg.CORSOrigin),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})(r)
}

// Ready reports whether the store answers
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.log.WithError(err).Warn("Readiness check failed")
		middleware.RespondWithError(w, http.StatusServiceUnavailable, "Not ready")
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
