package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Dan9191/gopay/internal/apperrors"
	"github.com/Dan9191/gopay/internal/auth"
	"github.com/Dan9191/gopay/internal/config"
	"github.com/Dan9191/gopay/internal/middleware"
	"github.com/Dan9191/gopay/internal/web"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDependencies collects what NewRouter wires together
type RouterDependencies struct {
	Handler *Handler
	Tokens  *auth.TokenService
	Shell   *web.Shell
	Health  Pinger
	Config  *config.Config
	Log     *logrus.Logger
}

// NewRouter builds the complete HTTP handler: shell pages, JSON API and middleware
func NewRouter(deps RouterDependencies) http.Handler {
	h := deps.Handler
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, apperrors.NewNotFound("path", r.URL.Path))
	})

	deps.Shell.Register(r)
	r.HandleFunc("/healthz", health(deps.Health)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/tokens", h.Tokens).Methods(http.MethodPost)
	api.HandleFunc("/key-rate", h.KeyRate).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware(deps.Tokens), middleware.RequireAdmin)
	admin.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(deps.Tokens))
	authed.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	authed.HandleFunc("/me/account", h.MyAccount).Methods(http.MethodGet)
	authed.HandleFunc("/me/card", h.MyCard).Methods(http.MethodGet)
	authed.HandleFunc("/me/history", h.MyHistory).Methods(http.MethodGet)
	authed.HandleFunc("/me/initial-data", h.InitialData).Methods(http.MethodGet)
	authed.HandleFunc("/signout", h.Signout).Methods(http.MethodPost)
	authed.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	authed.HandleFunc("/accounts/{id:[0-9]+}/cards", h.CreateCard).Methods(http.MethodPost)
	authed.HandleFunc("/accounts/{id:[0-9]+}/deposit", h.Deposit).Methods(http.MethodPost)
	authed.HandleFunc("/accounts/{id:[0-9]+}/withdraw", h.Withdraw).Methods(http.MethodPost)

	var handler http.Handler = r
	handler = middleware.MaxBody(deps.Config.MaxBodyBytes)(handler)
	handler = middleware.Timeout(deps.Config.HandlerTimeout)(handler)
	handler = chimw.Recoverer(handler)
	handler = middleware.RequestLogger(deps.Log)(handler)
	handler = chimw.RequestID(handler)
	handler = cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
	return handler
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{"status": "ok"}
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}
		respondJSON(w, status, payload)
	}
}
