package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matiasleandrokruk/nerve/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/nerve/internal/api/handlers"
	apmiddleware "github.com/matiasleandrokruk/nerve/internal/api/middleware"
	"github.com/matiasleandrokruk/nerve/internal/domain/orch"
	pkgauth "github.com/matiasleandrokruk/nerve/pkg/auth"
)

// Deps are the collaborators of the router.
type Deps struct {
	Orchestrator orch.Client
	Issuer       *pkgauth.Issuer
	// APIKeyHash is the bcrypt hash POST /auth/token compares against.
	APIKeyHash string
	Logger     *slog.Logger
}

// NewRouter builds the orchestrator API:
//
//	GET  /health                  public
//	POST /auth/token              public, API key for bearer token
//	GET  /v1/whoami               bearer
//	GET  /v1/capabilities         bearer
//	POST /v1/tasks                bearer
//	POST /v1/tasks/{id}/cancel    bearer
//	GET  /v1/tasks/{id}/events    bearer, websocket
func NewRouter(deps Deps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// ===== PUBLIC ROUTES =====

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	tokenHandler := handlers.NewTokenHandler(deps.Issuer, deps.APIKeyHash)
	r.Post("/auth/token", tokenHandler.Issue)

	// ===== PROTECTED ROUTES =====

	orchHandler := handlers.NewOrchestratorHandler(deps.Orchestrator, logger)
	r.Route("/v1", func(r chi.Router) {
		r.Use(apmiddleware.Auth(deps.Issuer))

		r.Get("/whoami", whoami)
		r.Get("/capabilities", orchHandler.Capabilities)
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", orchHandler.Enqueue)
			r.Post("/{id}/cancel", orchHandler.Cancel)
			r.Get("/{id}/events", orchHandler.Events)
		})
	})

	return r
}

func whoami(w http.ResponseWriter, r *http.Request) {
	sub, err := Subject(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	scope, _ := ctxkeys.String(r.Context(), ctxkeys.Scope)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"subject": sub, "scope": scope}) //nolint:errcheck
}
