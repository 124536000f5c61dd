package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dealdesk.org/internal/auth"
	"dealdesk.org/internal/crm"
	"dealdesk.org/internal/obs"
	"dealdesk.org/internal/perimeter"
	"dealdesk.org/internal/stream"
)

// ReadyProbe reports whether downstream dependencies answer.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Service       *crm.Service
	Codec         *auth.Codec
	Guard         *perimeter.Guard
	Stream        *stream.Stream
	Ready         ReadyProbe
	Version       string
	SecureCookies bool
	CSRFEnabled   bool
	TokenTTL      time.Duration
}

// API is the HTTP layer.
type API struct {
	router        chi.Router
	svc           *crm.Service
	codec         *auth.Codec
	guard         *perimeter.Guard
	stream        *stream.Stream
	readyProbe    ReadyProbe
	version       string
	secureCookies bool
	csrfEnabled   bool
	tokenTTL      time.Duration
}

func New(opts Options) *API {
	a := &API{
		router:        chi.NewRouter(),
		svc:           opts.Service,
		codec:         opts.Codec,
		guard:         opts.Guard,
		stream:        opts.Stream,
		readyProbe:    opts.Ready,
		version:       opts.Version,
		secureCookies: opts.SecureCookies,
		csrfEnabled:   opts.CSRFEnabled,
		tokenTTL:      opts.TokenTTL,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 7 * 24 * time.Hour
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.Use(RequestID, LoggingJSON)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Operational surface, outside the browser perimeter.
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	// The auth surface runs the reduced screen: login has no session to
	// pair a CSRF token with, and logout/me are bodyless session endpoints.
	r.Group(func(r chi.Router) {
		r.Use(a.perimeterAuthSurface)
		r.Post("/v1/auth/login", a.handleLogin)
		r.With(a.withAuth).Post("/v1/auth/logout", a.handleLogout)
		r.With(a.withAuth).Get("/v1/auth/me", a.handleMe)
	})

	// Everything else runs the full perimeter, then authentication.
	r.Group(func(r chi.Router) {
		r.Use(a.perimeterMiddleware)
		r.Use(a.withAuth)

		r.Route("/v1/deals", func(r chi.Router) {
			r.Get("/", a.handleListDeals)
			r.Post("/", a.handleCreateDeal)
			r.Route("/{dealID}", func(r chi.Router) {
				r.Get("/", a.handleGetDeal)
				r.Put("/", a.handleUpdateDeal)
				r.Delete("/", a.handleDeleteDeal)
				r.Get("/tasks", a.handleListTasks)
				r.Post("/tasks", a.handleCreateTask)
			})
		})

		r.Route("/v1/tasks/{taskID}", func(r chi.Router) {
			r.Put("/", a.handleUpdateTask)
			r.Delete("/", a.handleDeleteTask)
			r.Get("/subtasks", a.handleListSubtasks)
			r.Post("/subtasks", a.handleCreateSubtask)
		})

		r.Route("/v1/subtasks/{subtaskID}", func(r chi.Router) {
			r.Put("/", a.handleUpdateSubtask)
			r.Delete("/", a.handleDeleteSubtask)
		})

		r.Route("/v1/teams", func(r chi.Router) {
			r.Get("/", a.handleListTeams)
			r.Post("/", a.requireAdmin(a.handleCreateTeam))
			r.Route("/{teamID}", func(r chi.Router) {
				r.Get("/", a.handleGetTeam)
				r.Put("/", a.requireAdmin(a.handleUpdateTeam))
				r.Delete("/", a.requireAdmin(a.handleDeleteTeam))
			})
		})

		r.Route("/v1/users", func(r chi.Router) {
			r.Get("/", a.requireAdmin(a.handleListUsers))
			r.Post("/", a.requireAdmin(a.handleCreateUser))
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", a.requireAdmin(a.handleGetUser))
				r.Put("/", a.requireAdmin(a.handleUpdateUser))
				r.Delete("/", a.requireAdmin(a.handleDeleteUser))
				r.Post("/reactivate", a.requireAdmin(a.handleReactivateUser))
			})
		})

		r.Get("/v1/analytics/summary", a.requireAdmin(a.handleAnalyticsSummary))
		r.Get("/v1/stream", a.Stream)
	})
}

// Handler returns the root handler with metrics instrumentation applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "dealdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "dealdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
