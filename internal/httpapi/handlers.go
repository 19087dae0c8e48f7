package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"prodtrack.org/internal/auth"
	"prodtrack.org/internal/notify"
	"prodtrack.org/internal/obs"
	"prodtrack.org/internal/stream"
)

const serviceName = "prodtrack-api"

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Auth     *auth.Service
	Workflow *auth.Workflow
	Accounts *auth.Accounts
	Inbox    notify.InboxStore
	Events   *stream.Broker
	Ready    readinessChecker
	Version  string

	RateBurst   int
	RatePerSec  int
	CORSOrigins []string
}

// API — HTTP слой.
type API struct {
	router     chi.Router
	auth       *auth.Service
	workflow   *auth.Workflow
	accounts   *auth.Accounts
	inbox      notify.InboxStore
	events     *stream.Broker
	readyProbe readinessChecker
	version    string
	rateBurst  int
	ratePerSec int
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.Workflow == nil || d.Accounts == nil {
		return nil, errors.New("httpapi: auth, workflow and accounts are required")
	}
	a := &API{
		auth:       d.Auth,
		workflow:   d.Workflow,
		accounts:   d.Accounts,
		inbox:      d.Inbox,
		events:     d.Events,
		readyProbe: d.Ready,
		version:    d.Version,
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	a.router = a.routes(d.CORSOrigins)
	return a, nil
}

func (a *API) routes(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(origins), obs.Instrument)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, r)
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.rateLimit)
			r.Post("/auth/token", a.handleAuthToken)
			r.Post("/users", a.handleRegister)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Get("/auth/me", a.handleMe)
			r.Put("/auth/password", a.handleChangePassword)

			r.Get("/users/{id}", a.handleGetUser)
			r.Post("/users/{id}/approve", a.handleApprove)
			r.Post("/users/{id}/reject", a.handleReject)

			r.Get("/notifications", a.handleListNotifications)
			r.Post("/notifications/{id}/read", a.handleMarkNotificationRead)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(auth.RoleAdmin))
				r.Get("/users", a.handleListUsers)
				r.Patch("/users/{id}", a.handleUpdateUser)
				r.Delete("/users/{id}", a.handleDeleteUser)
			})

			r.With(RequireRole(auth.RoleAdmin, auth.RoleSupervisor)).Get("/events", a.handleEvents)
		})
	})
	return r
}

func (a *API) rateLimit(next http.Handler) http.Handler {
	return RateLimit(next, a.rateBurst, a.ratePerSec)
}

// Handler returns the root handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	build := obs.Build()
	version := a.version
	if version == "" {
		version = build.Version
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       time.Now().UTC().Format(time.RFC3339),
		"version":    version,
		"commit":     build.Commit,
		"go_version": build.GoVersion,
	})
}
