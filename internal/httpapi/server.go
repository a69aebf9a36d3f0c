// Package httpapi exposes the navigator and the admin dashboard over HTTP JSON,
// plus a WebSocket stream of a learner's progress events.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/p-n-ai/pai-academy/internal/admin"
	"github.com/p-n-ai/pai-academy/internal/curriculum"
	"github.com/p-n-ai/pai-academy/internal/navigator"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Config wires a Handler.
type Config struct {
	Catalog   *curriculum.Catalog
	Navigator *navigator.Navigator

	// Dashboard enables the /admin routes when set.
	Dashboard *admin.Dashboard

	// Events enables the learner event stream when set.
	Events *progress.Broadcaster

	// EvaluatorTimeout bounds each exercise submission. Zero means no bound
	// beyond the request context.
	EvaluatorTimeout time.Duration

	// OriginPatterns are passed to the WebSocket upgrader. Empty allows
	// same-origin requests only.
	OriginPatterns []string

	ReadyChecks map[string]ReadyCheck
}

// Handler serves the HTTP API.
type Handler struct {
	catalog     *curriculum.Catalog
	nav         *navigator.Navigator
	dashboard   *admin.Dashboard
	events      *progress.Broadcaster
	evalTimeout time.Duration
	origins     []string
	ready       map[string]ReadyCheck
	mux         *http.ServeMux
}

// New creates a Handler with all routes registered.
func New(cfg Config) (*Handler, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("httpapi: catalog is required")
	}
	if cfg.Navigator == nil {
		return nil, fmt.Errorf("httpapi: navigator is required")
	}
	h := &Handler{
		catalog:     cfg.Catalog,
		nav:         cfg.Navigator,
		dashboard:   cfg.Dashboard,
		events:      cfg.Events,
		evalTimeout: cfg.EvaluatorTimeout,
		origins:     cfg.OriginPatterns,
		ready:       cfg.ReadyChecks,
		mux:         http.NewServeMux(),
	}
	h.routes()
	return h, nil
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /healthz", handleHealthz)
	h.mux.HandleFunc("GET /readyz", h.handleReadyz)

	h.mux.HandleFunc("GET /v1/catalog", h.handleCatalog)
	h.mux.HandleFunc("GET /v1/learners/{learner}/progress", h.handleProgress)
	h.mux.HandleFunc("GET /v1/learners/{learner}/lessons/{lesson}", h.handleView)
	h.mux.HandleFunc("POST /v1/learners/{learner}/lessons/{lesson}/acknowledge", h.handleAcknowledge)
	h.mux.HandleFunc("POST /v1/learners/{learner}/lessons/{lesson}/quiz", h.handleQuiz)
	h.mux.HandleFunc("POST /v1/learners/{learner}/lessons/{lesson}/exercise", h.handleExercise)

	if h.events != nil {
		h.mux.HandleFunc("GET /v1/learners/{learner}/events", h.handleEvents)
	}
	if h.dashboard != nil {
		h.mux.HandleFunc("GET /admin/overview", h.handleAdminOverview)
		h.mux.HandleFunc("GET /admin/learners", h.handleAdminLearners)
		h.mux.HandleFunc("GET /admin/api-health", h.handleAdminAPIHealth)
		h.mux.HandleFunc("GET /admin/export.xlsx", h.handleAdminExport)
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.ready))
	for name := range h.ready {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := h.ready[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
