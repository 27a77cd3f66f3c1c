// Package rest exposes the operation catalog over a REST API.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/stagepipe/stagepipe/pkg/health"
	"github.com/stagepipe/stagepipe/pkg/operation"
)

// Info identifies the running server in the info endpoint.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Transport string `json:"transport"`
}

// Options configures optional handler collaborators.
type Options struct {
	// Checker serves /healthz and /readyz when set.
	Checker *health.Checker

	// AuthMiddleware wraps the /api/v1 routes when set. Health and
	// swagger endpoints stay open for probes and docs.
	AuthMiddleware func(http.Handler) http.Handler

	Info   Info
	Logger *slog.Logger
}

// Handler provides the REST API endpoints.
type Handler struct {
	mux  *http.ServeMux
	svc  *operation.Service
	opts Options
	log  *slog.Logger
}

// NewHandler creates a new REST API handler.
func NewHandler(svc *operation.Service, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		mux:  http.NewServeMux(),
		svc:  svc,
		opts: opts,
		log:  log,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// registerRoutes registers all API routes.
func (h *Handler) registerRoutes() {
	if h.opts.Checker != nil {
		h.mux.HandleFunc("GET /healthz", h.opts.Checker.LivenessHandler())
		h.mux.HandleFunc("GET /readyz", h.opts.Checker.ReadinessHandler())
	}
	h.mux.Handle("GET /swagger/", httpSwagger.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/info", h.getInfo)
	api.HandleFunc("GET /api/v1/operations", h.listOperations)
	api.HandleFunc("GET /api/v1/operations/{name}", h.invokeFromQuery)
	api.HandleFunc("POST /api/v1/operations/{name}", h.invokeFromBody)

	var apiHandler http.Handler = api
	if h.opts.AuthMiddleware != nil {
		apiHandler = h.opts.AuthMiddleware(api)
	}
	h.mux.Handle("/api/v1/", apiHandler)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
