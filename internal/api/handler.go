package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rajasatyajit/EstateHub/config"
	"github.com/rajasatyajit/EstateHub/internal/billing"
	apperrors "github.com/rajasatyajit/EstateHub/internal/errors"
	"github.com/rajasatyajit/EstateHub/internal/ledger"
	"github.com/rajasatyajit/EstateHub/internal/logger"
	middlewares "github.com/rajasatyajit/EstateHub/internal/middleware"
	"github.com/rajasatyajit/EstateHub/internal/ratelimit"
	"github.com/rajasatyajit/EstateHub/internal/store"
	"github.com/rajasatyajit/EstateHub/internal/upgrade"
)

// HealthChecker reports whether a dependency can serve traffic
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// Deps are the collaborators the HTTP boundary serves
type Deps struct {
	Processor *upgrade.Processor
	Providers billing.Registry
	Ledger    ledger.Ledger
	Users     store.UserStore
	Drafts    store.DraftStore
	// Limiter may be nil, which disables checkout rate limiting.
	Limiter *ratelimit.Manager
	Checks  map[string]HealthChecker
}

// Handler handles HTTP requests for the API
type Handler struct {
	deps      Deps
	checkout  config.CheckoutConfig
	admin     config.AdminConfig
	origins   []string
	version   string
	buildTime string
	gitCommit string
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, cfg *config.Config, version, buildTime, gitCommit string) *Handler {
	return &Handler{
		deps:      deps,
		checkout:  cfg.Checkout,
		admin:     cfg.Admin,
		origins:   cfg.Server.AllowedOrigins,
		version:   version,
		buildTime: buildTime,
		gitCommit: gitCommit,
		startTime: time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/v1", func(r chi.Router) {
		// Health check endpoints
		r.Get("/health", h.healthHandler)
		r.Get("/health/ready", h.readinessHandler)
		r.Get("/health/live", h.livenessHandler)

		// Gateway callbacks; every channel ends in the same processor
		r.Route("/payments/{gateway}", func(r chi.Router) {
			r.Get("/return", h.returnHandler)
			r.Get("/ipn", h.callbackHandler(billing.ChannelIPN))
			r.Post("/ipn", h.callbackHandler(billing.ChannelIPN))
			r.Post("/notify", h.callbackHandler(billing.ChannelNotify))

			r.Group(func(r chi.Router) {
				r.Use(middlewares.CORS(h.origins))
				r.Post("/checkout", h.checkoutHandler)
				r.Options("/checkout", func(w http.ResponseWriter, r *http.Request) {})
			})
		})

		// System info
		r.Get("/version", h.versionHandler)
	})

	// Admin routes for manual review of the ledger
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middlewares.RateLimit(h.admin.RequestsPerSec, h.admin.Burst))
		r.Use(middlewares.AdminSecret(h.admin.SecretHash))
		r.Get("/ledger", h.listLedgerHandler)
		r.Get("/ledger/{ref}", h.getLedgerHandler)
	})

	// Root health check
	r.Get("/health", h.healthHandler)
}

// healthHandler provides basic health check
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// readinessHandler checks if the application is ready to serve traffic
func (h *Handler) readinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := map[string]string{}
	statusCode := http.StatusOK

	for name, c := range h.deps.Checks {
		if err := c.Health(ctx); err != nil {
			checks[name] = "error: " + err.Error()
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	status := "ready"
	if statusCode != http.StatusOK {
		status = "not_ready"
	}
	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}

	h.writeJSONResponse(w, statusCode, response)
}

// livenessHandler checks if the application is alive
func (h *Handler) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// versionHandler returns version information
func (h *Handler) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// provider resolves the {gateway} route parameter
func (h *Handler) provider(r *http.Request) (billing.Provider, bool) {
	return h.deps.Providers.Get(chi.URLParam(r, "gateway"))
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeErrorResponse writes a standardized error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
	}

	h.writeJSONResponse(w, statusCode, response)
}

// writeError maps an application error to a status code
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr apperrors.ValidationError
	var gwErr apperrors.GatewayError
	switch {
	case errors.As(err, &vErr):
		h.writeErrorResponse(w, r, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, apperrors.ErrUserNotFound), errors.Is(err, apperrors.ErrNotFound):
		h.writeErrorResponse(w, r, http.StatusNotFound, err.Error())
	case apperrors.IsRetryable(err):
		logger.WithContext(r.Context()).Warn("Dependency unavailable", "error", err)
		w.Header().Set("Retry-After", "30")
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.As(err, &gwErr):
		logger.WithContext(r.Context()).Error("Gateway request failed", "error", err)
		h.writeErrorResponse(w, r, http.StatusBadGateway, "Payment gateway error")
	default:
		logger.WithContext(r.Context()).Error("Request failed", "error", err)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
