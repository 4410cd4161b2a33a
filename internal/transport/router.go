package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/config"
	"github.com/ouvrio/dossier/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Handler      *Handler
	Authenticate func(http.Handler) http.Handler
	Metrics      *observability.Metrics
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := deps.Handler
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout.Std()))
		r.Use(RequestLogging(deps.Logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Route("/api", func(r chi.Router) {
			r.Post("/dossiers", h.HandleCreateDossier)
			r.Get("/dossiers/{dossierID}", h.HandleGetDossier)
			r.Get("/dossiers/{dossierID}/history", h.HandleStatusHistory)
			r.Post("/dossiers/{dossierID}/status", h.HandleOverrideStatus)
			r.Post("/dossiers/{dossierID}/steps/{stepCode}/submit", h.HandleSubmitStep)
			r.Post("/dossiers/{dossierID}/documents", h.HandleUploadDocument)

			r.Get("/step-instances/unassigned", h.HandleUnassignedQueue)
			r.Post("/step-instances/{instanceID}/resubmit", h.HandleResubmitStep)
			r.Post("/step-instances/{instanceID}/review", h.HandleReviewStep)
			r.Put("/step-instances/{instanceID}/assignee", h.HandleSetAssignee)

			r.Delete("/documents/{documentID}/current", h.HandleClearDocumentCurrent)
			r.Get("/documents/{documentID}/versions", h.HandleDocumentVersions)
		})
	})

	return r
}
