package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Step lifecycle metrics
	StepSubmissionsTotal *prometheus.CounterVec
	StepReviewsTotal     *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec
	TimerCompletionsTotal prometheus.Counter

	// Assignment metrics
	AssignmentsTotal   *prometheus.CounterVec
	UnassignedInstances prometheus.Gauge

	// Dossier metrics
	DossiersCreatedTotal    *prometheus.CounterVec
	StatusTransitionsTotal  *prometheus.CounterVec
	StatusOverridesTotal    prometheus.Counter

	// Document metrics
	DocumentUploadsTotal  *prometheus.CounterVec
	DocumentUploadBytes   prometheus.Histogram

	// System metrics
	CatalogReloadTotal *prometheus.CounterVec
	CatalogProducts    prometheus.Gauge
	EventPublishTotal  *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossier_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossier_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossier_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Step lifecycle
		StepSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_step_submissions_total",
			Help: "Total number of step submissions, including resubmissions.",
		}, []string{"step_code", "resubmit"}),
		StepReviewsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_step_reviews_total",
			Help: "Total number of step review decisions.",
		}, []string{"step_code", "decision"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dossier_step_duration_seconds",
			Help:    "Time from step-instance start to approval.",
			Buckets: []float64{60, 300, 1800, 3600, 14400, 86400, 259200, 604800},
		}, []string{"step_code"}),
		TimerCompletionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossier_timer_completions_total",
			Help: "Total number of timer steps completed by the scheduler.",
		}),

		// Assignments
		AssignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_assignments_total",
			Help: "Total number of step-instance assignments.",
		}, []string{"step_type", "mode"}),
		UnassignedInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dossier_unassigned_instances",
			Help: "Number of open step instances without an assignee.",
		}),

		// Dossiers
		DossiersCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_created_total",
			Help: "Total number of dossiers created.",
		}, []string{"product_id"}),
		StatusTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_status_transitions_total",
			Help: "Total number of dossier status transitions.",
		}, []string{"old_status", "new_status"}),
		StatusOverridesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dossier_status_overrides_total",
			Help: "Total number of manual status overrides.",
		}),

		// Documents
		DocumentUploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_document_uploads_total",
			Help: "Total number of document version uploads.",
		}, []string{"document_type_id"}),
		DocumentUploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dossier_document_upload_bytes",
			Help:    "Uploaded document size in bytes.",
			Buckets: bodySizeBuckets,
		}),

		// System
		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_catalog_reload_total",
			Help: "Total catalog definition reloads.",
		}, []string{"status"}),
		CatalogProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dossier_catalog_products",
			Help: "Number of products in the loaded catalog.",
		}),
		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dossier_event_publish_total",
			Help: "Total domain event publishes.",
		}, []string{"event_type", "status"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Step lifecycle
		m.StepSubmissionsTotal,
		m.StepReviewsTotal,
		m.StepDuration,
		m.TimerCompletionsTotal,
		// Assignments
		m.AssignmentsTotal,
		m.UnassignedInstances,
		// Dossiers
		m.DossiersCreatedTotal,
		m.StatusTransitionsTotal,
		m.StatusOverridesTotal,
		// Documents
		m.DocumentUploadsTotal,
		m.DocumentUploadBytes,
		// System
		m.CatalogReloadTotal,
		m.CatalogProducts,
		m.EventPublishTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordStepSubmission records a step submission.
func (m *Metrics) RecordStepSubmission(stepCode string, resubmit bool) {
	m.StepSubmissionsTotal.WithLabelValues(stepCode, strconv.FormatBool(resubmit)).Inc()
}

// RecordStepReview records a review decision. On approval the full step
// duration is observed.
func (m *Metrics) RecordStepReview(stepCode, decision string, stepDuration time.Duration) {
	m.StepReviewsTotal.WithLabelValues(stepCode, decision).Inc()
	if stepDuration > 0 {
		m.StepDuration.WithLabelValues(stepCode).Observe(stepDuration.Seconds())
	}
}

// RecordTimerCompletion records a timer step completed by the scheduler.
func (m *Metrics) RecordTimerCompletion() {
	m.TimerCompletionsTotal.Inc()
}

// RecordAssignment records a step-instance assignment. Mode is "auto" for
// balancer assignments and "manual" for admin overrides.
func (m *Metrics) RecordAssignment(stepType, mode string) {
	m.AssignmentsTotal.WithLabelValues(stepType, mode).Inc()
}

// SetUnassignedInstances sets the unassigned-queue gauge.
func (m *Metrics) SetUnassignedInstances(count float64) {
	m.UnassignedInstances.Set(count)
}

// RecordDossierCreated records a dossier creation.
func (m *Metrics) RecordDossierCreated(productID string) {
	m.DossiersCreatedTotal.WithLabelValues(productID).Inc()
}

// RecordStatusTransition records a dossier status transition.
func (m *Metrics) RecordStatusTransition(oldStatus, newStatus string) {
	m.StatusTransitionsTotal.WithLabelValues(oldStatus, newStatus).Inc()
}

// RecordStatusOverride records a manual status override.
func (m *Metrics) RecordStatusOverride() {
	m.StatusOverridesTotal.Inc()
}

// RecordDocumentUpload records a document version upload.
func (m *Metrics) RecordDocumentUpload(docTypeID string, sizeBytes int64) {
	m.DocumentUploadsTotal.WithLabelValues(docTypeID).Inc()
	m.DocumentUploadBytes.Observe(float64(sizeBytes))
}

// RecordCatalogReload records a catalog reload.
func (m *Metrics) RecordCatalogReload(status string) {
	m.CatalogReloadTotal.WithLabelValues(status).Inc()
}

// SetCatalogProducts sets the loaded-product gauge.
func (m *Metrics) SetCatalogProducts(count float64) {
	m.CatalogProducts.Set(count)
}

// RecordEventPublish records a domain event publish attempt.
func (m *Metrics) RecordEventPublish(eventType, status string) {
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
