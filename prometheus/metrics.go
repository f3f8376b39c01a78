package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	// Provisioning run counter by outcome
	ProvisioningRunCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_runs_total",
			Help: "Total number of provisioning runs by outcome",
		},
		[]string{"outcome"}, // outcome can be "success", "failed", "rejected", "in_progress"
	)

	// Provisioning step counter
	ProvisioningStepCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_steps_total",
			Help: "Total number of provisioning steps executed",
		},
		[]string{"step", "result"}, // result can be "ok", "skipped", "failed"
	)

	// Environment sync counter
	EnvSyncCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_env_syncs_total",
			Help: "Total number of environment synchronizations",
		},
		[]string{"outcome"},
	)

	// Webhook event counter by provider and status
	WebhookEventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_webhook_events_total",
			Help: "Total number of payment webhook events received",
		},
		[]string{"provider", "status"},
	)

	// Duplicate webhook deliveries detected and skipped
	WebhookDuplicateCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provisioner_webhook_duplicates_total",
			Help: "Total number of duplicate webhook deliveries skipped",
		},
	)

	// Tenant resolution counter
	TenantLookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_tenant_lookups_total",
			Help: "Total number of tenant resolutions by result",
		},
		[]string{"result"}, // result can be "hit", "cache_hit", "not_found", "not_ready"
	)

	// HTTP request counter by endpoint and status
	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Error counters
	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_auth_errors_total",
			Help: "Total number of authentication errors",
		},
		[]string{"type"},
	)

	ProviderErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioner_provider_errors_total",
			Help: "Total number of hosting provider API errors",
		},
		[]string{"provider", "operation"},
	)
)

// Histogram metrics
var (
	// Request duration
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioner_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Provisioning step duration
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioner_step_duration_seconds",
			Help:    "Duration of provisioning steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioner_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // operation can be "query", "insert", "update", "delete"
	)
)

// Gauge metrics
var (
	// Active clients
	ActiveClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "provisioner_active_clients",
			Help: "Number of clients currently in active status",
		},
	)

	// System info
	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provisioner_info",
			Help: "Information about the provisioner service",
		},
		[]string{"version"},
	)
)

func init() {
	// Register counters
	prometheus.MustRegister(ProvisioningRunCounter)
	prometheus.MustRegister(ProvisioningStepCounter)
	prometheus.MustRegister(EnvSyncCounter)
	prometheus.MustRegister(WebhookEventCounter)
	prometheus.MustRegister(WebhookDuplicateCounter)
	prometheus.MustRegister(TenantLookupCounter)
	prometheus.MustRegister(HTTPRequestCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(ProviderErrorCounter)

	// Register histograms
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(DBOperationDuration)

	// Register gauges
	prometheus.MustRegister(ActiveClientsGauge)
	prometheus.MustRegister(InfoGauge)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// RecordProvisioningRun increments the provisioning run counter
func RecordProvisioningRun(outcome string) {
	ProvisioningRunCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordProvisioningStep increments the provisioning step counter
func RecordProvisioningStep(step, result string) {
	ProvisioningStepCounter.With(prometheus.Labels{"step": step, "result": result}).Inc()
}

// RecordEnvSync increments the environment sync counter
func RecordEnvSync(outcome string) {
	EnvSyncCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordWebhookEvent increments the webhook event counter
func RecordWebhookEvent(provider, status string) {
	WebhookEventCounter.With(prometheus.Labels{"provider": provider, "status": status}).Inc()
}

// RecordWebhookDuplicate increments the duplicate delivery counter
func RecordWebhookDuplicate() {
	WebhookDuplicateCounter.Inc()
}

// RecordTenantLookup increments the tenant resolution counter
func RecordTenantLookup(result string) {
	TenantLookupCounter.With(prometheus.Labels{"result": result}).Inc()
}

// RecordAuthError increments the authentication error counter
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordProviderError increments the provider API error counter
func RecordProviderError(provider, operation string) {
	ProviderErrorCounter.With(prometheus.Labels{"provider": provider, "operation": operation}).Inc()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// TrackStep measures provisioning step durations
func TrackStep(step string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		StepDuration.With(prometheus.Labels{
			"step": step,
		}).Observe(duration)
	}
}

// MetricsMiddleware returns an Echo middleware that records request metrics
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			endpoint := c.Path()
			method := c.Request().Method
			statusStr := strconv.Itoa(status)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   statusStr,
			}).Inc()

			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   statusStr,
			}).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
