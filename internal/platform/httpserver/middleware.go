// Package httpserver bootstraps a gin.Engine the way the teacher's
// components.Container did — global middleware, Prometheus instrumentation,
// graceful shutdown — generalized so both services share one bootstrap path.
package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ledger-platform/internal/platform/apierr"
	"ledger-platform/internal/platform/auth"
	"ledger-platform/internal/platform/logging"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status_code"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "endpoint", "status_code"})

	httpInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "Current number of HTTP requests being served.",
	})
)

// PrometheusMiddleware records request duration, total and in-flight gauges,
// generalized from the teacher's internal/api/middleware/prometheus.go.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		httpDuration.WithLabelValues(c.Request.Method, endpoint, status).Observe(duration.Seconds())
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
	}
}

// RequestLogger logs each request's completion at INFO, the teacher's own
// request_context.go pattern collapsed into a single middleware.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Info("request completed", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		})
	}
}

// RequestDeadline attaches a context deadline to every inbound request, per
// the concurrency model's "default request deadline is 30s".
func RequestDeadline(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AuthRequired extracts a Principal from the bearer token and stores it in
// the gin context. It never authorizes a specific resource — that is left to
// the handler, which knows the resource's owner (§4.4).
func AuthRequired(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := verifier.ParseRequest(c.Request)
		if err != nil {
			RespondError(c, apierr.NewForbidden("missing or invalid authentication"))
			c.Abort()
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

const principalKey = "principal"

// PrincipalFrom retrieves the authenticated Principal stored by AuthRequired.
func PrincipalFrom(c *gin.Context) auth.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}
	}
	p, _ := v.(auth.Principal)
	return p
}

// RespondError writes the user-visible error shape from the error handling
// design: {timestamp, status, error, message, path, ...}.
func RespondError(c *gin.Context, err *apierr.APIError) {
	if err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	c.JSON(err.Status, apierr.ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    err.Status,
		Error:     err.Category,
		Message:   err.Message,
		Path:      c.Request.URL.Path,
	})
}

// HealthCheck returns a simple liveness handler.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// ReadinessCheck returns a /readyz handler that reports healthy only if every
// named dependency check succeeds. Checks never call out to the other
// service — readiness is about this process's own direct dependencies
// (database, cache), not a chain of downstream health.
func ReadinessCheck(checks map[string]func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				results[name] = err.Error()
				healthy = false
				continue
			}
			results[name] = "ok"
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": map[bool]string{true: "ready", false: "not ready"}[healthy], "checks": results})
	}
}
