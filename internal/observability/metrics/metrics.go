package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recipes"

// Recorder owns a private Prometheus registry holding HTTP request metrics,
// per-operation outcome counters and rate limiter rejections.
type Recorder struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	outcomes        *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// New constructs a Recorder backed by a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, normalized path and status code.",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and normalized path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_outcomes_total",
			Help:      "Recipe operations by operation name and mediated result.",
		}, []string{"operation", "result"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by scope.",
		}, []string{"scope"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Recipe cache lookups by result.",
		}, []string{"result"}),
	}
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide Recorder. A nil recorder is ignored.
func SetDefault(recorder *Recorder) {
	if recorder == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = recorder
	defaultMu.Unlock()
}

// Registry exposes the underlying registry for exposition and tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRequest records one HTTP request under its route template.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = routeLabel(path)
	r.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveOutcome counts a mediated operation result such as "ok" or
// "not_found".
func (r *Recorder) ObserveOutcome(operation, result string) {
	r.outcomes.WithLabelValues(normalizeName(operation), normalizeName(result)).Inc()
}

// ObserveRateLimited counts a rejection by the named limiter scope.
func (r *Recorder) ObserveRateLimited(scope string) {
	r.rateLimited.WithLabelValues(normalizeName(scope)).Inc()
}

// ObserveCacheLookup counts a cache lookup by its result.
func (r *Recorder) ObserveCacheLookup(result string) {
	r.cacheLookups.WithLabelValues(normalizeName(result)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// routeLabel maps a request path onto the route template that served it.
// Anything outside the known routes shares the "other" label so clients cannot
// grow the series count.
func routeLabel(path string) string {
	path = "/" + strings.Trim(path, "/")
	switch path {
	case "/", "/healthz", "/metrics", "/api/recipes", "/api/recipes/bulk":
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/recipes/"); ok && !strings.Contains(rest, "/") {
		return "/api/recipes/:id"
	}
	return "other"
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	Default().ObserveRequest(method, path, status, duration)
}

// ObserveOutcome records an operation result on the default recorder.
func ObserveOutcome(operation, result string) {
	Default().ObserveOutcome(operation, result)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return Default().Handler()
}
