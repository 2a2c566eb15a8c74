package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socratic_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "socratic_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Model call metrics
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socratic_model_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"model", "outcome"},
	)

	modelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "socratic_model_call_duration_seconds",
			Help:    "Model invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)

	modelRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "socratic_model_retries_total",
			Help: "Total number of model call retries",
		},
		[]string{"model"},
	)

	// Session metrics
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socratic_sessions_started_total",
			Help: "Total number of learning sessions started",
		},
	)

	sessionsEndedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socratic_sessions_ended_total",
			Help: "Total number of learning sessions ended",
		},
	)

	exchangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socratic_exchanges_total",
			Help: "Total number of student exchanges processed",
		},
	)

	hintsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "socratic_hints_total",
			Help: "Total number of hints issued",
		},
	)

	understandingScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "socratic_understanding_score",
			Help:    "Understanding scores reported per exchange",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	schedulerDepth = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "socratic_scheduler_depth",
			Help: "Number of model calls queued or running",
		},
		func() float64 {
			depthMu.RLock()
			fn := depthFn
			depthMu.RUnlock()
			if fn == nil {
				return 0
			}
			return float64(fn())
		},
	)

	depthMu  sync.RWMutex
	depthFn  func() int
	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			modelCallsTotal,
			modelCallDuration,
			modelRetriesTotal,
			sessionsStartedTotal,
			sessionsEndedTotal,
			exchangesTotal,
			hintsTotal,
			understandingScore,
			schedulerDepth,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetSchedulerDepthFunc wires the scheduler depth gauge to the given source.
func SetSchedulerDepthFunc(fn func() int) {
	depthMu.Lock()
	depthFn = fn
	depthMu.Unlock()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordModelCall records a finished model invocation
func RecordModelCall(model, outcome string, duration time.Duration) {
	modelCallsTotal.WithLabelValues(model, outcome).Inc()
	modelCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordModelRetry records a retry against the given model
func RecordModelRetry(model string) {
	modelRetriesTotal.WithLabelValues(model).Inc()
}

// RecordSessionStarted increments the started sessions counter
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
}

// RecordSessionEnded increments the ended sessions counter
func RecordSessionEnded() {
	sessionsEndedTotal.Inc()
}

// RecordExchange records an exchange and its understanding score
func RecordExchange(score int) {
	exchangesTotal.Inc()
	understandingScore.Observe(float64(score))
}

// RecordHint increments the hints counter
func RecordHint() {
	hintsTotal.Inc()
}
