package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consulta_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consulta_lookups_total",
			Help: "Customer lookups by outcome.",
		},
		[]string{"outcome"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consulta_ready",
		Help: "1 when the backing store answered the last readiness probe.",
	})
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginsTotal, lookupsTotal, readyGauge)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt ("ok", "denied", "error", "limited").
func ObserveLogin(outcome string) { loginsTotal.WithLabelValues(outcome).Inc() }

// ObserveLookup counts a customer lookup ("ok", "not_found", "bad_request", "error").
func ObserveLookup(outcome string) { lookupsTotal.WithLabelValues(outcome).Inc() }

// SetReady records the result of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

var knownPaths = map[string]struct{}{
	"/":           {},
	"/auth/login": {},
	"/auth/me":    {},
	"/clientes":   {},
	"/healthz":    {},
	"/readyz":     {},
	"/metrics":    {},
}

// CanonicalPath strips query strings and folds unknown paths into one label
// so scanners cannot blow up label cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "unmatched"
}

// Instrument wraps next with request count, latency and in-flight metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
