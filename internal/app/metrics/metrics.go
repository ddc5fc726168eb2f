// Package metrics exposes the Prometheus collectors for the wallet layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Meridian-Labs/wallet_layer/internal/wallet"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wallet_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wallet_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	authorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_layer",
			Subsystem: "authgate",
			Name:      "decisions_total",
			Help:      "Authorization gate decisions by outcome.",
		},
		[]string{"outcome"},
	)

	upgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_layer",
			Subsystem: "upgrade",
			Name:      "attempts_total",
			Help:      "Upgrade attempts by outcome.",
		},
		[]string{"outcome"},
	)

	upgradeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wallet_layer",
			Subsystem: "upgrade",
			Name:      "duration_seconds",
			Help:      "Duration of account upgrades.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	storageCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wallet_layer",
			Subsystem: "storagegate",
			Name:      "calls_total",
			Help:      "Storage invocations by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		authorizations,
		upgrades,
		upgradeDuration,
		storageCalls,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// outcome maps a core rejection to a metric label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(wallet.KindOf(err))
}

// RecordAuthorization records an authorization gate decision.
func RecordAuthorization(err error) {
	authorizations.WithLabelValues(outcome(err)).Inc()
}

// RecordUpgrade records an upgrade attempt.
func RecordUpgrade(err error, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	upgrades.WithLabelValues(outcome(err)).Inc()
	upgradeDuration.Observe(duration.Seconds())
}

// RecordStorageCall records a storage gate invocation.
func RecordStorageCall(err error) {
	storageCalls.WithLabelValues(outcome(err)).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-account and per-version paths so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:account"
		}
		return "/accounts/:account/" + parts[2]
	case "featuresets":
		if len(parts) == 1 {
			return "/featuresets"
		}
		return "/featuresets/:version"
	default:
		return "/" + parts[0]
	}
}
