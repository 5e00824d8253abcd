package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "magicledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "magicledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "magicledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	votesCast = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "magicledger",
			Subsystem: "votes",
			Name:      "cast_total",
			Help:      "Total number of daily votes cast.",
		},
	)

	donationsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "magicledger",
			Subsystem: "donations",
			Name:      "opened_total",
			Help:      "Total number of donation entries opened.",
		},
	)

	topUpsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "magicledger",
			Subsystem: "wallet",
			Name:      "topups_total",
			Help:      "Total number of wallet top-up entries opened.",
		},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "magicledger",
			Subsystem: "payments",
			Name:      "confirmations_total",
			Help:      "Total number of payment confirmations applied.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		votesCast,
		donationsOpened,
		topUpsOpened,
		confirmations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

// RecordVote counts a successfully cast daily vote.
func RecordVote() {
	votesCast.Inc()
}

// RecordDonation counts an opened donation entry.
func RecordDonation() {
	donationsOpened.Inc()
}

// RecordTopUp counts an opened wallet top-up entry.
func RecordTopUp() {
	topUpsOpened.Inc()
}

// RecordConfirmation counts an applied payment confirmation by outcome.
func RecordConfirmation(succeeded bool) {
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	confirmations.WithLabelValues(outcome).Inc()
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

// canonicalPath collapses per-resource ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "parents":
		if len(parts) == 1 {
			return "/parents"
		}
		if len(parts) == 2 {
			return "/parents/:parent"
		}
		return "/parents/:parent/" + parts[2]
	case "share":
		if len(parts) == 1 {
			return "/share"
		}
		if len(parts) == 2 {
			return "/share/:slug"
		}
		return "/share/:slug/" + parts[2]
	}
	return "/" + parts[0]
}
