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
	// Registry holds the engine's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remit_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remit_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	deposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "ledger",
			Name:      "deposits_total",
			Help:      "Total number of internal balance deposits.",
		},
		[]string{"token"},
	)

	withdrawals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "ledger",
			Name:      "withdrawals_total",
			Help:      "Total number of internal balance withdrawals.",
		},
		[]string{"token"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "payments",
			Name:      "sent_total",
			Help:      "Total number of completed manual payments.",
		},
		[]string{"token"},
	)

	feesCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "payments",
			Name:      "fees_collected_total",
			Help:      "Total fee value routed to the treasury, in minor units.",
		},
		[]string{"token"},
	)

	autoExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remit_engine",
			Subsystem: "scheduler",
			Name:      "auto_executions_total",
			Help:      "Total number of auto-payment execution attempts.",
		},
		[]string{"success"},
	)

	crankRuns = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remit_engine",
			Subsystem: "scheduler",
			Name:      "crank_run_duration_seconds",
			Help:      "Duration of crank worker sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		deposits,
		withdrawals,
		payments,
		feesCollected,
		autoExecutions,
		crankRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
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

// RecordDeposit counts a successful deposit.
func RecordDeposit(token string) { deposits.WithLabelValues(token).Inc() }

// RecordWithdrawal counts a successful withdrawal.
func RecordWithdrawal(token string) { withdrawals.WithLabelValues(token).Inc() }

// RecordPayment counts a completed manual payment and its fee.
func RecordPayment(token string, fee uint64) {
	payments.WithLabelValues(token).Inc()
	feesCollected.WithLabelValues(token).Add(float64(fee))
}

// RecordAutoExecution counts an auto-payment attempt.
func RecordAutoExecution(success bool) {
	autoExecutions.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordCrankRun records the duration of one crank sweep.
func RecordCrankRun(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	crankRuns.Observe(duration.Seconds())
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

// canonicalPath collapses resource identifiers so label cardinality stays
// bounded.
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
			return "/accounts/:address"
		}
		return "/accounts/:address/" + parts[2]
	case "payments":
		if len(parts) > 1 {
			return "/payments/:id"
		}
		return "/payments"
	case "beneficiaries":
		if len(parts) > 1 {
			return "/beneficiaries/:index"
		}
		return "/beneficiaries"
	case "tokens", "limits":
		if len(parts) > 1 {
			return "/" + parts[0] + "/:key"
		}
	}
	return "/" + strings.Join(parts, "/")
}
