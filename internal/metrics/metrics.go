// Package metrics provides Prometheus instrumentation for Mulewatch.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mulewatch"

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AnalysesTotal counts pipeline runs by outcome.
	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total batch analyses by status.",
		},
		[]string{"status"},
	)

	// AnalysisDuration observes end-to-end pipeline latency.
	AnalysisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Batch analysis duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// BatchTransactions observes the size of analyzed batches.
	BatchTransactions = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_transactions",
			Help:      "Number of transactions per analyzed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// PatternMatchesTotal counts detector matches by pattern name.
	PatternMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_matches_total",
			Help:      "Total pattern matches by pattern.",
		},
		[]string{"pattern"},
	)

	// RiskRecordsTotal counts scored accounts by tier.
	RiskRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_records_total",
			Help:      "Total scored accounts by risk tier.",
		},
		[]string{"tier"},
	)

	// DefaultedFieldsTotal counts substituted input fields by field name.
	DefaultedFieldsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defaulted_fields_total",
			Help:      "Total input fields replaced by a default, by field.",
		},
		[]string{"field"},
	)

	// BatchesUploadedTotal counts stored uploads.
	BatchesUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_uploaded_total",
		Help:      "Total batches stored.",
	})

	// QuotaRejectionsTotal counts uploads refused by the per-tenant quota.
	QuotaRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_rejections_total",
		Help:      "Total uploads rejected by the per-tenant quota.",
	})

	// AlertsPublishedTotal counts account alerts sent to the event bus.
	AlertsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_published_total",
		Help:      "Total critical account alerts published.",
	})

	// EventsPublishedTotal counts pipeline events handed to the bus by topic.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total pipeline events published by topic.",
		},
		[]string{"topic"},
	)

	// EventsDroppedTotal counts events a subscriber never received by topic.
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total pipeline events dropped because a subscriber queue was full.",
		},
		[]string{"topic"},
	)

	// EventHandlerErrorsTotal counts subscriber handlers that returned an error by topic.
	EventHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Total pipeline event handler failures by topic.",
		},
		[]string{"topic"},
	)

	// LoadedRules tracks the size of the active rule table.
	LoadedRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loaded_rules",
		Help:      "Number of rules in the active detection table.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AnalysesTotal,
		AnalysisDuration,
		BatchTransactions,
		PatternMatchesTotal,
		RiskRecordsTotal,
		DefaultedFieldsTotal,
		BatchesUploadedTotal,
		QuotaRejectionsTotal,
		AlertsPublishedTotal,
		EventsPublishedTotal,
		EventsDroppedTotal,
		EventHandlerErrorsTotal,
		LoadedRules,
	)
}

// Middleware records request metrics by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, to keep label cardinality bounded.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
