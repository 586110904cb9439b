// Package metrics registers the Prometheus collectors of the newsletter
// pipeline and exposes small helpers to record into them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EmailsTotal counts per-recipient send outcomes: delivered or failed.
	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_emails_total",
			Help: "Emails handed to the mail transport, by outcome",
		},
		[]string{"status"},
	)

	// TrackingHits counts tracking requests. kind: open, click, web_view;
	// result: recorded, duplicate, unknown.
	TrackingHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_tracking_hits_total",
			Help: "Tracking pixel, click and web-view hits",
		},
		[]string{"kind", "result"},
	)

	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_send_duration_seconds",
			Help:    "Wall time of a whole campaign send batch",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

// IncEmail records one send outcome.
func IncEmail(status string) {
	EmailsTotal.WithLabelValues(status).Inc()
}

// IncTracking records one tracking hit.
func IncTracking(kind, result string) {
	TrackingHits.WithLabelValues(kind, result).Inc()
}

// ObserveSend records the duration of a send batch.
func ObserveSend(d time.Duration) {
	SendDuration.Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request latency labeled by the chi route pattern, so
// IDs in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
