package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_http_requests_total",
			Help: "HTTP requests served by the access control API.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_http_request_duration_seconds",
			Help:    "Latency of HTTP requests served by the access control API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_authorization_decisions_total",
			Help: "Authorization checks answered through the API, by decision.",
		},
		[]string{"decision"},
	)
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Count() int
}

// RegisterSessionGauge exposes the live session count as access_sessions_active.
func RegisterSessionGauge(reg prometheus.Registerer, sessions SessionCounter) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "access_sessions_active",
		Help: "Sessions currently held by the session authority.",
	}, func() float64 {
		return float64(sessions.Count())
	})
	return reg.Register(gauge)
}

// MetricsMiddleware records request counts and latency. Routes are labelled
// by their chi pattern so path parameters do not explode label cardinality.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
