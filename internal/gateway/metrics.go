package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_gateway_pushes_total",
			Help: "Credential pushes to gateways by result.",
		},
		[]string{"result"},
	)

	pushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "access_gateway_push_duration_seconds",
			Help:    "Duration of credential pushes including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	droppedChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "access_gateway_dropped_changes_total",
			Help: "Credential changes dropped because the dispatch queue was full.",
		},
	)

	telegramsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_gateway_telegrams_total",
			Help: "Telegrams received from gateways by kind and result.",
		},
		[]string{"kind", "result"},
	)
)
