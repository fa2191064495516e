package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_coordinator"

var (
	RidesStarted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_started_total", Help: "Rides created from a confirmed booking"})
	RidesCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_cancelled_total", Help: "Rides cancelled before completion"})
	ActiveRides    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_rides", Help: "Rides currently held by a session"})
	QuotesComputed = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "quotes_computed_total", Help: "Fare quotes computed"})

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Lifecycle events by outcome"},
		[]string{"event", "outcome"},
	)
	TriggerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trigger_events_total", Help: "Events produced by trigger sources"},
		[]string{"source", "outcome"},
	)
	ObserverErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "observer_errors_total", Help: "Failures in ride update observers"},
		[]string{"observer"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
