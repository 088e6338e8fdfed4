package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ReportsSubmitted counts scored submissions by resulting status.
	ReportsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saferoute",
		Subsystem: "reports",
		Name:      "submitted_total",
		Help:      "Total number of scored report submissions, labeled by resulting status.",
	}, []string{"status"})

	// ReportConfidence is the distribution of computed confidence scores.
	ReportConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "saferoute",
		Subsystem: "reports",
		Name:      "confidence",
		Help:      "Confidence score of scored reports.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// SignalFailures counts adapter calls that fell back to the neutral default.
	SignalFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saferoute",
		Subsystem: "scoring",
		Name:      "signal_failures_total",
		Help:      "Total number of text or image signals that were unavailable and replaced by a default.",
	}, []string{"signal"})

	// ScoringDurationSeconds is the time spent evaluating one submission.
	ScoringDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "saferoute",
		Subsystem: "scoring",
		Name:      "duration_seconds",
		Help:      "Time to evaluate all signals of one submission.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	})

	// LedgerConflicts counts retried reputation updates.
	LedgerConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "saferoute",
		Subsystem: "reputation",
		Name:      "update_conflicts_total",
		Help:      "Total number of reputation updates retried after a lock conflict.",
	})

	// RouteRecommendations counts recommended route variants.
	RouteRecommendations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saferoute",
		Subsystem: "routes",
		Name:      "recommended_total",
		Help:      "Total number of route comparisons, labeled by recommended variant.",
	}, []string{"variant"})

	// GeocodeCacheLookups counts geocode cache hits and misses.
	GeocodeCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "saferoute",
		Subsystem: "geocode",
		Name:      "cache_lookups_total",
		Help:      "Total number of reverse-geocode cache lookups, labeled by result.",
	}, []string{"result"})

	// RabbitMQConnected is 1 when the publisher considers itself connected.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "saferoute",
		Subsystem: "publisher",
		Name:      "rabbitmq_connected",
		Help:      "Whether the report publisher is currently connected to RabbitMQ (best-effort).",
	})

	// LiveClients is the number of connected live-feed websocket clients.
	LiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "saferoute",
		Subsystem: "feed",
		Name:      "live_clients",
		Help:      "Number of connected live feed websocket clients.",
	})
)

// Register registers service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsSubmitted,
			ReportConfidence,
			SignalFailures,
			ScoringDurationSeconds,
			LedgerConflicts,
			RouteRecommendations,
			GeocodeCacheLookups,
			RabbitMQConnected,
			LiveClients,
		)
	})
}
