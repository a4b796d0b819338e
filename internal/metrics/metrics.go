package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (ops server)
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapline_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tapline_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Stream metrics
var (
	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapline_stream_events_total",
		Help: "Total number of stream events received",
	}, []string{"kind"}) // "post" or "heartbeat"

	StreamConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapline_stream_connection_state",
		Help: "Stream connection state (1=connected, 0=disconnected)",
	})

	StreamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapline_stream_reconnects_total",
		Help: "Total number of stream reconnect cycles by disconnect reason",
	}, []string{"reason"})

	StreamErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapline_stream_errors_total",
		Help: "Total number of stream event processing errors",
	})

	LivenessClosesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapline_liveness_closes_total",
		Help: "Total number of connections force-closed after a liveness timeout",
	})
)

// Relay metrics
var (
	ForwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapline_forwards_total",
		Help: "Total number of webhook forwards by outcome",
	}, []string{"status"})

	DatastoreErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapline_datastore_errors_total",
		Help: "Total number of failed datastore inserts",
	})
)

// Grouper metrics
var (
	GroupsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapline_groups_open",
		Help: "Number of conversation groups currently buffering",
	})

	GroupsFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapline_groups_flushed_total",
		Help: "Total number of conversation groups flushed as merged records",
	})

	GroupsDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapline_groups_discarded_total",
		Help: "Total number of lone-reply groups discarded",
	})
)

// Archive metrics (gauges updated periodically by collector)
var (
	ArchivedRecordsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapline_archived_records_total",
		Help: "Total number of records in the local archive",
	})
)

// NormalizePath collapses ops-server paths so unknown URLs don't explode
// label cardinality.
func NormalizePath(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/stats":
		return path
	}
	return "/other"
}
