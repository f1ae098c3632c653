package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// IngestEventsTotal counts inbound events by outcome (created, appended, skipped).
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingest_events_total",
			Help: "Inbound channel events by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// ChannelSendsTotal counts outbound delivery attempts per channel.
	ChannelSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_channel_sends_total",
			Help: "Outbound channel deliveries by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// CaseTransitionsTotal counts pipeline stage changes.
	CaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_case_transitions_total",
			Help: "Case pipeline stage transitions",
		},
		[]string{"from", "to"},
	)

	// ConsistencyErrorsTotal counts message writes whose conversation update failed.
	ConsistencyErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_consistency_errors_total",
			Help: "Messages stored without the matching conversation counter update",
		},
	)

	// SnoozeReopenedTotal counts conversations reopened by the sweep.
	SnoozeReopenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_snooze_reopened_total",
			Help: "Conversations reopened after their snooze expired",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	RequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	RequestsTotal.WithLabelValues(method, path, code).Inc()
}

// RecordIngest records the outcome of one inbound event.
func RecordIngest(channel, outcome string) {
	IngestEventsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordChannelSend records one outbound delivery attempt.
func RecordChannelSend(channel string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	ChannelSendsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordCaseTransition records a pipeline stage change.
func RecordCaseTransition(from, to string) {
	CaseTransitionsTotal.WithLabelValues(from, to).Inc()
}
