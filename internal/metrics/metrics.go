// Package metrics provides Prometheus instrumentation for the reportinator
// pipeline. It exposes gauges for per-relay connection state, counters for
// per-failure-kind drops and publish outcomes, and an end-to-end throughput
// counter. Exporting them is the operator's concern; this package only
// registers collectors and serves the handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RelayState tracks each relay connection's state machine position:
	// 0=disconnected, 1=connecting, 2=subscribed, 3=retrying.
	RelayState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reportinator_relay_state",
		Help: "Current relay connection state (0=disconnected 1=connecting 2=subscribed 3=retrying)",
	}, []string{"relay"})

	// EventsReceived counts gift-wrap events delivered per relay, before
	// deduplication.
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportinator_events_received_total",
		Help: "Gift wrap events received, per relay, before deduplication",
	}, []string{"relay"})

	// DuplicateEvents counts events discarded by the seen-ID cache.
	DuplicateEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_duplicate_events_total",
		Help: "Events discarded as duplicates by the dispatcher",
	})

	// UnwrapDrops counts gift wraps dropped by the unwrap protocol, labeled
	// by failure kind.
	UnwrapDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportinator_unwrap_drops_total",
		Help: "Gift wraps dropped by the unwrap protocol, per failure kind",
	}, []string{"reason"})

	// RateLimitedRequests counts requests dropped by the per-reporter rate
	// limiter.
	RateLimitedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_rate_limited_requests_total",
		Help: "Moderation requests dropped by the per-reporter rate limiter",
	})

	// PublishAttempts counts every publish call made to the moderation
	// topic, including retries.
	PublishAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_publish_attempts_total",
		Help: "Publish calls to the moderation topic, including retries",
	})

	// PublishRetries counts publish attempts after the first for an item.
	PublishRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_publish_retries_total",
		Help: "Publish retries after a transient failure",
	})

	// PublishFailures counts items dropped after a permanent failure or
	// exhausted retries, labeled by which.
	PublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportinator_publish_failures_total",
		Help: "Moderation requests dropped by the publisher",
	}, []string{"reason"}) // reason = "permanent", "exhausted"

	// RequestsPublished counts moderation requests successfully handed to
	// the moderation topic: the pipeline's end-to-end throughput.
	RequestsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_requests_published_total",
		Help: "Moderation requests successfully published to the moderation topic",
	})

	// ReportsPublished counts signed report events accepted by a relay.
	ReportsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_reports_published_total",
		Help: "Signed report events accepted by a relay",
	})

	// ReportFailures counts confirmed decisions that produced no published
	// report, labeled by reason.
	ReportFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reportinator_report_failures_total",
		Help: "Confirmed decisions that did not result in a published report",
	}, []string{"reason"}) // reason = "build", "permanent", "exhausted"

	// DecisionsIgnored counts decisions that dismissed a request.
	DecisionsIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reportinator_decisions_ignored_total",
		Help: "Moderation decisions that dismissed a request",
	})
)

func init() {
	prometheus.MustRegister(
		RelayState,
		EventsReceived,
		DuplicateEvents,
		UnwrapDrops,
		RateLimitedRequests,
		PublishAttempts,
		PublishRetries,
		PublishFailures,
		RequestsPublished,
		ReportsPublished,
		ReportFailures,
		DecisionsIgnored,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
