// Package metrics holds all Prometheus metrics for the attendance core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the application's Prometheus collectors.
type Metrics struct {
	ClockIns             *prometheus.CounterVec
	ClockOuts            prometheus.Counter
	VerificationFailures *prometheus.CounterVec
	ManualRequests       prometheus.Counter
	ManualApprovals      prometheus.Counter
	EventsPublished      *prometheus.CounterVec
	EventsDropped        prometheus.Counter
	StreamSubscribers    prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ClockIns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bioattend_clock_ins_total",
			Help: "Total successful clock-ins, labeled by resulting status",
		}, []string{"status"}),
		ClockOuts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bioattend_clock_outs_total",
			Help: "Total successful clock-outs",
		}),
		VerificationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bioattend_verification_failures_total",
			Help: "Total failed identity verifications, labeled by reason",
		}, []string{"reason"}),
		ManualRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bioattend_manual_requests_total",
			Help: "Total manual clock-in requests published",
		}),
		ManualApprovals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bioattend_manual_approvals_total",
			Help: "Total manual clock-in requests approved",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bioattend_events_published_total",
			Help: "Total notification events published, labeled by event type",
		}, []string{"type"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bioattend_events_dropped_total",
			Help: "Total notification events dropped due to slow subscribers",
		}),
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bioattend_stream_subscribers",
			Help: "Currently connected real-time stream subscribers",
		}),
	}
}
