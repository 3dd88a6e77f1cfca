package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "benchsync_outbox_pending",
		Help: "Outbox entries not yet acknowledged by the remote",
	})

	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "benchsync_remote_online",
		Help: "1 while the remote is believed reachable",
	})

	// drainTotal counts drain attempts by outcome
	// (sent, empty, offline, busy, failed).
	drainTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchsync_drain_total",
		Help: "Outbound drain attempts by outcome",
	}, []string{"outcome"})

	pushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchsync_pushed_entries_total",
		Help: "Outbox entries acknowledged by the remote",
	})

	pushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "benchsync_push_duration_seconds",
		Help:    "Latency of remote batch pushes",
		Buckets: prometheus.DefBuckets,
	})

	// pollTotal counts poll attempts by outcome
	// (applied, empty, offline, busy, failed).
	pollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchsync_poll_total",
		Help: "Inbound poll attempts by outcome",
	}, []string{"outcome"})

	checkpointGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "benchsync_remote_checkpoint",
		Help: "Last persisted change feed checkpoint",
	})
)
