package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// appliedTotal counts incoming entries by origin and outcome
	// (applied, skipped, error).
	appliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchsync_replica_entries_total",
		Help: "Incoming replication entries by origin and outcome",
	}, []string{"origin", "outcome"})
)
