package propagate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// broadcastTotal counts messages published to the channel
	broadcastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchsync_propagate_broadcasts_total",
		Help: "Messages broadcast to other windows",
	})

	// receivedTotal counts entries received from other windows
	receivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benchsync_propagate_received_entries_total",
		Help: "Entries received from other windows",
	})

	// droppedTotal counts messages lost by a channel implementation
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "benchsync_propagate_dropped_total",
		Help: "Broadcast messages dropped by channel",
	}, []string{"channel"})

	// batchSize tracks entries per applied batch
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "benchsync_propagate_batch_entries",
		Help:    "Entries per applied broadcast batch",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})
)
