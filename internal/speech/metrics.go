package speech

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "receptionist",
		Subsystem: "speech",
		Name:      "requests_total",
		Help:      "Audio requests by cache outcome (hit, miss, shared, error).",
	}, []string{"result"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "receptionist",
		Subsystem: "speech",
		Name:      "synthesis_seconds",
		Help:      "Upstream text-to-speech latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	})
)
