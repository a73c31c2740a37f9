package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	fallbackDialogue      = "dialogue"
	fallbackSynthesis     = "synthesis"
	fallbackSilence       = "silence"
	fallbackPersistence   = "persistence"
	fallbackUnknownTenant = "unknown_tenant"
)

var (
	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "receptionist",
		Subsystem: "conversation",
		Name:      "turns_total",
		Help:      "Caller/agent turns persisted.",
	})

	duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "receptionist",
		Subsystem: "conversation",
		Name:      "duplicate_events_total",
		Help:      "Redelivered or stale provider events answered without writes.",
	}, []string{"event"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "receptionist",
		Subsystem: "conversation",
		Name:      "fallbacks_total",
		Help:      "Scripted lines substituted for a failed or skipped step.",
	}, []string{"kind"})

	policyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "receptionist",
		Subsystem: "conversation",
		Name:      "policy_seconds",
		Help:      "Dialogue policy round-trip latency.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	})

	callsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "receptionist",
		Subsystem: "conversation",
		Name:      "calls_finalized_total",
		Help:      "Calls moved to a terminal status.",
	}, []string{"status"})
)
