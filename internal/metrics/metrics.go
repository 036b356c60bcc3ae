package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts completed chat turns per agent.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "virtualgo",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns processed",
		},
		[]string{"agent", "status"},
	)

	// StampFailures counts identity-stamp writes that did not land. Each
	// failure marks a conversation row the directory cannot yet find, so this
	// is the alerting signal for the two-phase-write gap.
	StampFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "virtualgo",
			Subsystem: "memory",
			Name:      "stamp_failures_total",
			Help:      "Identity stamp writes that failed",
		},
	)

	// CreateConflicts counts duplicate-identity races on first-time
	// conversations that were recovered by re-resolving.
	CreateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "virtualgo",
			Subsystem: "memory",
			Name:      "create_conflicts_total",
			Help:      "Conversation create races resolved by reusing the winning id",
		},
	)

	// CorruptRecords counts history blobs that failed to decode on load.
	CorruptRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "virtualgo",
			Subsystem: "memory",
			Name:      "corrupt_records_total",
			Help:      "Stored histories that could not be decoded",
		},
	)
)
