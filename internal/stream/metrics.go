package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Subsystem: "stream",
			Name:      "messages_merged_total",
			Help:      "Validated messages merged into a channel list.",
		},
	)

	messagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Subsystem: "stream",
			Name:      "messages_dropped_total",
			Help:      "Candidate events rejected before merging.",
		},
		[]string{"reason"},
	)

	optimisticReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Subsystem: "stream",
			Name:      "optimistic_reconciled_total",
			Help:      "Optimistic messages replaced by their authoritative echo.",
		},
	)

	optimisticUnconfirmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Subsystem: "stream",
			Name:      "optimistic_unconfirmed_total",
			Help:      "Optimistic messages that hit the confirmation timeout.",
		},
	)
)
