package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAdmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Name:      "events_admitted_total",
			Help:      "Validated events admitted into the event store.",
		},
		[]string{"kind"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "universed_engine",
			Name:      "events_dropped_total",
			Help:      "Candidate events rejected by a validator.",
		},
	)
)
