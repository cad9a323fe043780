package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OutcomesTotal counts add requests by document type and final status.
var OutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docindex",
	Subsystem: "ingest",
	Name:      "outcomes_total",
	Help:      "Document add requests by type and status.",
}, []string{"type", "status"})
