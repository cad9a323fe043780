package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts pipeline operations.
	// Labels: operation (store, search, remove), result (success, error, not_found, degraded)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "retrieval",
			Name:      "operations_total",
			Help:      "Total number of retrieval pipeline operations",
		},
		[]string{"operation", "result"},
	)

	// ChunksPerDocument tracks how many chunks each stored document yields.
	ChunksPerDocument = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docindex",
			Subsystem: "retrieval",
			Name:      "chunks_per_document",
			Help:      "Number of chunks produced per stored document",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// ProviderMismatches counts embedder contract violations.
	ProviderMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docindex",
			Subsystem: "retrieval",
			Name:      "provider_mismatches_total",
			Help:      "Embedding calls that returned a different number of vectors than chunks",
		},
	)
)
