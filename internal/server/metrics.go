package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksLabeled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veldt",
			Name:      "chunks_labeled_total",
			Help:      "Chunks processed by the labeling pipeline, by outcome.",
		},
		[]string{"outcome"},
	)

	chunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "veldt",
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector store.",
		},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "veldt",
			Name:      "query_duration_seconds",
			Help:      "Retrieval query latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"rerank"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "veldt",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		},
		[]string{"method", "path", "status"},
	)
)
