package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks metadata cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apaas_metadata_cache_hits_total",
			Help: "Total number of metadata cache hits",
		},
	)

	// CacheMisses tracks metadata cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apaas_metadata_cache_misses_total",
			Help: "Total number of metadata cache misses",
		},
	)

	// CacheWrites tracks bytes written to the cache
	CacheWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apaas_metadata_cache_written_bytes_total",
			Help: "Total bytes of metadata written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apaas_metadata_cache_errors_total",
			Help: "Total number of metadata cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)
