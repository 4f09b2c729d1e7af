// Package metrics exposes Prometheus instrumentation for the resolver and
// stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks resolver cache hits and misses per store.
	CacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secretcache_cache_access_total",
			Help: "Resolver cache accesses by result.",
		},
		[]string{"store", "result"}, // result = "hit" | "miss" | "expired"
	)

	// Tracks explicit invalidations.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secretcache_cache_invalidations_total",
			Help: "Cache entries removed by explicit invalidation.",
		},
		[]string{"store", "scope"}, // scope = "ref" | "all"
	)

	// Tracks fetches issued to the backing store (post de-duplication).
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secretcache_store_fetches_total",
			Help: "Store fetches issued by the resolver, by outcome.",
		},
		[]string{"store", "outcome"}, // outcome = "ok" | "error"
	)

	// Tracks retry attempts beyond the first try.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secretcache_store_retries_total",
			Help: "Retries performed against the store after transient failures.",
		},
		[]string{"store"},
	)

	// Measures end-to-end fetch duration including retries.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secretcache_store_fetch_duration_seconds",
			Help:    "Duration of store fetches including retry backoff.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"store"},
	)
)
