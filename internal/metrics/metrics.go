package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_cache_hits_total",
		Help: "Total number of tile lookups answered from cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_cache_misses_total",
		Help: "Total number of tile lookups that missed every cache tier",
	})

	CachePromotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileview_cache_promotions_total",
		Help: "Total number of values copied into faster tiers after a hit",
	}, []string{"tier"})

	DiskEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_disk_evictions_total",
		Help: "Total number of tile files removed by disk cache eviction",
	})

	FetchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_fetches_started_total",
		Help: "Total number of tile fetches dispatched to the retriever",
	})

	FetchesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_fetches_deduplicated_total",
		Help: "Total number of tile requests joined to an in-flight fetch",
	})

	FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileview_fetch_failures_total",
		Help: "Total number of tile fetches that settled with an error",
	})

	FetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tileview_fetch_latency_seconds",
		Help:    "Latency of tile fetches in seconds",
		Buckets: prometheus.DefBuckets,
	})

	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileview_upstream_requests_total",
		Help: "Total number of upstream tile requests by status class",
	}, []string{"status"})

	InFlightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tileview_inflight_fetches",
		Help: "Number of tile fetches currently pending",
	})
)
