// Package observability exposes Prometheus metrics for the gallery cache.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache probe results by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	tierErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_tier_errors_total",
			Help: "Swallowed tier failures by tier and operation.",
		},
		[]string{"tier", "op"},
	)

	storeOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_store_op_seconds",
			Help:    "Latency of tier storage operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"tier", "op", "ok"},
	)

	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted by tier and reason.",
		},
		[]string{"tier", "reason"},
	)

	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolutions_total",
			Help: "Asset resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	coalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolutions_coalesced_total",
			Help: "Callers that shared another caller's in-flight resolution.",
		},
	)

	uploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resize_uploads_total",
			Help: "Multipart uploads submitted to the resize service.",
		},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncCacheHit(tier string) {
	cacheResults.WithLabelValues(tier, "hit").Inc()
}

func IncCacheMiss(tier string) {
	cacheResults.WithLabelValues(tier, "miss").Inc()
}

func IncTierError(tier, op string) {
	tierErrors.WithLabelValues(tier, op).Inc()
}

func ObserveStoreOp(tier, op string, err error, durationSeconds float64) {
	ok := "true"
	if err != nil {
		ok = "false"
	}
	storeOpSeconds.WithLabelValues(tier, op, ok).Observe(durationSeconds)
}

func AddEvictions(tier, reason string, n int) {
	if n <= 0 {
		return
	}
	evictionsTotal.WithLabelValues(tier, reason).Add(float64(n))
}

func IncResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

func IncCoalesced() {
	coalescedTotal.Inc()
}

func IncUpload() {
	uploadsTotal.Inc()
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
