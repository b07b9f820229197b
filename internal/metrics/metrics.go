// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// This package instruments:
// - Concentrator deduplication decisions and cache occupancy (C1/C2)
// - DevAddr cache bucket reads/writes and lease contention (C3)
// - Registry synchronisation runs, full vs delta, and their outcomes (C4)
// - Device resolution calls and cross-process coalescing (C5)
// - The circuit breaker guarding every registry call

var (
	// Deduplication Metrics
	DedupDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_decisions_total",
			Help: "Total number of concentrator deduplication decisions",
		},
		[]string{"frame_type", "result"}, // frame_type: "data", "join"; result: the ConcentratorDeduplicationResult
	)

	DedupCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_hits_total",
			Help: "Total number of message keys already present in the deduplication cache",
		},
		[]string{"frame_type"},
	)

	DedupCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_cache_misses_total",
			Help: "Total number of message keys first seen by the deduplication cache",
		},
		[]string{"frame_type"},
	)

	DedupCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dedup_cache_entries",
			Help: "Current number of entries held in the deduplication cache",
		},
		[]string{"frame_type"},
	)

	// DevAddr Cache Metrics
	DevAddrCacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devaddr_cache_reads_total",
			Help: "Total number of DevAddr bucket reads",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	DevAddrCacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devaddr_cache_writes_total",
			Help: "Total number of DevAddr bucket writes",
		},
		[]string{"kind"}, // "entry", "bucket_replace"
	)

	DevAddrCacheBucketSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devaddr_cache_bucket_size",
			Help:    "Number of device entries held in a single DevAddr bucket",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	LeaseAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_acquisitions_total",
			Help: "Total number of lease acquisition attempts",
		},
		[]string{"lease", "result"}, // lease: "full_update", "global_update", "devaddr"; result: "acquired", "held_by_other", "error"
	)

	// Registry Synchroniser Metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of registry synchronisation runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"}, // "full", "delta"
	)

	SyncTwinsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_twins_processed_total",
			Help: "Total number of device twins merged into the DevAddr cache during sync",
		},
		[]string{"kind"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_errors_total",
			Help: "Total number of registry synchronisation errors",
		},
		[]string{"kind", "error_type"}, // error_type: "registry", "cache", "lease"
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful sync, per kind",
		},
		[]string{"kind"},
	)

	// Device Resolver Metrics
	ResolverCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_calls_total",
			Help: "Total number of device resolution calls",
		},
		[]string{"result"}, // "resolved", "not_found", "error"
	)

	ResolverCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_coalesced_total",
			Help: "Total number of device resolution calls that joined an in-flight call instead of issuing their own registry lookup",
		},
	)

	ResolverDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resolver_duration_seconds",
			Help:    "Duration of device resolution calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Registry Client Metrics
	RegistryCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_calls_total",
			Help: "Total number of calls made to the device registry",
		},
		[]string{"operation", "result"},
	)

	RegistryCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_call_duration_seconds",
			Help:    "Duration of device registry calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDedupDecision records a deduplication decision for a data or join frame.
func RecordDedupDecision(frameType, result string, hit bool) {
	DedupDecisions.WithLabelValues(frameType, result).Inc()
	if hit {
		DedupCacheHits.WithLabelValues(frameType).Inc()
	} else {
		DedupCacheMisses.WithLabelValues(frameType).Inc()
	}
}

// RecordLeaseAcquisition records the outcome of a lease acquisition attempt.
func RecordLeaseAcquisition(lease, result string) {
	LeaseAcquisitions.WithLabelValues(lease, result).Inc()
}

// RecordDevAddrCacheRead records a DevAddr bucket read and, on a hit,
// the size of the bucket returned.
func RecordDevAddrCacheRead(result string, bucketSize int) {
	DevAddrCacheReads.WithLabelValues(result).Inc()
	if result == "hit" {
		DevAddrCacheBucketSize.Observe(float64(bucketSize))
	}
}

// RecordDevAddrCacheWrite records a DevAddr bucket write.
func RecordDevAddrCacheWrite(kind string) {
	DevAddrCacheWrites.WithLabelValues(kind).Inc()
}

// RecordSync records a registry synchronisation run's outcome.
func RecordSync(kind string, duration time.Duration, twinsProcessed int, err error) {
	SyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
	SyncTwinsProcessed.WithLabelValues(kind).Add(float64(twinsProcessed))
	if err != nil {
		errorType := "registry"
		switch {
		case contains(err.Error(), "cache"):
			errorType = "cache"
		case contains(err.Error(), "lease"):
			errorType = "lease"
		}
		SyncErrors.WithLabelValues(kind, errorType).Inc()
		return
	}
	SyncLastSuccess.WithLabelValues(kind).Set(float64(time.Now().Unix()))
}

// RecordResolverCall records the outcome of a device resolution call.
func RecordResolverCall(result string, duration time.Duration, coalesced bool) {
	ResolverCallsTotal.WithLabelValues(result).Inc()
	ResolverDuration.Observe(duration.Seconds())
	if coalesced {
		ResolverCoalesced.Inc()
	}
}

// RecordRegistryCall records a single registry client call.
func RecordRegistryCall(operation, result string, duration time.Duration) {
	RegistryCallsTotal.WithLabelValues(operation, result).Inc()
	RegistryCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func contains(s, substr string) bool {
	return indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}
