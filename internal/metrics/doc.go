// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

/*
Package metrics provides Prometheus metrics collection and export for observability.

# Overview

The package instruments the two subsystems this module implements:

  - Concentrator deduplication (C1/C2): decisions returned per frame type,
    cache hit/miss counts, cache occupancy
  - DevAddr cache (C3/C4/C5): bucket reads/writes, lease acquisition outcomes,
    full/delta synchronisation runs, device resolution calls and the rate at
    which they coalesce instead of issuing a fresh registry lookup

It also instruments the circuit breaker guarding every outbound call to the
device registry, using the same gauge/counter shape regardless of which
collaborator the breaker wraps.

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format, served by the
same HTTP server as the health check (see internal/supervisor/services).

# Available Metrics

Deduplication:
  - dedup_decisions_total{frame_type,result}
  - dedup_cache_hits_total{frame_type} / dedup_cache_misses_total{frame_type}
  - dedup_cache_entries{frame_type}

DevAddr Cache:
  - devaddr_cache_reads_total{result}
  - devaddr_cache_writes_total{kind}
  - devaddr_cache_bucket_size (histogram)
  - lease_acquisitions_total{lease,result}

Registry Synchroniser:
  - sync_duration_seconds{kind}
  - sync_twins_processed_total{kind}
  - sync_errors_total{kind,error_type}
  - sync_last_success_timestamp{kind}

Device Resolver:
  - resolver_calls_total{result}
  - resolver_coalesced_total
  - resolver_duration_seconds

Registry Client:
  - registry_calls_total{operation,result}
  - registry_call_duration_seconds{operation}

Circuit Breaker:
  - circuit_breaker_state{name} (0=closed, 1=half-open, 2=open)
  - circuit_breaker_requests_total{name,result}
  - circuit_breaker_consecutive_failures{name}
  - circuit_breaker_state_transitions_total{name,from_state,to_state}

# Usage Example

	metrics.RecordDedupDecision("data", dedup.NotDuplicate.String(), false)
	metrics.RecordSync("delta", elapsed, len(twins), err)
	metrics.RecordResolverCall("resolved", elapsed, coalesced)

# Cardinality

Labels are fixed sets (frame type, lease name, sync kind, result enum) - no
DevEui, DevAddr, or other per-device value is ever used as a label.
*/
package metrics
