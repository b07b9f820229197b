// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

/*
Package cache provides a thread-safe in-memory cache with TTL support.

This package is the generic building block behind the Concentrator
Deduplication Cache (internal/dedup): an in-process, per-instance cache
keyed by deduplication message key, with a short TTL, counted from the
first observation, on the order of the maximum expected inter-station
propagation delay.

# Overview

The cache provides:
  - Thread-safe concurrent access (sync.RWMutex)
  - Time-to-live (TTL) expiration, checked lazily on Get and swept by
    a background cleanup goroutine every 5 minutes
  - Simple key-value storage with any value type (interface{})
  - An atomic GetOrInsert primitive for check-and-insert races

# Why GetOrInsert

Deduplication requires answering "am I the first station to report
this message key" exactly once per key, even when two stations'
uplinks race each other into the process. A naive Get-then-Set pair
lets both racing goroutines observe a miss and both believe they were
first. GetOrInsert performs the check and the insert under a single
write lock, so exactly one caller is told inserted == true.

# Usage Example

Basic caching:

	c := cache.New(5 * time.Minute)
	c.Set("key", value)
	if data, ok := c.Get("key"); ok {
	    // use cached data
	}

Deduplication (first-seen-station) pattern:

	actual, inserted := c.GetOrInsert(messageKey, stationEui, dedupTTL)
	if inserted {
	    return NotDuplicate
	}
	firstStation := actual.(StationEui)
	if firstStation == observedStation {
	    return DuplicateDueToResubmission
	}
	// different station observed the same key - classify per mode

# Cache Key Conventions

Callers build keys from domain identifiers rather than strings directly;
GenerateKey provides a collision-resistant key for callers that need to
hash a compound parameter set (e.g. a paginated registry query).

# Thread Safety

All cache methods are thread-safe using sync.RWMutex. GetOrInsert holds
a single write lock for its entire check-and-insert sequence so it is
atomic with respect to concurrent Get/Set/GetOrInsert calls.

# Limitations

The cache has no maximum size limit and no LRU eviction - only TTL-based
expiration and periodic sweeping. This is appropriate for its actual
workloads: the deduplication cache's key space is bounded by
in-flight message keys within one TTL window, which is small relative
to available memory.

# See Also

  - internal/dedup: Concentrator Deduplication Cache built on this package
*/
package cache
