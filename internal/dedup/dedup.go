// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package dedup implements the Concentrator Deduplication Cache: a
// single-process, thread-safe classifier that tells an upstream dispatcher
// whether an uplink or join request is the first observation of its message
// key, a resubmission from the same concentrator, or a duplicate observed
// through a different concentrator.
package dedup

import (
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/cache"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
)

// DeduplicationMode selects how a device wants cross-station duplicates of
// its data frames handled. It has no effect on join requests.
type DeduplicationMode int

const (
	// ModeDrop suppresses cross-station duplicates entirely.
	ModeDrop DeduplicationMode = iota
	// ModeMark lets duplicates through, flagged as soft duplicates.
	ModeMark
	// ModeNone is equivalent to ModeMark for classification purposes; the
	// two modes exist to preserve the registry's own vocabulary.
	ModeNone
)

func (m DeduplicationMode) String() string {
	switch m {
	case ModeDrop:
		return "Drop"
	case ModeMark:
		return "Mark"
	case ModeNone:
		return "None"
	default:
		return "Unknown"
	}
}

// ConcentratorDeduplicationResult classifies a single observation of a
// message key against the cache's record of its first observation.
type ConcentratorDeduplicationResult int

const (
	// NotDuplicate is the first observation of this message key.
	NotDuplicate ConcentratorDeduplicationResult = iota
	// DuplicateDueToResubmission is a repeat observation from the same
	// station that reported the first observation. Data frames only.
	DuplicateDueToResubmission
	// Duplicate is a repeat observation from a different station, for a
	// device configured with ModeDrop - or any repeat observation of a
	// join request regardless of station.
	Duplicate
	// SoftDuplicateDueToDeduplicationStrategy is a repeat observation from
	// a different station, for a device configured with ModeMark or
	// ModeNone.
	SoftDuplicateDueToDeduplicationStrategy
)

func (r ConcentratorDeduplicationResult) String() string {
	switch r {
	case NotDuplicate:
		return "NotDuplicate"
	case DuplicateDueToResubmission:
		return "DuplicateDueToResubmission"
	case Duplicate:
		return "Duplicate"
	case SoftDuplicateDueToDeduplicationStrategy:
		return "SoftDuplicateDueToDeduplicationStrategy"
	default:
		return "Unknown"
	}
}

// Device carries the per-device configuration check_duplicate_data needs.
// check_duplicate_join never consults it - joins have no per-device
// deduplication mode yet, since the device identity itself is unconfirmed.
type Device struct {
	Deduplication DeduplicationMode
}

// Cache is the Concentrator Deduplication Cache (C2). The zero value is not
// usable; construct with New.
type Cache struct {
	store *cache.Cache
	ttl   time.Duration
}

// New creates a Concentrator Deduplication Cache whose entries expire after
// ttl - chosen to cover the worst-case propagation delay between
// concentrators that share coverage of the same device.
func New(ttl time.Duration) *Cache {
	return &Cache{store: cache.New(ttl), ttl: ttl}
}

// CheckDuplicateData classifies a data frame observation. See package doc
// and spec §4.2 for the full algorithm; in short: the first station to
// report a (DevEui, Mic, FrameCounter) triple is authoritative for the TTL
// window, and later reports are classified against it without ever
// overwriting the recorded station.
func (c *Cache) CheckDuplicateData(f frame.DataFrame, device Device) (ConcentratorDeduplicationResult, error) {
	key, err := frame.DataKey(f)
	if err != nil {
		return NotDuplicate, err
	}

	actual, inserted := c.store.GetOrInsert(dataCacheKey(key), f.StationEui, c.ttl)
	if inserted {
		metrics.RecordDedupDecision("data", NotDuplicate.String(), false)
		return NotDuplicate, nil
	}

	first := actual.(frame.StationEui)
	var result ConcentratorDeduplicationResult
	switch {
	case first == f.StationEui:
		result = DuplicateDueToResubmission
	case device.Deduplication == ModeDrop:
		result = Duplicate
	default:
		result = SoftDuplicateDueToDeduplicationStrategy
	}
	metrics.RecordDedupDecision("data", result.String(), true)
	return result, nil
}

// CheckDuplicateJoin classifies a join request observation. Unlike data
// frames, every re-observation of a join key is a Duplicate regardless of
// station - DuplicateDueToResubmission is never emitted for joins.
func (c *Cache) CheckDuplicateJoin(f frame.JoinFrame) (ConcentratorDeduplicationResult, error) {
	key, err := frame.JoinKey(f)
	if err != nil {
		return NotDuplicate, err
	}

	_, inserted := c.store.GetOrInsert(joinCacheKey(key), f.StationEui, c.ttl)
	if inserted {
		metrics.RecordDedupDecision("join", NotDuplicate.String(), false)
		return NotDuplicate, nil
	}

	metrics.RecordDedupDecision("join", Duplicate.String(), true)
	return Duplicate, nil
}

func dataCacheKey(k frame.DataMessageKey) string {
	return "data:" + k.DevEui.String() + ":" + formatHex32(uint32(k.Mic)) + ":" + formatHex32(uint32(k.FrameCounter))
}

func joinCacheKey(k frame.JoinMessageKey) string {
	return "join:" + k.JoinEui.String() + ":" + k.DevEui.String() + ":" + formatHex32(uint32(k.DevNonce))
}

func formatHex32(v uint32) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(b)
}
