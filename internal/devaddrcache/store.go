// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package devaddrcache implements the Device-Address Cache Store (C3): a
// typed wrapper over a distributed key-value store that maps LoRaWAN
// device addresses to the set of devices that may own them, plus the
// lease primitives C4 and C5 use to coordinate across processes.
package devaddrcache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
)

// ErrUnavailable wraps any failure reaching the key-value store. C3 does
// no retrying - every caller sees this immediately.
var ErrUnavailable = errors.New("devaddrcache: key-value store unavailable")

const (
	bucketKeyPrefix = "devAddrTable:"
	fullUpdateKey   = "fullUpdateKey"
	globalUpdateKey = "globalUpdateKey"

	// negativeField is the hash field used to record a "not our device"
	// bucket - an entry whose DevEui is empty.
	negativeField = "-"
)

// Info is the per-device record stored in a DevAddr's bucket. Field
// names match the persisted JSON layout exactly: DevEUI, DevAddr,
// GatewayId, NwkSKey, PrimaryKey, LastUpdatedTwins.
type Info struct {
	DevEUI           frame.DevEui `json:"DevEUI"`
	DevAddr          frame.DevAddr `json:"DevAddr"`
	GatewayId        string        `json:"GatewayId"`
	NwkSKey          string        `json:"NwkSKey"`
	PrimaryKey       string        `json:"PrimaryKey"`
	LastUpdatedTwins time.Time     `json:"LastUpdatedTwins"`

	// devEuiSet distinguishes a zero-value DevEui entry from a negative
	// cache entry, whose DevEui is genuinely absent.
	devEuiSet bool
}

// NewInfo constructs an Info with DevEUI present.
func NewInfo(devEui frame.DevEui, devAddr frame.DevAddr, gatewayID, nwkSKey, primaryKey string, lastUpdated time.Time) Info {
	return Info{
		DevEUI:           devEui,
		DevAddr:          devAddr,
		GatewayId:        gatewayID,
		NwkSKey:          nwkSKey,
		PrimaryKey:       primaryKey,
		LastUpdatedTwins: lastUpdated,
		devEuiSet:        true,
	}
}

// IsNegative reports whether this is a negative-cache entry: "this
// DevAddr is not ours", with every identity field empty.
func (i Info) IsNegative() bool { return !i.devEuiSet }

// NegativeInfo constructs the single negative-cache entry written when
// the registry has no device for a DevAddr.
func NegativeInfo() Info { return Info{} }

// infoWire is the exact persisted shape, with DevEUI as a plain string
// so a negative entry can serialise it as "" without relying on
// DevEui's own zero value - DevEui(0) is itself a legitimate identity.
type infoWire struct {
	DevEUI           string    `json:"DevEUI"`
	DevAddr          string    `json:"DevAddr"`
	GatewayId        string    `json:"GatewayId"`
	NwkSKey          string    `json:"NwkSKey"`
	PrimaryKey       string    `json:"PrimaryKey"`
	LastUpdatedTwins time.Time `json:"LastUpdatedTwins"`
}

// MarshalJSON renders Info in the persisted layout: exactly the fields
// DevEUI, DevAddr, GatewayId, NwkSKey, PrimaryKey, LastUpdatedTwins.
func (i Info) MarshalJSON() ([]byte, error) {
	wire := infoWire{
		DevAddr:          i.DevAddr.String(),
		GatewayId:        i.GatewayId,
		NwkSKey:          i.NwkSKey,
		PrimaryKey:       i.PrimaryKey,
		LastUpdatedTwins: i.LastUpdatedTwins,
	}
	if i.devEuiSet {
		wire.DevEUI = i.DevEUI.String()
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts the persisted layout, tolerating a missing or
// empty PrimaryKey per §6 ("absent credentials serialise as empty
// string or null").
func (i *Info) UnmarshalJSON(data []byte) error {
	var wire infoWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*i = Info{
		DevAddr:          i.parseDevAddr(wire.DevAddr),
		GatewayId:        wire.GatewayId,
		NwkSKey:          wire.NwkSKey,
		PrimaryKey:       wire.PrimaryKey,
		LastUpdatedTwins: wire.LastUpdatedTwins,
	}
	if wire.DevEUI != "" {
		devEui, err := parseDevEuiString(wire.DevEUI)
		if err != nil {
			return err
		}
		i.DevEUI = devEui
		i.devEuiSet = true
	}
	return nil
}

func (i *Info) parseDevAddr(s string) frame.DevAddr {
	var addr frame.DevAddr
	// Best-effort: a malformed DevAddr still leaves the entry readable
	// with a zero address rather than discarding the whole record.
	_ = addr.UnmarshalJSON([]byte(strconv.Quote(s)))
	return addr
}

func parseDevEuiString(s string) (frame.DevEui, error) {
	var d frame.DevEui
	if err := d.UnmarshalJSON([]byte(strconv.Quote(s))); err != nil {
		return 0, err
	}
	return d, nil
}

// Store wraps a redis.Cmdable with the typed bucket and lease
// operations C4 and C5 need. Constructed around an interface rather
// than *redis.Client so tests can substitute miniredis or a redis mock
// without a live server.
type Store struct {
	rdb redis.Cmdable
}

// New constructs a Store over an existing Redis client/cluster handle.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

func bucketKey(addr frame.DevAddr) string {
	return bucketKeyPrefix + addr.String()
}

func fieldName(devEui frame.DevEui, negative bool) string {
	if negative {
		return negativeField
	}
	return devEui.String()
}

// GetBucket returns every entry stored for addr, keyed by DevEui. A
// negative-cache entry (if present) is returned under the hash field
// "-" (negativeField) so callers can distinguish it from a real device
// entry.
func (s *Store) GetBucket(ctx context.Context, addr frame.DevAddr) (map[string]Info, error) {
	raw, err := s.rdb.HGetAll(ctx, bucketKey(addr)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RecordDevAddrCacheRead("error", 0)
		return nil, errUnavailable(err)
	}

	bucket := make(map[string]Info, len(raw))
	for field, value := range raw {
		var info Info
		if err := json.Unmarshal([]byte(value), &info); err != nil {
			// SerializationError: treat the entry as absent. It will be
			// rewritten on the next sync or resolver call.
			continue
		}
		bucket[field] = info
	}

	if len(bucket) == 0 {
		metrics.RecordDevAddrCacheRead("miss", 0)
	} else {
		metrics.RecordDevAddrCacheRead("hit", len(bucket))
	}
	return bucket, nil
}

// PutEntry upserts a single field in addr's bucket.
func (s *Store) PutEntry(ctx context.Context, addr frame.DevAddr, info Info) error {
	negative := info.IsNegative()
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	field := fieldName(info.DevEUI, negative)
	if err := s.rdb.HSet(ctx, bucketKey(addr), field, payload).Err(); err != nil {
		return errUnavailable(err)
	}
	metrics.RecordDevAddrCacheWrite("entry")
	return nil
}

// ReplaceBucket atomically swaps addr's entire bucket for entries,
// keyed by the field name HSet expects (DevEui.String(), or the
// negative-entry sentinel field). The swap is a pipelined
// DEL+HSET so no reader observes a partially-written bucket.
func (s *Store) ReplaceBucket(ctx context.Context, addr frame.DevAddr, entries map[string]Info) error {
	key := bucketKey(addr)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(entries) == 0 {
			return nil
		}
		fields := make(map[string]interface{}, len(entries))
		for field, info := range entries {
			payload, err := json.Marshal(info)
			if err != nil {
				return err
			}
			fields[field] = payload
		}
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return errUnavailable(err)
	}
	metrics.RecordDevAddrCacheWrite("bucket_replace")
	return nil
}

// TakeLease attempts to atomically acquire a named lease with the given
// TTL, returning whether it was acquired. A lease already held by
// another owner returns false with no error - lease contention is not
// an error condition.
func (s *Store) TakeLease(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	acquired, err := s.rdb.SetNX(ctx, leaseKey(name), "1", ttl).Result()
	if err != nil {
		metrics.RecordLeaseAcquisition(leaseMetricLabel(name), "error")
		return false, errUnavailable(err)
	}
	if acquired {
		metrics.RecordLeaseAcquisition(leaseMetricLabel(name), "acquired")
	} else {
		metrics.RecordLeaseAcquisition(leaseMetricLabel(name), "held_by_other")
	}
	return acquired, nil
}

// leaseMetricLabel collapses a lease name to its fixed-cardinality
// metric label: the two named leases keep their own identity, while
// every per-DevAddr lease - an unbounded value - is folded into a
// single "devaddr" bucket.
func leaseMetricLabel(name string) string {
	switch name {
	case fullUpdateKey:
		return "full_update"
	case globalUpdateKey:
		return "global_update"
	default:
		return "devaddr"
	}
}

// ReleaseLease releases a named lease immediately, regardless of
// remaining TTL.
func (s *Store) ReleaseLease(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, leaseKey(name)).Err(); err != nil {
		return errUnavailable(err)
	}
	return nil
}

// SetLeaseTTL overwrites a held lease's remaining TTL without releasing
// it - used by C4 to shorten fullUpdateKey's cooldown after a failed
// full reload, so the next retry happens soon rather than after the
// full success cooldown.
func (s *Store) SetLeaseTTL(ctx context.Context, name string, ttl time.Duration) error {
	ok, err := s.rdb.Expire(ctx, leaseKey(name), ttl).Result()
	if err != nil {
		return errUnavailable(err)
	}
	if !ok {
		// Lease no longer exists; nothing to shorten.
		return nil
	}
	return nil
}

// GetLeaseTTL returns the remaining TTL of a named lease. A negative
// duration means the lease does not exist (or carries no expiry).
func (s *Store) GetLeaseTTL(ctx context.Context, name string) (time.Duration, error) {
	ttl, err := s.rdb.TTL(ctx, leaseKey(name)).Result()
	if err != nil {
		return 0, errUnavailable(err)
	}
	return ttl, nil
}

func leaseKey(name string) string { return name }

// FullUpdateKey and GlobalUpdateKey are the two named leases §4.4
// coordinates full and delta reloads around. DevAddrLeaseKey derives
// the per-DevAddr short lease C5 uses for cache-miss coalescing.
const (
	FullUpdateKey   = fullUpdateKey
	GlobalUpdateKey = globalUpdateKey
)

// DevAddrLeaseKey returns the per-DevAddr lease name used to coalesce
// concurrent cache-miss resolutions for the same address.
func DevAddrLeaseKey(addr frame.DevAddr) string { return addr.String() }

func errUnavailable(err error) error {
	return errors.Join(ErrUnavailable, err)
}
