// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package deviceresolver implements the Device Getter (C5): the
// request-time resolver that turns a DevAddr (plus the requesting
// gateway) into the device(s) that may own it, mediating the DevAddr
// cache (C3), the registry synchroniser's lease primitives (C4), and
// the registry itself.
package deviceresolver

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chirpstack/ns-devaddr-cache/internal/devaddrcache"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/logging"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
	"github.com/chirpstack/ns-devaddr-cache/internal/registry"
)

// Device is the resolved, credentialed device returned to a caller of
// Resolve - §6's IoTHubDeviceInfo.
type Device struct {
	DevEui         frame.DevEui
	DevAddr        frame.DevAddr
	GatewayId      string
	NwkSKey        string
	PrimaryKey     string
	AssignedIoTHub string
}

// Config tunes the per-DevAddr cache-miss lease and the poll loop
// callers who lose the coalescing race fall into.
type Config struct {
	// MissLeaseTTL bounds how long one process may hold the
	// per-DevAddr lease while it performs the registry round trip on
	// behalf of every concurrent caller.
	MissLeaseTTL time.Duration

	// PollInterval is how often a caller that lost the lease race
	// re-reads the bucket while waiting for it to be populated.
	PollInterval time.Duration
}

// DefaultConfig returns reasonable cache-miss coalescing parameters.
func DefaultConfig() Config {
	return Config{
		MissLeaseTTL: 5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

// Resolver implements C5 over a Store and a registry Client.
type Resolver struct {
	store  *devaddrcache.Store
	client registry.Client
	cfg    Config

	missGroup   singleflight.Group
	deviceGroup singleflight.Group
}

// New constructs a Resolver.
func New(store *devaddrcache.Store, client registry.Client, cfg Config) *Resolver {
	return &Resolver{store: store, client: client, cfg: cfg}
}

// Resolve implements get_device_list: given a DevAddr and the
// requesting gateway, return every device that may own it, with
// credentials populated. An empty, nil-error result means "this
// DevAddr is not ours" (negative-cache hit); any returned error is an
// operational failure that must propagate rather than be mistaken for
// "not ours".
//
// station and devNonce identify the originating join/data frame for
// callers and logging but play no role in candidate selection - the
// registry's own find_by_addr/get_device responses are the sole
// source of truth for which devices own a DevAddr.
func (r *Resolver) Resolve(ctx context.Context, _ frame.StationEui, gatewayID string, _ frame.DevNonce, devAddr frame.DevAddr) (result []Device, err error) {
	start := time.Now()
	coalesced := false
	defer func() {
		outcome := "resolved"
		switch {
		case err != nil:
			outcome = "error"
		case len(result) == 0:
			outcome = "not_found"
		}
		metrics.RecordResolverCall(outcome, time.Since(start), coalesced)
	}()

	bucket, err := r.store.GetBucket(ctx, devAddr)
	if err != nil {
		return nil, err
	}

	if len(bucket) > 0 {
		return r.resolveFromBucket(ctx, devAddr, gatewayID, bucket)
	}

	devices, wasCoalesced, err := r.resolveCacheMiss(ctx, devAddr, gatewayID)
	coalesced = wasCoalesced
	return devices, err
}

// resolveFromBucket implements algorithm steps 2 and 3: a non-empty
// bucket either already carries credentials for every matching
// candidate (zero registry calls) or needs get_device filled in for
// the ones that don't - never find_by_addr, never get_twin.
func (r *Resolver) resolveFromBucket(ctx context.Context, devAddr frame.DevAddr, gatewayID string, bucket map[string]devaddrcache.Info) ([]Device, error) {
	if isNegativeOnly(bucket) {
		return nil, nil
	}

	candidates := filterCandidates(bucket, gatewayID)
	if len(candidates) == 0 {
		return nil, nil
	}

	devices := make([]Device, 0, len(candidates))
	for _, info := range candidates {
		if info.PrimaryKey == "" {
			enriched, err := r.fetchCredentials(ctx, devAddr, info)
			if err != nil {
				return nil, err
			}
			info = enriched
		}
		devices = append(devices, toDevice(info))
	}
	return devices, nil
}

// fetchCredentials calls get_device for info's DevEui (coalesced per
// DevEui so concurrent resolutions never issue duplicate calls for
// the same device), writes the enriched entry back to C3, and returns
// it.
func (r *Resolver) fetchCredentials(ctx context.Context, devAddr frame.DevAddr, info devaddrcache.Info) (devaddrcache.Info, error) {
	key := info.DevEUI.String()
	v, err, _ := r.deviceGroup.Do(key, func() (interface{}, error) {
		start := time.Now()
		creds, err := r.client.GetDevice(ctx, info.DevEUI)
		metrics.RecordRegistryCall("get_device", registryResult(err), time.Since(start))
		if err != nil {
			return devaddrcache.Info{}, errors.Join(registry.ErrUnavailable, err)
		}
		enriched := devaddrcache.NewInfo(info.DevEUI, info.DevAddr, info.GatewayId, info.NwkSKey, creds.PrimaryKey, info.LastUpdatedTwins)
		if err := r.store.PutEntry(ctx, devAddr, enriched); err != nil {
			return devaddrcache.Info{}, err
		}
		return enriched, nil
	})
	if err != nil {
		return devaddrcache.Info{}, err
	}
	return v.(devaddrcache.Info), nil
}

// resolveCacheMiss implements algorithm step 4/5: coalesce concurrent
// misses for the same DevAddr via the per-DevAddr lease, perform
// exactly one find_by_addr, populate the bucket (or write a negative
// entry) with credentials fetched for every returned device, and
// return the candidates matching gatewayID. Callers
// that lose the lease race poll the bucket instead of querying the
// registry themselves.
func (r *Resolver) resolveCacheMiss(ctx context.Context, devAddr frame.DevAddr, gatewayID string) ([]Device, bool, error) {
	v, err, shared := r.missGroup.Do(devAddr.String(), func() (interface{}, error) {
		return r.populateBucket(ctx, devAddr)
	})
	if err != nil {
		return nil, false, err
	}
	bucket := v.(map[string]devaddrcache.Info)

	if isNegativeOnly(bucket) {
		return nil, shared, nil
	}
	candidates := filterCandidates(bucket, gatewayID)
	devices := make([]Device, 0, len(candidates))
	for _, info := range candidates {
		devices = append(devices, toDevice(info))
	}
	return devices, shared, nil
}

// populateBucket takes the per-DevAddr lease (so at most one process
// in the cluster performs the registry call), calls find_by_addr
// exactly once, writes every returned twin into the bucket (or a
// single negative entry if none were returned), fetches credentials
// for every device in it, and returns the resulting bucket. A
// process that loses the lease race polls until the bucket is
// populated by the winner.
func (r *Resolver) populateBucket(ctx context.Context, devAddr frame.DevAddr) (map[string]devaddrcache.Info, error) {
	leaseName := devaddrcache.DevAddrLeaseKey(devAddr)
	acquired, err := r.store.TakeLease(ctx, leaseName, r.cfg.MissLeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return r.pollForBucket(ctx, devAddr)
	}
	defer func() {
		_ = r.store.ReleaseLease(context.WithoutCancel(ctx), leaseName)
	}()

	twins, err := r.fetchAllByAddr(ctx, devAddr)
	if err != nil {
		return nil, err
	}

	if len(twins) == 0 {
		if err := r.store.PutEntry(ctx, devAddr, devaddrcache.NegativeInfo()); err != nil {
			return nil, err
		}
		logging.CtxInfo(ctx).Str("devaddr", devAddr.String()).Msg("deviceresolver: no registry match, negative entry written")
		return map[string]devaddrcache.Info{}, nil
	}

	bucket := make(map[string]devaddrcache.Info, len(twins))
	for _, twin := range twins {
		info := devaddrcache.NewInfo(twin.DevEui, twin.DevAddr, twin.GatewayId, twin.NwkSKey, "", twin.LastUpdated)
		if err := r.store.PutEntry(ctx, devAddr, info); err != nil {
			return nil, err
		}
		bucket[twin.DevEui.String()] = info
	}

	for field, info := range bucket {
		enriched, err := r.fetchCredentials(ctx, devAddr, info)
		if err != nil {
			return nil, err
		}
		bucket[field] = enriched
	}
	return bucket, nil
}

// fetchAllByAddr calls find_by_addr exactly once per page, following
// NextPageToken until exhausted, since a DevAddr's candidate list is
// unbounded (spec: multiple devices may share a DevAddr).
func (r *Resolver) fetchAllByAddr(ctx context.Context, devAddr frame.DevAddr) ([]registry.Twin, error) {
	var all []registry.Twin
	token := ""
	for {
		start := time.Now()
		page, err := r.client.FindByAddr(ctx, devAddr, token)
		metrics.RecordRegistryCall("find_by_addr", registryResult(err), time.Since(start))
		if err != nil {
			return nil, errors.Join(registry.ErrUnavailable, err)
		}
		all = append(all, page.Twins...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return all, nil
}

// pollForBucket re-reads the bucket until it is populated by the
// process that won the lease race, or ctx is done.
func (r *Resolver) pollForBucket(ctx context.Context, devAddr frame.DevAddr) (map[string]devaddrcache.Info, error) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		bucket, err := r.store.GetBucket(ctx, devAddr)
		if err != nil {
			return nil, err
		}
		if len(bucket) > 0 {
			return bucket, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isNegativeOnly(bucket map[string]devaddrcache.Info) bool {
	if len(bucket) != 1 {
		return false
	}
	for _, info := range bucket {
		return info.IsNegative()
	}
	return false
}

// filterCandidates returns the non-negative bucket entries matching
// gatewayID. An empty gatewayID matches every present device.
func filterCandidates(bucket map[string]devaddrcache.Info, gatewayID string) []devaddrcache.Info {
	candidates := make([]devaddrcache.Info, 0, len(bucket))
	for _, info := range bucket {
		if info.IsNegative() {
			continue
		}
		if gatewayID != "" && info.GatewayId != gatewayID {
			continue
		}
		candidates = append(candidates, info)
	}
	return candidates
}

func toDevice(info devaddrcache.Info) Device {
	return Device{
		DevEui:     info.DevEUI,
		DevAddr:    info.DevAddr,
		GatewayId:  info.GatewayId,
		NwkSKey:    info.NwkSKey,
		PrimaryKey: info.PrimaryKey,
	}
}

func registryResult(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
