// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package leasesync implements the Registry Synchroniser (C4): lease-
// guarded full and delta reconciliation of the DevAddr cache against
// the authoritative device registry.
package leasesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/devaddrcache"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/logging"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
	"github.com/chirpstack/ns-devaddr-cache/internal/registry"
)

// Config tunes the reconciler's lease TTLs and polling interval.
type Config struct {
	// FullSuccessTTL is how long fullUpdateKey is held after a
	// successful full reload, blocking every node from starting
	// another one. Design value: one day.
	FullSuccessTTL time.Duration

	// FullFailureTTL is how long fullUpdateKey is shortened to after a
	// failed full reload, so the retry happens soon. Design value: one
	// minute.
	FullFailureTTL time.Duration

	// GlobalUpdateTTL is the short TTL held on globalUpdateKey while a
	// delta reload - or the globalUpdateKey marker during a full
	// reload - is in flight.
	GlobalUpdateTTL time.Duration

	// Interval is how often Start's background loop invokes
	// PerformNeededSyncs.
	Interval time.Duration
}

// DefaultConfig returns the design values named in §4.4.
func DefaultConfig() Config {
	return Config{
		FullSuccessTTL:  24 * time.Hour,
		FullFailureTTL:  time.Minute,
		GlobalUpdateTTL: 30 * time.Second,
		Interval:        time.Minute,
	}
}

// Reconciler is the C4 registry synchroniser. Construct with New, run
// it under a supervisor via Start/Stop (see
// internal/supervisor/services.SyncService), or drive
// PerformNeededSyncs directly from a test.
type Reconciler struct {
	client registry.Client
	store  *devaddrcache.Store
	cfg    Config

	mu           sync.Mutex
	lastFullSync time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Reconciler and performs the initial delta warm-up
// pass against the registry - a single, unguarded
// FindByLastUpdateDate call that seeds the cache before this instance
// is registered with the supervisor tree. This is deliberately
// unleased: multiple instances starting concurrently may all warm up
// redundantly, which is harmless (merge rules are idempotent) but
// worth knowing about when reading a cold-start trace.
func New(ctx context.Context, client registry.Client, store *devaddrcache.Store, cfg Config) (*Reconciler, error) {
	r := &Reconciler{client: client, store: store, cfg: cfg}

	if err := r.warmUp(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reconciler) warmUp(ctx context.Context) error {
	since := r.getLastFullSync()
	twins, err := fetchAllTwins(ctx, func(ctx context.Context, pageToken string) (registry.Page, error) {
		return r.client.FindByLastUpdateDate(ctx, since, pageToken)
	})
	if err != nil {
		logging.CtxErr(ctx, err).Msg("leasesync: warm-up delta fetch failed")
		return err
	}
	return r.mergeTwins(ctx, twins, false)
}

// Start begins the periodic reconciliation loop. It implements
// services.StartStopManager.
func (r *Reconciler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.PerformNeededSyncs(runCtx); err != nil {
					logging.CtxErr(runCtx, err).Msg("leasesync: sync pass failed")
				}
			}
		}
	}()
	return nil
}

// Stop implements services.StartStopManager.
func (r *Reconciler) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
	return nil
}

// PerformNeededSyncs is the C4 entry point: take fullUpdateKey; on
// success run a full reload, on contention fall back to
// globalUpdateKey and a delta reload, on double contention return nil
// (another process owns the work - LeaseContention is not an error).
func (r *Reconciler) PerformNeededSyncs(ctx context.Context) error {
	fullAcquired, err := r.store.TakeLease(ctx, devaddrcache.FullUpdateKey, r.cfg.FullSuccessTTL)
	if err != nil {
		return err
	}
	if fullAcquired {
		return r.runFullReload(ctx)
	}

	deltaAcquired, err := r.store.TakeLease(ctx, devaddrcache.GlobalUpdateKey, r.cfg.GlobalUpdateTTL)
	if err != nil {
		return err
	}
	if !deltaAcquired {
		return nil
	}
	return r.runDeltaReload(ctx)
}

func (r *Reconciler) runFullReload(ctx context.Context) (err error) {
	start := time.Now()

	cleanupCtx := context.WithoutCancel(ctx)
	globalHeld := false
	defer func() {
		if globalHeld {
			_ = r.store.ReleaseLease(cleanupCtx, devaddrcache.GlobalUpdateKey)
		}
		if err != nil {
			// Never leave a lease held indefinitely after a failure:
			// shorten fullUpdateKey so the retry is fast.
			_ = r.store.SetLeaseTTL(cleanupCtx, devaddrcache.FullUpdateKey, r.cfg.FullFailureTTL)
		}
		metrics.RecordSync("full", time.Since(start), 0, err)
	}()

	// A full reload also holds globalUpdateKey as a marker so
	// concurrent deltas and resolver cache-misses back off while the
	// authoritative snapshot is being rebuilt.
	if _, lerr := r.store.TakeLease(ctx, devaddrcache.GlobalUpdateKey, r.cfg.GlobalUpdateTTL); lerr != nil {
		err = lerr
		return err
	}
	globalHeld = true

	twins, err := fetchAllTwins(ctx, r.client.FindConfiguredLoRaDevices)
	if err != nil {
		return err
	}

	if err = r.replaceBuckets(ctx, twins); err != nil {
		return err
	}

	r.setLastFullSync(time.Now())
	return nil
}

func (r *Reconciler) runDeltaReload(ctx context.Context) (err error) {
	start := time.Now()
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		_ = r.store.ReleaseLease(cleanupCtx, devaddrcache.GlobalUpdateKey)
		metrics.RecordSync("delta", time.Since(start), 0, err)
	}()

	since := r.getLastFullSync()
	twins, fetchErr := fetchAllTwins(ctx, func(ctx context.Context, pageToken string) (registry.Page, error) {
		return r.client.FindByLastUpdateDate(ctx, since, pageToken)
	})
	if fetchErr != nil {
		err = fetchErr
		return err
	}

	err = r.mergeTwins(ctx, twins, false)
	return err
}

// replaceBuckets performs a full reload's atomic per-DevAddr swap:
// every DevAddr present in twins gets exactly the incoming devices
// (merged against what was cached), with no leftover stale DevEuis
// retained.
func (r *Reconciler) replaceBuckets(ctx context.Context, twins []registry.Twin) error {
	byAddr := groupByAddr(twins)
	var twinCount int
	for addr, addrTwins := range byAddr {
		existing, err := r.store.GetBucket(ctx, addr)
		if err != nil {
			return err
		}
		bucket := buildBucket(existing, addrTwins, true)
		if err := r.store.ReplaceBucket(ctx, addr, bucket); err != nil {
			return err
		}
		twinCount += len(addrTwins)
	}
	metrics.SyncTwinsProcessed.WithLabelValues("full").Add(float64(twinCount))
	return nil
}

// mergeTwins performs a delta reload's bucket-by-bucket merge:
// DevEuis already cached for a DevAddr but absent from this batch are
// retained, since a delta only carries partial knowledge.
func (r *Reconciler) mergeTwins(ctx context.Context, twins []registry.Twin, isFull bool) error {
	byAddr := groupByAddr(twins)
	var twinCount int
	for addr, addrTwins := range byAddr {
		existing, err := r.store.GetBucket(ctx, addr)
		if err != nil {
			return err
		}
		bucket := buildBucket(existing, addrTwins, isFull)
		if err := r.store.ReplaceBucket(ctx, addr, bucket); err != nil {
			return err
		}
		twinCount += len(addrTwins)
	}
	kind := "delta"
	if isFull {
		kind = "full"
	}
	metrics.SyncTwinsProcessed.WithLabelValues(kind).Add(float64(twinCount))
	return nil
}

func (r *Reconciler) getLastFullSync() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFullSync
}

func (r *Reconciler) setLastFullSync(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFullSync = t
}

// mergeEntry applies the per-DevEui merge rules: preserve PrimaryKey
// only when the incoming timestamp exactly matches what is cached;
// otherwise take the incoming record and drop PrimaryKey so
// credentials are re-fetched lazily.
func mergeEntry(existing devaddrcache.Info, twin registry.Twin) devaddrcache.Info {
	merged := devaddrcache.NewInfo(twin.DevEui, twin.DevAddr, twin.GatewayId, twin.NwkSKey, "", twin.LastUpdated)
	if !existing.IsNegative() && existing.DevEUI == twin.DevEui && existing.LastUpdatedTwins.Equal(twin.LastUpdated) {
		merged.PrimaryKey = existing.PrimaryKey
	}
	return merged
}

// buildBucket merges a batch of twins for one DevAddr against the
// existing bucket. For a full reload, DevEuis not present in the
// batch are dropped; for a delta reload they are retained, since a
// delta only carries partial knowledge of the registry.
func buildBucket(existing map[string]devaddrcache.Info, twins []registry.Twin, isFull bool) map[string]devaddrcache.Info {
	result := make(map[string]devaddrcache.Info, len(twins))
	seen := make(map[string]bool, len(twins))

	for _, twin := range twins {
		field := twin.DevEui.String()
		seen[field] = true
		result[field] = mergeEntry(existing[field], twin)
	}

	if !isFull {
		for field, info := range existing {
			if !seen[field] {
				result[field] = info
			}
		}
	}
	return result
}

func groupByAddr(twins []registry.Twin) map[frame.DevAddr][]registry.Twin {
	byAddr := make(map[frame.DevAddr][]registry.Twin)
	for _, twin := range twins {
		byAddr[twin.DevAddr] = append(byAddr[twin.DevAddr], twin)
	}
	return byAddr
}

func fetchAllTwins(ctx context.Context, fetch func(ctx context.Context, pageToken string) (registry.Page, error)) ([]registry.Twin, error) {
	var all []registry.Twin
	token := ""
	for {
		page, err := fetch(ctx, token)
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
