// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

//go:build integration

package leasesync

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chirpstack/ns-devaddr-cache/internal/devaddrcache"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/registry"
	"github.com/chirpstack/ns-devaddr-cache/internal/testinfra"
)

func newTestStore(t *testing.T) (*devaddrcache.Store, func()) {
	t.Helper()
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	rc, err := testinfra.NewRedisContainer(ctx)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr})
	cleanup := func() {
		rdb.Close()
		testinfra.CleanupContainer(t, ctx, rc.Container)
	}
	return devaddrcache.New(rdb), cleanup
}

func testConfig() Config {
	return Config{
		FullSuccessTTL:  time.Hour,
		FullFailureTTL:  time.Second,
		GlobalUpdateTTL: time.Minute,
		Interval:        time.Hour,
	}
}

// Scenario 9: full reload lease failure - a second reconciler must not
// also run a full reload while the first holds fullUpdateKey, and must
// fall back to a delta instead.
func TestFullReloadLeaseFailureFallsBackToDelta(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	fake := registry.NewFake()
	fake.SeedTwin(registry.Twin{
		DevEui:      frame.DevEui(1),
		DevAddr:     frame.DevAddr(100),
		LastUpdated: time.Now().UTC(),
	})

	acquired, err := store.TakeLease(ctx, devaddrcache.FullUpdateKey, time.Hour)
	if err != nil || !acquired {
		t.Fatalf("expected to seize fullUpdateKey, acquired=%v err=%v", acquired, err)
	}

	r, err := New(ctx, fake, store, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.PerformNeededSyncs(ctx); err != nil {
		t.Fatalf("PerformNeededSyncs: %v", err)
	}

	if fake.FullReloadCalls() != 0 {
		t.Errorf("expected no full reload while fullUpdateKey is held, got %d", fake.FullReloadCalls())
	}
	if fake.DeltaReloadCalls() == 0 {
		t.Error("expected a delta reload to run instead")
	}
}

// Scenario 10: full reload, merge preserves PrimaryKey when the
// incoming timestamp matches what is cached.
func TestFullReloadMergePreservesPrimaryKeyOnMatchingTimestamp(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	addr := frame.DevAddr(200)
	devEui := frame.DevEui(2)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	existing := devaddrcache.NewInfo(devEui, addr, "gw-old", "nwkskey", "preserved-secret", ts)
	if err := store.PutEntry(ctx, addr, existing); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	fake := registry.NewFake()
	fake.SeedTwin(registry.Twin{DevEui: devEui, DevAddr: addr, GatewayId: "gw-new", LastUpdated: ts})

	r, err := New(ctx, fake, store, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.runFullReload(ctx); err != nil {
		t.Fatalf("runFullReload: %v", err)
	}

	bucket, err := store.GetBucket(ctx, addr)
	if err != nil {
		t.Fatalf("get bucket: %v", err)
	}
	got, ok := bucket[devEui.String()]
	if !ok {
		t.Fatal("expected entry to survive full reload")
	}
	if got.PrimaryKey != "preserved-secret" {
		t.Errorf("expected PrimaryKey preserved on matching timestamp, got %q", got.PrimaryKey)
	}
	if got.GatewayId != "gw-new" {
		t.Errorf("expected GatewayId updated from incoming twin, got %q", got.GatewayId)
	}
}

// Scenario 11: full reload, differing timestamp clears PrimaryKey.
func TestFullReloadDifferingTimestampClearsPrimaryKey(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	addr := frame.DevAddr(300)
	devEui := frame.DevEui(3)
	oldTS := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newTS := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	existing := devaddrcache.NewInfo(devEui, addr, "gw", "nwkskey", "stale-secret", oldTS)
	if err := store.PutEntry(ctx, addr, existing); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	fake := registry.NewFake()
	fake.SeedTwin(registry.Twin{DevEui: devEui, DevAddr: addr, LastUpdated: newTS})

	r, err := New(ctx, fake, store, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.runFullReload(ctx); err != nil {
		t.Fatalf("runFullReload: %v", err)
	}

	bucket, err := store.GetBucket(ctx, addr)
	if err != nil {
		t.Fatalf("get bucket: %v", err)
	}
	got, ok := bucket[devEui.String()]
	if !ok {
		t.Fatal("expected entry to survive full reload")
	}
	if got.PrimaryKey != "" {
		t.Errorf("expected PrimaryKey cleared on differing timestamp, got %q", got.PrimaryKey)
	}
}

// Scenario 12: delta reload preserves unseen entries, while a full
// reload over the same input removes them.
func TestDeltaReloadPreservesUnseenEntriesFullReloadRemovesThem(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	addr := frame.DevAddr(400)
	staleDevEui := frame.DevEui(4)
	freshDevEui := frame.DevEui(5)

	stale := devaddrcache.NewInfo(staleDevEui, addr, "gw-stale", "", "", time.Now().UTC())
	if err := store.PutEntry(ctx, addr, stale); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	fake := registry.NewFake()
	fake.SeedTwin(registry.Twin{DevEui: freshDevEui, DevAddr: addr, LastUpdated: time.Now().UTC()})

	r, err := New(ctx, fake, store, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := r.runDeltaReload(ctx); err != nil {
		t.Fatalf("runDeltaReload: %v", err)
	}
	bucket, err := store.GetBucket(ctx, addr)
	if err != nil {
		t.Fatalf("get bucket after delta: %v", err)
	}
	if _, ok := bucket[staleDevEui.String()]; !ok {
		t.Error("expected delta reload to retain the unseen stale entry")
	}
	if _, ok := bucket[freshDevEui.String()]; !ok {
		t.Error("expected delta reload to add the fresh entry")
	}

	if err := r.runFullReload(ctx); err != nil {
		t.Fatalf("runFullReload: %v", err)
	}
	bucket, err = store.GetBucket(ctx, addr)
	if err != nil {
		t.Fatalf("get bucket after full reload: %v", err)
	}
	if _, ok := bucket[staleDevEui.String()]; ok {
		t.Error("expected full reload to discard the stale entry not present in the incoming twin set")
	}
	if _, ok := bucket[freshDevEui.String()]; !ok {
		t.Error("expected full reload to keep the fresh entry")
	}
}

// Universal invariant: a failed full reload shortens fullUpdateKey's
// TTL so the retry happens soon, rather than waiting out the full
// success cooldown.
func TestFullReloadFailureShortensLeaseTTL(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	fake := registry.NewFake()
	r, err := New(ctx, fake, store, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A real call path always holds fullUpdateKey before attempting a
	// full reload; seed that here since this test drives runFullReload
	// directly rather than through PerformNeededSyncs.
	if _, err := store.TakeLease(ctx, devaddrcache.FullUpdateKey, 24*time.Hour); err != nil {
		t.Fatalf("seed fullUpdateKey: %v", err)
	}

	fake.FailNext(registry.ErrUnavailable)
	if err := r.runFullReload(ctx); err == nil {
		t.Fatal("expected runFullReload to fail")
	}

	ttl, err := store.GetLeaseTTL(ctx, devaddrcache.FullUpdateKey)
	if err != nil {
		t.Fatalf("get lease ttl: %v", err)
	}
	if ttl <= 0 || ttl > testConfig().FullFailureTTL {
		t.Errorf("expected shortened ttl in (0, %v], got %v", testConfig().FullFailureTTL, ttl)
	}

	if _, err := store.GetLeaseTTL(ctx, devaddrcache.GlobalUpdateKey); err != nil {
		t.Fatalf("get global lease ttl: %v", err)
	}
}
