// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to manage Docker containers for integration tests,
// providing realistic testing environments that closely match production.
//
// # Redis Container
//
// The RedisContainer provides a real Redis instance for testing the
// devaddr cache store (C3) against actual hash, TTL and SETNX semantics
// instead of an in-memory fake:
//
//	func TestStoreAgainstRealRedis(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    rc, err := testinfra.NewRedisContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, rc.Container)
//
//	    rdb := redis.NewClient(&redis.Options{Addr: rc.Addr})
//	    store := devaddrcache.New(rdb)
//	    // exercise GetBucket/PutEntry/ReplaceBucket/TakeLease against a
//	    // real server
//	}
//
// # Dispatch Sink
//
// DispatchSink stands in for the upstream consumer C2's classification
// results are dispatched to, letting dispatch router tests assert on
// what was actually delivered rather than trusting an in-process stub.
//
// # Benefits Over Mocks
//
// Using real containers provides several advantages:
//   - Tests validate actual protocol semantics (atomicity, TTL expiry, pipelining)
//   - No mock drift (mocks getting out of sync with the real server)
//   - Tests run against production-equivalent services
//
// # CI Considerations
//
// These tests require Docker and network access, and are gated behind
// the "integration" build tag. In CI:
//   - Self-hosted runners have Docker pre-installed
//   - Container images are cached between runs
//   - Tests are skipped gracefully if Docker is unavailable
package testinfra
