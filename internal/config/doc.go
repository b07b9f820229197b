// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

/*
Package config provides centralized configuration management for the
deduplication and DevAddr cache service.

This package handles loading, validation, and parsing of environment
variables for every component of the service. It ensures consistent
configuration across the synchroniser, resolver, cache store, dispatcher
and HTTP server, and provides sensible defaults for optional settings.

# Configuration Sources

The package reads configuration from, in increasing order of precedence:
  - Built-in struct defaults
  - An optional YAML config file (config.yaml, or CONFIG_PATH)
  - Environment variables

# Configuration Structure

The package organizes configuration into logical groups:

  - RedisConfig: connection settings for the Redis instance backing the
    DevAddr cache (C3) and its lease primitives.
  - RegistryConfig: the upstream device registry HTTP client.
  - DedupConfig: the concentrator deduplication cache's mode and TTL.
  - LeaseSyncConfig: the registry synchroniser's (C4) reload cadence and
    lease TTLs.
  - ResolverConfig: the device getter's (C5) per-DevAddr cache-miss
    lease TTL and the poll interval of callers waiting for another
    caller to fill the bucket.
  - DispatchConfig: the deduplication-decision event transport.
  - ServerConfig: the operator-facing health/metrics HTTP server.
  - LoggingConfig: structured log level, format, and caller annotation.

# Environment Variables

Redis:
  - REDIS_ADDR: host:port of the Redis instance (required)
  - REDIS_PASSWORD, REDIS_DB, REDIS_DIAL_TIMEOUT, REDIS_READ_TIMEOUT,
    REDIS_WRITE_TIMEOUT, REDIS_POOL_SIZE

Registry:
  - REGISTRY_BASE_URL: base URL of the upstream device registry (required)
  - REGISTRY_API_KEY, REGISTRY_TIMEOUT

Dedup:
  - DEDUP_MODE: drop, mark, or none (default: drop)
  - DEDUP_TTL: entry TTL for the in-process cache (default: 5m)

Lease synchroniser:
  - LEASE_SYNC_FULL_SUCCESS_TTL, LEASE_SYNC_FULL_FAILURE_TTL,
    LEASE_SYNC_GLOBAL_UPDATE_TTL, LEASE_SYNC_INTERVAL

Device resolver:
  - RESOLVER_MISS_LEASE_TTL, RESOLVER_POLL_INTERVAL

Dispatch:
  - DISPATCH_TOPIC, DISPATCH_NATS_URL, DISPATCH_STREAM_NAME,
    DISPATCH_DURABLE_NAME, DISPATCH_QUEUE_GROUP,
    DISPATCH_SUBSCRIBERS_COUNT, DISPATCH_ACK_WAIT_TIMEOUT,
    DISPATCH_CLOSE_TIMEOUT

Server:
  - SERVER_HOST, SERVER_PORT, SERVER_TIMEOUT

Logging:
  - LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - LOG_FORMAT: json or console (default: json)
  - LOG_CALLER: include caller file:line (default: false)

# Usage Example

	import "github.com/chirpstack/ns-devaddr-cache/internal/config"

	cfg, err := config.Load()
	if err != nil {
	    log.Fatalf("failed to load config: %v", err)
	}

	fmt.Printf("listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("registry: %s\n", cfg.Registry.BaseURL)

Testing with custom configuration:

	os.Setenv("REDIS_ADDR", "127.0.0.1:6380")
	os.Setenv("REGISTRY_BASE_URL", "http://test-registry:8080")

	cfg, err := config.Load()
	// Use cfg for testing

# Validation

The package performs field validation via Config.Validate(), called
automatically by LoadWithKoanf:

  - Required fields: REDIS_ADDR, REGISTRY_BASE_URL, DISPATCH_TOPIC
  - Numeric ranges: SERVER_PORT (1-65535)
  - Duration positivity: all TTL and interval settings must be > 0
  - Enum membership: DEDUP_MODE (drop/mark/none), LOG_LEVEL, LOG_FORMAT
  - URL formats: REGISTRY_BASE_URL (http/https), DISPATCH_NATS_URL
    (nats/tls/ws/wss)
  - Cross-field: LEASE_SYNC_INTERVAL must be shorter than
    LEASE_SYNC_FULL_SUCCESS_TTL so the held lease never lapses between runs

# Thread Safety

The Config struct is immutable after Load() returns, making it safe for
concurrent access from multiple goroutines without synchronization.

# See Also

  - internal/leasesync: consumes LeaseSyncConfig
  - internal/deviceresolver: consumes ResolverConfig
  - internal/dispatch: consumes DispatchConfig
*/
package config
