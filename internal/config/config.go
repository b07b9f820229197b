// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration loaded from environment
// variables and an optional config file. It provides centralized
// configuration for every component of the deduplication and DevAddr
// cache service.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml) for persistent settings
//  3. Environment Variables: override any setting via environment variables
//
// Configuration Categories:
//
//  1. Redis: connection settings for the store backing the DevAddr
//     cache (C3) and the leases the synchroniser (C4) and device
//     resolver (C5) coordinate through.
//  2. Registry: the upstream device registry HTTP client, wrapped in
//     a circuit breaker before use.
//  3. Dedup: the concentrator deduplication cache's mode setting and
//     entry TTL (C1/C2).
//  4. LeaseSync: the registry synchroniser's reload cadence and the
//     TTLs of the leases it takes (C4).
//  5. Resolver: the device getter's per-DevAddr cache-miss lease TTL
//     and the poll interval of callers waiting for another caller to
//     fill the bucket (C5).
//  6. Dispatch: the deduplication-decision event transport.
//  7. Server: the operator-facing health/metrics HTTP server.
//  8. Logging: structured log level, format, and caller annotation.
//
// Example - Load configuration from environment:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    log.Fatal("failed to load config:", err)
//	}
//	// cfg.Redis.Addr, cfg.Registry.BaseURL, etc. are now populated.
//
// Validation:
// LoadWithKoanf validates all required fields and returns an error if:
//   - Required settings are missing (REDIS_ADDR, REGISTRY_BASE_URL)
//   - Values are malformed (invalid URL, non-positive duration)
//   - The dedup mode is not one of the recognized values
type Config struct {
	Redis     RedisConfig     `koanf:"redis"`
	Registry  RegistryConfig  `koanf:"registry"`
	Dedup     DedupConfig     `koanf:"dedup"`
	LeaseSync LeaseSyncConfig `koanf:"lease_sync"`
	Resolver  ResolverConfig  `koanf:"resolver"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// RedisConfig holds the connection settings for the Redis instance
// backing the DevAddr cache (C3) and its lease primitives.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	PoolSize     int           `koanf:"pool_size"`
}

// RegistryConfig holds the connection settings for the upstream device
// registry client, which internal/registry wraps in a circuit breaker
// before handing to the synchroniser and resolver.
type RegistryConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// DedupConfig tunes the concentrator deduplication cache (C1/C2).
type DedupConfig struct {
	// Mode is one of "drop", "mark", or "none"; Validate rejects any
	// other value and ParsedMode exposes the parsed form. No component
	// reads it at run time: the dedup-check endpoint takes its mode from
	// each request and falls back to drop.
	Mode string        `koanf:"mode"`
	TTL  time.Duration `koanf:"ttl"`
}

// LeaseSyncConfig tunes the registry synchroniser (C4). Field names and
// semantics mirror internal/leasesync.Config.
type LeaseSyncConfig struct {
	FullSuccessTTL  time.Duration `koanf:"full_success_ttl"`
	FullFailureTTL  time.Duration `koanf:"full_failure_ttl"`
	GlobalUpdateTTL time.Duration `koanf:"global_update_ttl"`
	Interval        time.Duration `koanf:"interval"`
}

// ResolverConfig tunes the device getter (C5). Field names and
// semantics mirror internal/deviceresolver.Config.
type ResolverConfig struct {
	MissLeaseTTL time.Duration `koanf:"miss_lease_ttl"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// DispatchConfig configures the deduplication-decision event transport.
// The NATS-specific fields are only consulted when the server is built
// with the "nats" tag; the default in-process transport only reads Topic.
type DispatchConfig struct {
	Topic            string        `koanf:"topic"`
	NATSURL          string        `koanf:"nats_url"`
	StreamName       string        `koanf:"stream_name"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// ServerConfig holds the HTTP server settings for the operator-facing
// health/metrics endpoint.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and well-formed.
// It is called automatically by LoadWithKoanf after unmarshalling.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateDedup(); err != nil {
		return err
	}
	if err := c.validateLeaseSync(); err != nil {
		return err
	}
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

// Load is the canonical entry point for reading configuration. It is an
// alias for LoadWithKoanf kept for call-site brevity.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

func requiredFieldError(field string) error {
	return fmt.Errorf("%s is required", field)
}

func positiveDurationError(field string, got time.Duration) error {
	return fmt.Errorf("%s must be a positive duration, got %s", field, got)
}
