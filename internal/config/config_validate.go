// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package config

import (
	"fmt"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
)

// validateRedis validates the Redis connection configuration.
func (c *Config) validateRedis() error {
	if c.Redis.Addr == "" {
		return requiredFieldError("REDIS_ADDR")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("REDIS_DB must be non-negative, got %d", c.Redis.DB)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("REDIS_POOL_SIZE must be non-negative, got %d", c.Redis.PoolSize)
	}
	return nil
}

// validateRegistry validates the upstream device registry client configuration.
func (c *Config) validateRegistry() error {
	if c.Registry.BaseURL == "" {
		return requiredFieldError("REGISTRY_BASE_URL")
	}
	if err := validateHTTPURL(c.Registry.BaseURL, "REGISTRY_BASE_URL"); err != nil {
		return fmt.Errorf("REGISTRY_BASE_URL is invalid: %w", err)
	}
	if c.Registry.Timeout <= 0 {
		return positiveDurationError("REGISTRY_TIMEOUT", c.Registry.Timeout)
	}
	return nil
}

// validDedupModes defines the allowed concentrator deduplication modes.
var validDedupModes = map[string]dedup.DeduplicationMode{
	"drop": dedup.ModeDrop,
	"mark": dedup.ModeMark,
	"none": dedup.ModeNone,
}

// validateDedup validates the concentrator deduplication cache configuration.
func (c *Config) validateDedup() error {
	if _, ok := validDedupModes[c.Dedup.Mode]; !ok {
		return fmt.Errorf("DEDUP_MODE must be one of: drop, mark, none")
	}
	if c.Dedup.TTL <= 0 {
		return positiveDurationError("DEDUP_TTL", c.Dedup.TTL)
	}
	return nil
}

// ParsedMode returns the parsed DeduplicationMode for the configured Dedup.Mode.
// Validate must have already confirmed Mode is one of the recognized values.
func (d DedupConfig) ParsedMode() dedup.DeduplicationMode {
	return validDedupModes[d.Mode]
}

// validateLeaseSync validates the registry synchroniser configuration.
func (c *Config) validateLeaseSync() error {
	durations := map[string]time.Duration{
		"LEASE_SYNC_FULL_SUCCESS_TTL":  c.LeaseSync.FullSuccessTTL,
		"LEASE_SYNC_FULL_FAILURE_TTL":  c.LeaseSync.FullFailureTTL,
		"LEASE_SYNC_GLOBAL_UPDATE_TTL": c.LeaseSync.GlobalUpdateTTL,
		"LEASE_SYNC_INTERVAL":          c.LeaseSync.Interval,
	}
	for field, d := range durations {
		if d <= 0 {
			return positiveDurationError(field, d)
		}
	}
	if c.LeaseSync.Interval >= c.LeaseSync.FullSuccessTTL {
		return fmt.Errorf("LEASE_SYNC_INTERVAL (%s) must be shorter than LEASE_SYNC_FULL_SUCCESS_TTL (%s), or the lease will expire between runs",
			c.LeaseSync.Interval, c.LeaseSync.FullSuccessTTL)
	}
	return nil
}

// validateResolver validates the device getter configuration.
func (c *Config) validateResolver() error {
	if c.Resolver.MissLeaseTTL <= 0 {
		return positiveDurationError("RESOLVER_MISS_LEASE_TTL", c.Resolver.MissLeaseTTL)
	}
	if c.Resolver.PollInterval <= 0 {
		return positiveDurationError("RESOLVER_POLL_INTERVAL", c.Resolver.PollInterval)
	}
	return nil
}

// validateDispatch validates the deduplication-decision event transport
// configuration. The NATS fields are only exercised by servers built with
// the "nats" tag, but are validated unconditionally since a misconfigured
// value would otherwise surface as a confusing runtime connection failure.
func (c *Config) validateDispatch() error {
	if c.Dispatch.Topic == "" {
		return requiredFieldError("DISPATCH_TOPIC")
	}
	if c.Dispatch.NATSURL == "" {
		return nil
	}
	if err := validateNATSURL(c.Dispatch.NATSURL); err != nil {
		return fmt.Errorf("DISPATCH_NATS_URL is invalid: %w", err)
	}
	if c.Dispatch.SubscribersCount < 0 {
		return fmt.Errorf("DISPATCH_SUBSCRIBERS_COUNT must be non-negative, got %d", c.Dispatch.SubscribersCount)
	}
	return nil
}

// validateServer validates the operator-facing HTTP server configuration.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return positiveDurationError("SERVER_TIMEOUT", c.Server.Timeout)
	}
	return nil
}

// validLogLevels defines the allowed log levels.
var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validLogFormats defines the allowed log formats.
var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// validateLogging validates the structured logging configuration.
func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}
