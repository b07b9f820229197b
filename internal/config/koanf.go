// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ns-devaddr-cache/config.yaml",
	"/etc/ns-devaddr-cache/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:         "127.0.0.1:6379",
			Password:     "",
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Registry: RegistryConfig{
			BaseURL: "",
			APIKey:  "",
			Timeout: 5 * time.Second,
		},
		Dedup: DedupConfig{
			Mode: "drop",
			TTL:  5 * time.Minute,
		},
		LeaseSync: LeaseSyncConfig{
			FullSuccessTTL:  10 * time.Minute,
			FullFailureTTL:  time.Minute,
			GlobalUpdateTTL: time.Minute,
			Interval:        2 * time.Minute,
		},
		Resolver: ResolverConfig{
			MissLeaseTTL: 30 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			Topic:            "dedup.decisions",
			NATSURL:          "nats://127.0.0.1:4222",
			StreamName:       "DEDUP_DECISIONS",
			DurableName:      "ns-devaddr-cache",
			QueueGroup:       "dedup-consumers",
			SubscribersCount: 4,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// This function is the preferred way to load configuration and provides:
//   - Type-safe configuration unmarshaling
//   - Clear precedence: ENV > File > Defaults
//   - Support for nested configuration via koanf struct tags
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// REDIS_ADDR -> redis.addr
	// REGISTRY_BASE_URL -> registry.base_url
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	// Unmarshal into Config struct
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices.
// The current Config has no slice-typed fields, but the hook is kept so a
// future field (e.g. a list of registry mirror URLs) only needs an entry here.
var sliceConfigPaths = []string{}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		// If it's a string, split by comma
		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - REDIS_ADDR -> redis.addr
//   - REGISTRY_BASE_URL -> registry.base_url
//   - DEDUP_MODE -> dedup.mode
//   - SERVER_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Redis mappings
		"redis_addr":          "redis.addr",
		"redis_password":      "redis.password",
		"redis_db":            "redis.db",
		"redis_dial_timeout":  "redis.dial_timeout",
		"redis_read_timeout":  "redis.read_timeout",
		"redis_write_timeout": "redis.write_timeout",
		"redis_pool_size":     "redis.pool_size",

		// Registry mappings
		"registry_base_url": "registry.base_url",
		"registry_api_key":  "registry.api_key",
		"registry_timeout":  "registry.timeout",

		// Dedup mappings
		"dedup_mode": "dedup.mode",
		"dedup_ttl":  "dedup.ttl",

		// Lease synchroniser mappings
		"lease_sync_full_success_ttl":  "lease_sync.full_success_ttl",
		"lease_sync_full_failure_ttl":  "lease_sync.full_failure_ttl",
		"lease_sync_global_update_ttl": "lease_sync.global_update_ttl",
		"lease_sync_interval":          "lease_sync.interval",

		// Device resolver mappings
		"resolver_miss_lease_ttl": "resolver.miss_lease_ttl",
		"resolver_poll_interval":  "resolver.poll_interval",

		// Dispatch mappings
		"dispatch_topic":             "dispatch.topic",
		"dispatch_nats_url":          "dispatch.nats_url",
		"dispatch_stream_name":       "dispatch.stream_name",
		"dispatch_durable_name":      "dispatch.durable_name",
		"dispatch_queue_group":       "dispatch.queue_group",
		"dispatch_subscribers_count": "dispatch.subscribers_count",
		"dispatch_ack_wait_timeout":  "dispatch.ack_wait_timeout",
		"dispatch_close_timeout":     "dispatch.close_timeout",

		// Server mappings
		"server_host":    "server.host",
		"server_port":    "server.port",
		"server_timeout": "server.timeout",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them.
	// This prevents random environment variables from polluting config.
	return ""
}

// GetKoanfInstance returns a new Koanf instance for advanced usage.
// This is useful for:
//   - Hot-reload scenarios (with proper mutex protection)
//   - Custom configuration sources
//   - Testing with mock configurations
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// Note: The caller is responsible for mutex protection when accessing
// configuration during reloads.
//
// Example usage:
//
//	var cfgMu sync.RWMutex
//	var cfg *Config
//
//	err := WatchConfigFile(configPath, func() {
//	    cfgMu.Lock()
//	    defer cfgMu.Unlock()
//	    newCfg, err := LoadWithKoanf()
//	    if err != nil {
//	        log.Printf("config reload failed: %v", err)
//	        return
//	    }
//	    cfg = newCfg
//	    log.Println("configuration reloaded successfully")
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	// Start watching the file for changes
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
