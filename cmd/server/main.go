// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

/*
Package main is the entry point for the ns-devaddr-cache server.

ns-devaddr-cache is a LoRaWAN network-server support layer providing
concentrator-level deduplication of uplink and join observations (C1/C2)
and a Redis-backed DevAddr cache kept current against an upstream device
registry (C3/C4/C5).

# Application Architecture

The server implements a layered architecture with Suture v4 process
supervision:

	RootSupervisor ("ns-devaddr-cache")
	├── sync-layer
	│   └── Registry synchroniser (C4)
	├── dispatch-layer
	│   └── Deduplication-decision event router
	└── api-layer
	    └── Health/metrics/diagnostic HTTP server

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and an optional
    config file
 2. Logging: zerolog with JSON/console output modes
 3. Redis: connection backing the DevAddr cache (C3) and its leases
 4. Registry client: HTTP client wrapped in a circuit breaker
 5. Dedup cache: the in-process Concentrator Deduplication Cache (C2)
 6. DevAddr store: the Redis-backed cache of device info (C3)
 7. Registry synchroniser: periodic full/delta reload under lease (C4)
 8. Device resolver: DevAddr lookups with registry fallback (C5)
 9. Dispatch: the deduplication-decision event transport
 10. Supervisor tree: Suture v4 process supervision
 11. HTTP server: chi router exposing health, metrics, and diagnostics

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	# Redis (C3 backing store)
	REDIS_ADDR=localhost:6379
	REDIS_PASSWORD=
	REDIS_DB=0

	# Registry (upstream device source of truth)
	REGISTRY_BASE_URL=http://registry.internal:8080
	REGISTRY_API_KEY=<token>

	# Dedup (C1/C2)
	DEDUP_MODE=drop              # drop, mark, or none
	DEDUP_TTL=5m

	# Server
	SERVER_PORT=8091
	LOG_LEVEL=info                # trace, debug, info, warn, error
	LOG_FORMAT=json                # json or console

See internal/config for the complete configuration reference.

# Build Tags

	go build ./cmd/server                # gochannel transport (default)
	go build -tags nats ./cmd/server     # NATS JetStream transport

The build tag only changes which internal/dispatch.PubSub implementation
is compiled in; the supervisor tree and every other component are
unaffected.

# Signal Handling

The server handles graceful shutdown on SIGINT and SIGTERM:

 1. Stops accepting new HTTP connections
 2. Waits for in-flight requests (server timeout)
 3. Stops the registry synchroniser and dispatch router
 4. Reports any services that failed to stop
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chirpstack/ns-devaddr-cache/internal/api"
	"github.com/chirpstack/ns-devaddr-cache/internal/config"
	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/devaddrcache"
	"github.com/chirpstack/ns-devaddr-cache/internal/deviceresolver"
	"github.com/chirpstack/ns-devaddr-cache/internal/dispatch"
	"github.com/chirpstack/ns-devaddr-cache/internal/leasesync"
	"github.com/chirpstack/ns-devaddr-cache/internal/logging"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
	"github.com/chirpstack/ns-devaddr-cache/internal/registry"
	"github.com/chirpstack/ns-devaddr-cache/internal/supervisor"
	"github.com/chirpstack/ns-devaddr-cache/internal/supervisor/services"
)

// buildVersion is overridden at build time via -ldflags.
var buildVersion = "dev"

//nolint:gocyclo // main initialization has sequential setup steps, not branching complexity
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("starting ns-devaddr-cache")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing redis client")
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logging.Warn().Err(err).Msg("redis not reachable at startup, will keep retrying")
	} else {
		logging.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}
	pingCancel()

	registryHTTP := registry.NewHTTPClient(registry.HTTPClientConfig{
		BaseURL:        cfg.Registry.BaseURL,
		APIKey:         cfg.Registry.APIKey,
		Timeout:        cfg.Registry.Timeout,
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,
	})
	registryClient := registry.NewCircuitBreakerClient(registryHTTP)

	dedupCache := dedup.New(cfg.Dedup.TTL)

	store := devaddrcache.New(rdb)

	reconciler, err := leasesync.New(ctx, registryClient, store, leasesync.Config{
		FullSuccessTTL:  cfg.LeaseSync.FullSuccessTTL,
		FullFailureTTL:  cfg.LeaseSync.FullFailureTTL,
		GlobalUpdateTTL: cfg.LeaseSync.GlobalUpdateTTL,
		Interval:        cfg.LeaseSync.Interval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize registry synchroniser")
	}

	resolver := deviceresolver.New(store, registryClient, deviceresolver.Config{
		MissLeaseTTL: cfg.Resolver.MissLeaseTTL,
		PollInterval: cfg.Resolver.PollInterval,
	})

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.Topic = cfg.Dispatch.Topic
	dispatchCfg.URL = cfg.Dispatch.NATSURL
	dispatchCfg.StreamName = cfg.Dispatch.StreamName
	dispatchCfg.DurableName = cfg.Dispatch.DurableName
	dispatchCfg.QueueGroup = cfg.Dispatch.QueueGroup
	dispatchCfg.SubscribersCount = cfg.Dispatch.SubscribersCount
	dispatchCfg.AckWaitTimeout = cfg.Dispatch.AckWaitTimeout
	dispatchCfg.CloseTimeout = cfg.Dispatch.CloseTimeout

	pubsub, err := dispatch.NewPubSub(dispatchCfg, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize dispatch transport")
	}
	defer func() {
		if err := pubsub.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing dispatch transport")
		}
	}()

	dispatchRouter, err := dispatch.NewRouter(dispatchCfg.Router, pubsub.Publisher(), nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize dispatch router")
	}
	dispatcher := dispatch.NewDispatcher(pubsub.Publisher(), dispatchCfg.Topic)

	handler := api.NewHandler(dedupCache, store, resolver, rdb)
	handler.SetDispatcher(dispatcher)
	apiRouter := api.NewRouter(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiRouter.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	tree.AddSyncService(services.NewSyncService(reconciler))
	tree.AddDispatchService(dispatchRouter)
	tree.AddAPIService(services.NewHTTPServerService(httpServer, 10*time.Second))
	logging.Info().Msg("sync, dispatch, and api services added to supervisor tree")

	metrics.AppInfo.WithLabelValues(buildVersion, runtime.Version()).Set(1)
	startTime := time.Now()
	go reportUptime(ctx, startTime)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", httpServer.Addr).Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}

	logging.Info().Msg("ns-devaddr-cache stopped gracefully")
}

// reportUptime keeps the app_uptime_seconds gauge current until ctx is
// canceled.
func reportUptime(ctx context.Context, startTime time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.AppUptime.Set(time.Since(startTime).Seconds())
		}
	}
}
