// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

/*
Package services provides suture.Service wrappers for ns-devaddr-cache components.

This package adapts the service's components to the suture v4 supervision
model, translating two lifecycle patterns (Start/Stop, ListenAndServe) into
suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Stop or ListenAndServe to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining connections
  - Serves /healthz/live, /healthz/ready and /metrics for operators

Registry Synchroniser (SyncService):
  - Wraps the leasesync reconciler's Start/Stop lifecycle
  - Drives periodic full and delta reloads of the DevAddr cache
  - Reconciler failures restart the worker; lease contention does not

# Usage Example

Creating and registering services:

	import (
	    "net/http"
	    "time"

	    "github.com/chirpstack/ns-devaddr-cache/internal/supervisor"
	    "github.com/chirpstack/ns-devaddr-cache/internal/supervisor/services"
	)

	func setupSupervisor(server *http.Server, reconciler *leasesync.Reconciler) {
	    tree, _ := supervisor.NewSupervisorTree(logger, config)

	    httpSvc := services.NewHTTPServerService(server, 10*time.Second)
	    tree.AddAPIService(httpSvc)

	    syncSvc := services.NewSyncService(reconciler)
	    tree.AddSyncService(syncSvc)

	    tree.Serve(ctx)
	}

# Lifecycle Patterns

Start/Stop Pattern (SyncService):

	type StartStopManager interface {
	    Start(ctx context.Context) error
	    Stop() error
	}

	// Wrapped as:
	func (s *SyncService) Serve(ctx context.Context) error {
	    if err := s.manager.Start(ctx); err != nil {
	        return err
	    }
	    <-ctx.Done()
	    return s.manager.Stop()
	}

ListenAndServe Pattern (HTTPServerService):

	type HTTPServer interface {
	    ListenAndServe() error
	    Shutdown(ctx context.Context) error
	}

	// Wrapped as:
	func (s *HTTPServerService) Serve(ctx context.Context) error {
	    go s.server.ListenAndServe()
	    <-ctx.Done()
	    return s.server.Shutdown(shutdownCtx)
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

# Service Identification

All services implement fmt.Stringer for logging:

	func (s *HTTPServerService) String() string {
	    return "http-server"
	}

Suture uses this for log messages:

	INFO http-server: starting
	INFO registry-synchroniser: restarting after failure

# Testing

Services are tested with mock components satisfying the narrow
HTTPServer / StartStopManager interfaces, so no real HTTP listener or
registry client is required.

# Thread Safety

All service wrappers are safe for concurrent use:
  - State is protected by mutexes where needed
  - Context cancellation is handled atomically
  - Multiple Serve calls on the same instance are not supported

# See Also

  - internal/supervisor: SupervisorTree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
  - internal/leasesync: registry synchroniser wrapped by SyncService
*/
package services
