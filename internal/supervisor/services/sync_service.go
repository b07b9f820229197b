// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package services

import (
	"context"
	"fmt"
)

// StartStopManager abstracts a background worker's Start/Stop lifecycle,
// letting SyncService adapt it to suture's Serve pattern without coupling
// to a concrete type.
//
// Satisfied by the registry synchroniser (internal/leasesync.Reconciler):
//   - Start(ctx context.Context) error
//   - Stop() error
type StartStopManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// SyncService wraps a StartStopManager as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the worker
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown
//
// The wrapped worker handles its own goroutines internally, so this
// wrapper simply orchestrates the lifecycle transitions.
type SyncService struct {
	manager StartStopManager
	name    string
}

// NewSyncService creates a new sync service wrapper.
//
// Example usage:
//
//	reconciler, err := leasesync.New(ctx, registryClient, store, cfg)
//	svc := services.NewSyncService(reconciler)
//	tree.AddSyncService(svc)
func NewSyncService(manager StartStopManager) *SyncService {
	return &SyncService{
		manager: manager,
		name:    "registry-synchroniser",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the worker (which spawns its internal goroutines)
//  2. Blocks until the context is canceled
//  3. Stops the worker (which waits for its goroutines to complete)
//
// If Start() fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *SyncService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("registry synchroniser start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		// We are shutting down regardless; the context error is the
		// primary cause, so surface stop failures without masking it.
		return fmt.Errorf("registry synchroniser stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *SyncService) String() string {
	return s.name
}
