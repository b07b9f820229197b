// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/deviceresolver"
	"github.com/chirpstack/ns-devaddr-cache/internal/devaddrcache"
	"github.com/chirpstack/ns-devaddr-cache/internal/dispatch"
)

// Handler holds every dependency the HTTP surface needs to answer
// health, metrics, and diagnostic requests. It is deliberately a thin
// read path: the dispatch layer owns the write path for deduplication
// decisions, though the diagnostic dedup-check endpoint publishes the
// same Event a live decision would, so operators can watch it flow
// through the configured transport end to end.
type Handler struct {
	dedupCache *dedup.Cache
	store      *devaddrcache.Store
	resolver   *deviceresolver.Resolver
	dispatcher *dispatch.Dispatcher
	redis      redis.Cmdable
	startTime  time.Time
}

// NewHandler constructs a Handler. Any of store, resolver may be nil
// if that subsystem is not wired into this deployment - the affected
// diagnostic endpoints report unavailable rather than panicking.
func NewHandler(dedupCache *dedup.Cache, store *devaddrcache.Store, resolver *deviceresolver.Resolver, rdb redis.Cmdable) *Handler {
	return &Handler{
		dedupCache: dedupCache,
		store:      store,
		resolver:   resolver,
		redis:      rdb,
		startTime:  time.Now(),
	}
}

// SetDispatcher wires a Dispatcher into the handler so the diagnostic
// dedup-check endpoint publishes its decision, in addition to
// returning it in the HTTP response. Optional - a nil dispatcher
// simply skips publication.
func (h *Handler) SetDispatcher(d *dispatch.Dispatcher) {
	h.dispatcher = d
}

// pingRedis reports whether the backing Redis instance is reachable.
func (h *Handler) pingRedis(ctx context.Context) bool {
	if h.redis == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.redis.Ping(ctx).Err() == nil
}
