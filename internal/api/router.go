// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// diagnosticRateLimit bounds how often a single caller may drive the
// C2/C5 diagnostic endpoints - they exist for operators to poke at
// the cache directly, not for sustained production traffic.
const (
	diagnosticRateLimitRequests = 60
	diagnosticRateLimitWindow   = time.Minute
)

// Router builds the operator-facing HTTP surface on top of a Handler.
type Router struct {
	handler *Handler
}

// NewRouter constructs a Router for handler.
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// Setup assembles the chi.Router with the global middleware stack and
// every route this service exposes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/healthz", func(r chi.Router) {
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(diagnosticRateLimitRequests, diagnosticRateLimitWindow))
		r.Post("/resolve", router.handler.Resolve)
		r.Post("/dedup/check", router.handler.CheckDuplicate)
	})

	return r
}
