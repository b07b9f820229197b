// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package api exposes the operator-facing HTTP surface: liveness and
// readiness probes, Prometheus metrics, and a small set of diagnostic
// endpoints for exercising the deduplication cache and device resolver
// outside of their normal dispatch-driven call paths.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/chirpstack/ns-devaddr-cache/internal/logging"
)

// response is the standard envelope for every JSON endpoint in this
// package.
type response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, resp response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.CtxErr(r.Context(), err).Msg("api: failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, r, http.StatusOK, response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	writeJSON(w, r, statusCode, response{Status: "error", Error: err.Error()})
}

// requestTimeout bounds how long a diagnostic handler waits on its
// downstream call before giving up.
const requestTimeout = 10 * time.Second
