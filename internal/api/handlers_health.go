// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"net/http"
	"time"
)

// HealthLive answers the Kubernetes-style liveness probe: 200 as long
// as the process is running, independent of any dependency.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, r, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady answers the Kubernetes-style readiness probe: 200 only
// if Redis - the backing store for C3's buckets and leases - is
// reachable. The dedup cache (C2) is in-process and always ready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	redisOK := h.pingRedis(r.Context())

	status := http.StatusOK
	if !redisOK {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, r, status, response{
		Status: readyStatus(redisOK),
		Data: map[string]interface{}{
			"redis_connected": redisOK,
			"uptime":          time.Since(h.startTime).Seconds(),
		},
	})
}

func readyStatus(ready bool) string {
	if ready {
		return "ready"
	}
	return "not_ready"
}
