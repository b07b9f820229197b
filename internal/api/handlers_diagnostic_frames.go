// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"context"
	"net/http"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/dispatch"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/logging"
)

// dedupModesByName mirrors internal/config's DEDUP_MODE vocabulary for
// the diagnostic endpoint, which accepts the same three values an
// operator would set in configuration.
var dedupModesByName = map[string]dedup.DeduplicationMode{
	"drop": dedup.ModeDrop,
	"mark": dedup.ModeMark,
	"none": dedup.ModeNone,
}

func (h *Handler) checkDuplicateData(w http.ResponseWriter, r *http.Request, req dedupCheckRequest, devEui frame.DevEui, stationEui frame.StationEui) {
	mode, ok := dedupModesByName[req.Mode]
	if !ok {
		mode = dedup.ModeDrop
	}

	df := frame.NewDataFrame(devEui, frame.Mic(req.Mic), frame.FrameCounter(req.FrameCounter), stationEui)
	result, err := h.dedupCache.CheckDuplicateData(df, dedup.Device{Deduplication: mode})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if key, keyErr := frame.DataKey(df); keyErr == nil {
		h.publishDecision(r.Context(), dispatch.NewDataEvent(key, stationEui, result))
	}

	writeSuccess(w, r, map[string]interface{}{
		"result":       result.String(),
		"is_duplicate": result != dedup.NotDuplicate,
	})
}

// publishDecision forwards a diagnostic dedup decision onto the
// configured dispatch transport, mirroring what a live observation
// would publish. It is best-effort: a publish failure is logged, not
// surfaced to the caller, since the HTTP response already reflects the
// cache's authoritative answer.
func (h *Handler) publishDecision(ctx context.Context, ev dispatch.Event) {
	if h.dispatcher == nil {
		return
	}
	if err := h.dispatcher.Publish(ctx, ev); err != nil {
		logging.CtxErr(ctx, err).Msg("api: failed to publish dedup decision")
	}
}

func (h *Handler) checkDuplicateJoin(w http.ResponseWriter, r *http.Request, req dedupCheckRequest, devEui frame.DevEui, stationEui frame.StationEui) {
	joinEuiVal, err := parseEuiHex(req.JoinEui)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	joinEui := frame.JoinEui(joinEuiVal)

	jf := frame.NewJoinFrame(joinEui, devEui, frame.DevNonce(req.DevNonce), stationEui)
	result, err := h.dedupCache.CheckDuplicateJoin(jf)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if key, keyErr := frame.JoinKey(jf); keyErr == nil {
		h.publishDecision(r.Context(), dispatch.NewJoinEvent(key, stationEui, result))
	}

	writeSuccess(w, r, map[string]interface{}{
		"result":       result.String(),
		"is_duplicate": result != dedup.NotDuplicate,
	})
}
