// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/validation"
)

var errSubsystemUnavailable = errors.New("api: subsystem not configured for this deployment")

// parseEuiHex parses the colon-separated hex form frame.DevEui.String
// (and its siblings) produce. StationEui and JoinEui carry no
// UnmarshalJSON of their own - they're derived fields this diagnostic
// surface is the only place that needs to parse from text.
func parseEuiHex(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	clean := strings.ReplaceAll(s, ":", "")
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) != 8 {
		return 0, errors.New("api: invalid EUI " + strconv.Quote(s))
	}
	var v uint64
	for _, octet := range raw {
		v = v<<8 | uint64(octet)
	}
	return v, nil
}

// resolveRequest is the wire shape for a one-off device resolution,
// mirroring the arguments the LNS passes at join/uplink time.
type resolveRequest struct {
	StationEui string `json:"station_eui" validate:"required"`
	GatewayId  string `json:"gateway_id" validate:"required"`
	DevNonce   uint32 `json:"dev_nonce"`
	DevAddr    string `json:"dev_addr" validate:"required,hexadecimal"`
}

// Resolve answers a one-off C5 lookup: given a DevAddr and requesting
// gateway, returns the candidate devices and their credentials. Useful
// for operators diagnosing why a station's uplinks aren't matching a
// device without replaying live traffic.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		writeError(w, r, http.StatusServiceUnavailable, errSubsystemUnavailable)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		writeError(w, r, http.StatusBadRequest, verr)
		return
	}

	var devAddr frame.DevAddr
	if err := devAddr.UnmarshalJSON([]byte(strconv.Quote(req.DevAddr))); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	stationEuiVal, err := parseEuiHex(req.StationEui)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	stationEui := frame.StationEui(stationEuiVal)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	devices, err := h.resolver.Resolve(ctx, stationEui, req.GatewayId, frame.DevNonce(req.DevNonce), devAddr)
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}

	writeSuccess(w, r, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

// dedupCheckRequest is the wire shape for a one-off C2 classification,
// mirroring the fields a parsed uplink or join request carries.
type dedupCheckRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=data join"`
	DevEui       string `json:"dev_eui" validate:"required"`
	StationEui   string `json:"station_eui" validate:"required"`
	Mic          uint32 `json:"mic,omitempty"`
	FrameCounter uint32 `json:"frame_counter,omitempty"`
	JoinEui      string `json:"join_eui,omitempty"`
	DevNonce     uint32 `json:"dev_nonce,omitempty"`
	Mode         string `json:"dedup_mode,omitempty" validate:"omitempty,oneof=drop mark none"`
}

// CheckDuplicate answers a one-off C2 classification, letting an
// operator verify the cache's current view of a (DevEui, Mic,
// FrameCounter) or (JoinEui, DevEui, DevNonce) triple without waiting
// for the next live observation.
func (h *Handler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	if h.dedupCache == nil {
		writeError(w, r, http.StatusServiceUnavailable, errSubsystemUnavailable)
		return
	}

	var req dedupCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		writeError(w, r, http.StatusBadRequest, verr)
		return
	}

	var devEui frame.DevEui
	if err := devEui.UnmarshalJSON([]byte(strconv.Quote(req.DevEui))); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	stationEuiVal, err := parseEuiHex(req.StationEui)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	stationEui := frame.StationEui(stationEuiVal)

	switch req.Kind {
	case "data":
		h.checkDuplicateData(w, r, req, devEui, stationEui)
	case "join":
		h.checkDuplicateJoin(w, r, req, devEui, stationEui)
	default:
		writeError(w, r, http.StatusBadRequest, errors.New("api: kind must be \"data\" or \"join\""))
	}
}
