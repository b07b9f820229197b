// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
)

func TestParseEuiHex(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"colon separated", "00:11:22:33:44:55:66:77", 0x0011223344556677, false},
		{"bare hex", "0011223344556677", 0x0011223344556677, false},
		{"too short", "AABBCC", 0, true},
		{"not hex", "zz:zz:zz:zz:zz:zz:zz:zz", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseEuiHex(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestResolve_SubsystemNotConfigured(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	w := postJSON(t, h.Resolve, "/v1/resolve", resolveRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckDuplicate_SubsystemNotConfigured(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	w := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", dedupCheckRequest{Kind: "data"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCheckDuplicate_InvalidKind(t *testing.T) {
	h := NewHandler(dedup.New(time.Minute), nil, nil, nil)
	w := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", dedupCheckRequest{Kind: "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckDuplicate_InvalidDevEui(t *testing.T) {
	h := NewHandler(dedup.New(time.Minute), nil, nil, nil)
	w := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", dedupCheckRequest{
		Kind:       "data",
		DevEui:     "not-an-eui",
		StationEui: "00:00:00:00:00:00:00:0A",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckDuplicate_DataFrameFirstThenDuplicate(t *testing.T) {
	h := NewHandler(dedup.New(time.Minute), nil, nil, nil)

	req := dedupCheckRequest{
		Kind:         "data",
		DevEui:       "00:00:00:00:00:00:00:01",
		StationEui:   "00:00:00:00:00:00:00:0A",
		Mic:          7,
		FrameCounter: 1,
		Mode:         "drop",
	}

	first := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", req)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	firstData := decodeResponse(t, first).Data.(map[string]interface{})
	assert.Equal(t, "NotDuplicate", firstData["result"])

	second := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", req)
	secondData := decodeResponse(t, second).Data.(map[string]interface{})
	assert.Equal(t, "DuplicateDueToResubmission", secondData["result"])

	req.StationEui = "00:00:00:00:00:00:00:0B"
	third := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", req)
	thirdData := decodeResponse(t, third).Data.(map[string]interface{})
	assert.Equal(t, "Duplicate", thirdData["result"])
}

func TestCheckDuplicate_JoinFrame(t *testing.T) {
	h := NewHandler(dedup.New(time.Minute), nil, nil, nil)

	req := dedupCheckRequest{
		Kind:       "join",
		DevEui:     "00:00:00:00:00:00:00:02",
		StationEui: "00:00:00:00:00:00:00:0A",
		JoinEui:    "00:00:00:00:00:00:00:FF",
		DevNonce:   5,
	}

	first := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", req)
	firstData := decodeResponse(t, first).Data.(map[string]interface{})
	assert.Equal(t, "NotDuplicate", firstData["result"])

	second := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", req)
	secondData := decodeResponse(t, second).Data.(map[string]interface{})
	assert.Equal(t, "Duplicate", secondData["result"])
}

func TestCheckDuplicate_InvalidJoinEui(t *testing.T) {
	h := NewHandler(dedup.New(time.Minute), nil, nil, nil)
	w := postJSON(t, h.CheckDuplicate, "/v1/dedup/check", dedupCheckRequest{
		Kind:       "join",
		DevEui:     "00:00:00:00:00:00:00:02",
		StationEui: "00:00:00:00:00:00:00:0A",
		JoinEui:    "not-an-eui",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
