// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package frame

import "errors"

// ErrInvalidFrame is returned when a message key cannot be derived from
// the given frame because it does not carry the required fields. This
// indicates a programmer error in the caller - the parser is expected
// to always populate these fields for frames it successfully decodes.
var ErrInvalidFrame = errors.New("frame: cannot derive message key, required fields missing")

// DataFrame is the subset of a parsed LoRaWAN uplink needed to derive a
// DataMessageKey and to route a deduplication decision.
type DataFrame struct {
	DevEui       DevEui
	Mic          Mic
	FrameCounter FrameCounter
	StationEui   StationEui

	// devEuiSet distinguishes a zero-value DevEui (a legitimate value,
	// used throughout the test fixtures) from a frame the parser never
	// populated.
	devEuiSet bool
}

// NewDataFrame constructs a DataFrame with all key fields present.
func NewDataFrame(devEui DevEui, mic Mic, fc FrameCounter, station StationEui) DataFrame {
	return DataFrame{
		DevEui:       devEui,
		Mic:          mic,
		FrameCounter: fc,
		StationEui:   station,
		devEuiSet:    true,
	}
}

// JoinFrame is the subset of a parsed LoRaWAN join-request needed to
// derive a JoinMessageKey.
type JoinFrame struct {
	JoinEui    JoinEui
	DevEui     DevEui
	DevNonce   DevNonce
	StationEui StationEui

	devEuiSet bool
}

// NewJoinFrame constructs a JoinFrame with all key fields present.
func NewJoinFrame(joinEui JoinEui, devEui DevEui, nonce DevNonce, station StationEui) JoinFrame {
	return JoinFrame{
		JoinEui:    joinEui,
		DevEui:     devEui,
		DevNonce:   nonce,
		StationEui: station,
		devEuiSet:  true,
	}
}

// DataMessageKey identifies a logical uplink for deduplication purposes.
// Equality of key implies "same logical uplink"; payload options and any
// other frame field MUST NOT influence key equality.
type DataMessageKey struct {
	DevEui       DevEui
	Mic          Mic
	FrameCounter FrameCounter
}

// JoinMessageKey identifies a logical join request for deduplication
// purposes. Mic and any other frame field MUST NOT influence key equality.
type JoinMessageKey struct {
	JoinEui  JoinEui
	DevEui   DevEui
	DevNonce DevNonce
}

// DataKey derives the canonical deduplication key for a data frame.
// Two frames yield equal keys iff their DevEui, Mic and the low 16 bits
// of their FrameCounter are equal.
func DataKey(f DataFrame) (DataMessageKey, error) {
	if !f.devEuiSet {
		return DataMessageKey{}, ErrInvalidFrame
	}
	return DataMessageKey{
		DevEui:       f.DevEui,
		Mic:          f.Mic,
		FrameCounter: f.FrameCounter & 0xFFFF,
	}, nil
}

// JoinKey derives the canonical deduplication key for a join frame.
// Mic differences and payload-option bytes MUST NOT change the key.
func JoinKey(f JoinFrame) (JoinMessageKey, error) {
	if !f.devEuiSet {
		return JoinMessageKey{}, ErrInvalidFrame
	}
	return JoinMessageKey{
		JoinEui:  f.JoinEui,
		DevEui:   f.DevEui,
		DevNonce: f.DevNonce,
	}, nil
}
