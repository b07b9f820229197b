// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package dispatch

import (
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

// DefaultTopic is the topic/subject Events are published to unless a
// caller overrides it in Config.
const DefaultTopic = "dedup.decisions"

// FrameKind distinguishes the two message families the dedup cache
// classifies, since a DataMessageKey and a JoinMessageKey carry
// different fields.
type FrameKind string

const (
	FrameKindData FrameKind = "data"
	FrameKindJoin FrameKind = "join"
)

// Event is the wire representation of a single deduplication decision,
// published once per observed frame so the upstream consumer can act
// on NotDuplicate observations and discard (or flag) the rest.
type Event struct {
	Kind       FrameKind                              `json:"kind"`
	Result     dedup.ConcentratorDeduplicationResult  `json:"result"`
	ResultName string                                 `json:"result_name"`
	DevEui     frame.DevEui                           `json:"dev_eui"`
	StationEui frame.StationEui                       `json:"station_eui"`
	JoinEui    frame.JoinEui                          `json:"join_eui,omitempty"`
	DevNonce   frame.DevNonce                         `json:"dev_nonce,omitempty"`
	Mic        frame.Mic                              `json:"mic,omitempty"`
	FrameCtr   frame.FrameCounter                     `json:"frame_counter,omitempty"`
	ObservedAt time.Time                              `json:"observed_at"`
}

// NewDataEvent builds the Event published for a data-frame decision.
func NewDataEvent(key frame.DataMessageKey, station frame.StationEui, result dedup.ConcentratorDeduplicationResult) Event {
	return Event{
		Kind:       FrameKindData,
		Result:     result,
		ResultName: result.String(),
		DevEui:     key.DevEui,
		StationEui: station,
		Mic:        key.Mic,
		FrameCtr:   key.FrameCounter,
		ObservedAt: time.Now().UTC(),
	}
}

// NewJoinEvent builds the Event published for a join-frame decision.
func NewJoinEvent(key frame.JoinMessageKey, station frame.StationEui, result dedup.ConcentratorDeduplicationResult) Event {
	return Event{
		Kind:       FrameKindJoin,
		Result:     result,
		ResultName: result.String(),
		DevEui:     key.DevEui,
		StationEui: station,
		JoinEui:    key.JoinEui,
		DevNonce:   key.DevNonce,
		ObservedAt: time.Now().UTC(),
	}
}
