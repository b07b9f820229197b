// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

func TestDispatcherPublishAndDecode(t *testing.T) {
	cfg := DefaultConfig()
	ps, err := NewPubSub(cfg, nil)
	if err != nil {
		t.Fatalf("new pubsub: %v", err)
	}

	sub, err := ps.Subscriber().Subscribe(context.Background(), cfg.Topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	dispatcher := NewDispatcher(ps.Publisher(), cfg.Topic)

	key := frame.DataMessageKey{DevEui: frame.DevEui(1), Mic: frame.Mic(2), FrameCounter: frame.FrameCounter(3)}
	ev := NewDataEvent(key, frame.StationEui(9), dedup.NotDuplicate)

	if err := dispatcher.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub:
		got, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.DevEui != ev.DevEui || got.ResultName != "NotDuplicate" || got.Kind != FrameKindData {
			t.Errorf("decoded event mismatch: %+v", got)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}

func TestDispatcherPublishJoinEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topic = "dedup.decisions.join-test"
	ps, err := NewPubSub(cfg, nil)
	if err != nil {
		t.Fatalf("new pubsub: %v", err)
	}
	sub, err := ps.Subscriber().Subscribe(context.Background(), cfg.Topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	dispatcher := NewDispatcher(ps.Publisher(), cfg.Topic)

	key := frame.JoinMessageKey{JoinEui: frame.JoinEui(1), DevEui: frame.DevEui(2), DevNonce: frame.DevNonce(3)}
	ev := NewJoinEvent(key, frame.StationEui(5), dedup.Duplicate)

	if err := dispatcher.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub:
		got, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != FrameKindJoin || got.ResultName != "Duplicate" || got.JoinEui != key.JoinEui {
			t.Errorf("decoded join event mismatch: %+v", got)
		}
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message")
	}
}
