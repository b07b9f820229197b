// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

//go:build integration

package dispatch

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"

	"github.com/chirpstack/ns-devaddr-cache/internal/dedup"
	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/testinfra"
)

// TestRouterForwardsDecisionsToWebhook exercises the full publish path a
// production deployment uses: a Dispatcher publishes an Event, a Router
// consumer handler decodes it and relays it to an external sink over
// HTTP, and the sink observes exactly what was published.
func TestRouterForwardsDecisionsToWebhook(t *testing.T) {
	sink := testinfra.NewDispatchSink(t)
	defer sink.Close()

	cfg := DefaultConfig()
	cfg.Topic = "dedup.decisions.router-integration"

	ps, err := NewPubSub(cfg, nil)
	if err != nil {
		t.Fatalf("new pubsub: %v", err)
	}

	router, err := NewRouter(cfg.Router, nil, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	router.AddConsumerHandler("forward-to-sink", cfg.Topic, ps.Subscriber(), func(msg *message.Message) error {
		ev, err := DecodeEvent(msg)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		resp, err := client.Post(sink.URL(), "application/json", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- router.Serve(ctx) }()

	select {
	case <-router.router.Running():
	case <-time.After(time.Second):
		t.Fatal("router did not start in time")
	}

	dispatcher := NewDispatcher(ps.Publisher(), cfg.Topic)
	key := frame.DataMessageKey{DevEui: frame.DevEui(42), Mic: frame.Mic(7), FrameCounter: frame.FrameCounter(1)}
	ev := NewDataEvent(key, frame.StationEui(3), dedup.NotDuplicate)
	if err := dispatcher.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		events := sink.Events()
		if len(events) == 1 {
			if events[0].DevEui != ev.DevEui || events[0].ResultName != "NotDuplicate" {
				t.Fatalf("sink received unexpected event: %+v", events[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the sink to receive the forwarded event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		t.Fatalf("router.Serve returned unexpected error: %v", err)
	}
}
