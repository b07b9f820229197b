// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package dispatch

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Dispatcher publishes deduplication Events to the configured topic.
// It is the sole interface the dedup package (C1/C2) needs to fan a
// decision out to the transport - callers never touch message.Message
// or the underlying Publisher directly.
type Dispatcher struct {
	publisher message.Publisher
	topic     string
}

// NewDispatcher wraps publisher for topic.
func NewDispatcher(publisher message.Publisher, topic string) *Dispatcher {
	return &Dispatcher{publisher: publisher, topic: topic}
}

// Publish marshals ev and sends it to the configured topic.
func (d *Dispatcher) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dispatch: marshal event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("dispatch: publish event: %w", err)
	}
	return nil
}

// DecodeEvent unmarshals a dispatched message back into an Event. Used
// by consumer handlers registered against a Router.
func DecodeEvent(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("dispatch: unmarshal event: %w", err)
	}
	return ev, nil
}
