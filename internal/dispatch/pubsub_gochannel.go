// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

//go:build !nats

package dispatch

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// PubSub is the transport handle returned by NewPubSub: a single value
// that is both a message.Publisher and a message.Subscriber.
type PubSub struct {
	*gochannel.GoChannel
}

// NewPubSub builds the default, dependency-free transport: an
// in-process channel fan-out. Every Dispatcher and every registered
// consumer in the same process share it; across processes it carries
// nothing, so multi-instance deployments should build with the "nats"
// tag instead.
func NewPubSub(_ Config, logger watermill.LoggerAdapter) (*PubSub, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
	return &PubSub{GoChannel: gc}, nil
}

// Publisher narrows PubSub to the message.Publisher it implements.
func (p *PubSub) Publisher() message.Publisher { return p }

// Subscriber narrows PubSub to the message.Subscriber it implements.
func (p *PubSub) Subscriber() message.Subscriber { return p }
