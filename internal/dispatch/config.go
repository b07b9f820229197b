// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package dispatch

import "time"

// Config configures the dispatch transport. Every field except Topic
// and Router applies only to the "nats" build; the default gochannel
// transport ignores them.
type Config struct {
	// Topic is the subject Events are published/consumed on.
	Topic string

	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// StreamName binds the subscriber to a pre-provisioned JetStream
	// stream. Required when Topic is a wildcard subject, since NATS
	// stream names cannot contain wildcards.
	StreamName string

	// DurableName prefixes the JetStream durable consumer name so
	// redeploys resume rather than replay the stream.
	DurableName string

	// QueueGroup load-balances delivery across multiple instances
	// subscribing to the same Topic.
	QueueGroup string

	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int

	SubscribersCount int
	MaxDeliver       int
	MaxAckPending    int
	AckWaitTimeout   time.Duration
	CloseTimeout     time.Duration

	Router RouterConfig
}

// DefaultConfig returns production defaults for a single-instance,
// gochannel-backed deployment. NATS deployments should override URL,
// StreamName, and DurableName at minimum.
func DefaultConfig() Config {
	return Config{
		Topic:            DefaultTopic,
		URL:              "nats://127.0.0.1:4222",
		StreamName:       "DEDUP_DECISIONS",
		DurableName:      "ns-devaddr-cache",
		QueueGroup:       "dedup-consumers",
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024,
		SubscribersCount: 4,
		MaxDeliver:       5,
		MaxAckPending:    1000,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		Router:           DefaultRouterConfig(),
	}
}
