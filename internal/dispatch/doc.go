// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package dispatch fans deduplication decisions out to whatever
// upstream consumer acts on them (a packet forwarder bridge, a join
// server, an analytics sink). It wraps a Watermill router and
// publisher/subscriber pair behind a small Dispatcher API so the rest
// of the module never depends on a specific transport.
//
// Two transports are supported, selected by build tag:
//   - Default (no tags): an in-process gochannel pub/sub. Suitable for
//     single-instance deployments and tests - no external broker.
//   - "nats": a JetStream-backed pub/sub via watermill-nats, for
//     multi-instance deployments that need the decision stream to
//     survive a restart or fan out to multiple consumers.
//
// Build with NATS support:
//
//	go build -tags nats ./cmd/server
package dispatch
