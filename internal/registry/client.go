// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

// Package registry defines the authoritative device registry ("IoT Hub")
// as an explicit capability interface, plus a deterministic in-memory
// fake for tests. The registry itself - its transport, authentication,
// and storage - is an external collaborator; only the interface the
// rest of this module consumes lives here.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

// ErrUnavailable wraps any failure reaching the registry. C4 treats this
// as a failed sync (release leases, shorten fullUpdateKey); C5 surfaces
// it to its caller without writing a negative cache entry, so the next
// call retries.
var ErrUnavailable = errors.New("registry: unavailable")

// ErrNotFound is returned by GetDevice/GetTwin when the device id is
// unknown to the registry.
var ErrNotFound = errors.New("registry: device not found")

// DeviceCredentials is the result of GetDevice: the per-device secret
// needed to communicate with it, plus which registry partition owns it.
type DeviceCredentials struct {
	PrimaryKey     string
	AssignedIoTHub string
}

// Twin is the registry-side representation of a device returned by
// GetTwin and by the paginated enumeration calls.
type Twin struct {
	DevEui      frame.DevEui
	DevAddr     frame.DevAddr
	GatewayId   string
	NwkSKey     string
	LastUpdated time.Time
}

// Page is one page of a paginated registry enumeration. An empty
// NextPageToken means there are no further pages.
type Page struct {
	Twins         []Twin
	NextPageToken string
}

// Client is the registry capability surface consumed by C4 and C5.
//
// Implementations must treat ctx as authoritative for cancellation and
// deadlines: a canceled context must abort the in-flight call promptly
// rather than complete it in the background.
type Client interface {
	// GetDevice fetches per-device credentials by DevEui.
	GetDevice(ctx context.Context, devEui frame.DevEui) (DeviceCredentials, error)

	// GetTwin fetches a single device's registry twin by DevEui.
	GetTwin(ctx context.Context, devEui frame.DevEui) (Twin, error)

	// FindByAddr enumerates devices currently assigned the given DevAddr.
	FindByAddr(ctx context.Context, addr frame.DevAddr, pageToken string) (Page, error)

	// FindConfiguredLoRaDevices enumerates every configured LoRaWAN
	// device in the registry. Used for full reloads.
	FindConfiguredLoRaDevices(ctx context.Context, pageToken string) (Page, error)

	// FindByLastUpdateDate enumerates devices whose twin changed at or
	// after since. Used for delta reloads.
	FindByLastUpdateDate(ctx context.Context, since time.Time, pageToken string) (Page, error)
}
