// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

// Fake is a deterministic in-memory Client for tests. It records call
// counts per operation (and per DevEui for GetDevice/GetTwin) so tests
// can assert single-flight and cache-hit properties without reflection
// or a mocking framework.
type Fake struct {
	mu sync.Mutex

	devices map[frame.DevEui]DeviceCredentials
	twins   map[frame.DevEui]Twin

	findByAddrCalls  atomic.Int64
	fullReloadCalls  atomic.Int64
	deltaReloadCalls atomic.Int64
	getDeviceCalls   map[frame.DevEui]*atomic.Int64
	getTwinCalls     map[frame.DevEui]*atomic.Int64

	// failNext, if set, is returned (and cleared) on the next call to
	// any method - used to exercise C4's failure-cleanup path.
	failNext error
}

// NewFake creates an empty fake registry.
func NewFake() *Fake {
	return &Fake{
		devices:        make(map[frame.DevEui]DeviceCredentials),
		twins:          make(map[frame.DevEui]Twin),
		getDeviceCalls: make(map[frame.DevEui]*atomic.Int64),
		getTwinCalls:   make(map[frame.DevEui]*atomic.Int64),
	}
}

// SeedDevice registers a device's credentials, returned by GetDevice.
func (f *Fake) SeedDevice(devEui frame.DevEui, creds DeviceCredentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[devEui] = creds
}

// SeedTwin registers a device's twin, returned by GetTwin and by the
// enumeration calls whose filters it matches.
func (f *Fake) SeedTwin(twin Twin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.twins[twin.DevEui] = twin
}

// FailNext causes the next call to any Client method to return err
// instead of performing the call, then clears itself.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = err
}

func (f *Fake) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

// GetDevice implements Client.
func (f *Fake) GetDevice(_ context.Context, devEui frame.DevEui) (DeviceCredentials, error) {
	f.mu.Lock()
	counter, ok := f.getDeviceCalls[devEui]
	if !ok {
		counter = &atomic.Int64{}
		f.getDeviceCalls[devEui] = counter
	}
	f.mu.Unlock()
	counter.Add(1)

	if err := f.takeFailure(); err != nil {
		return DeviceCredentials{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	creds, ok := f.devices[devEui]
	if !ok {
		return DeviceCredentials{}, ErrNotFound
	}
	return creds, nil
}

// GetTwin implements Client.
func (f *Fake) GetTwin(_ context.Context, devEui frame.DevEui) (Twin, error) {
	f.mu.Lock()
	counter, ok := f.getTwinCalls[devEui]
	if !ok {
		counter = &atomic.Int64{}
		f.getTwinCalls[devEui] = counter
	}
	f.mu.Unlock()
	counter.Add(1)

	if err := f.takeFailure(); err != nil {
		return Twin{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	twin, ok := f.twins[devEui]
	if !ok {
		return Twin{}, ErrNotFound
	}
	return twin, nil
}

// FindByAddr implements Client. The fake returns all seeded twins
// matching addr in a single page.
func (f *Fake) FindByAddr(_ context.Context, addr frame.DevAddr, _ string) (Page, error) {
	f.findByAddrCalls.Add(1)

	if err := f.takeFailure(); err != nil {
		return Page{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []Twin
	for _, twin := range f.twins {
		if twin.DevAddr == addr {
			matches = append(matches, twin)
		}
	}
	return Page{Twins: matches}, nil
}

// FindConfiguredLoRaDevices implements Client, returning every seeded
// twin in a single page.
func (f *Fake) FindConfiguredLoRaDevices(_ context.Context, _ string) (Page, error) {
	f.fullReloadCalls.Add(1)

	if err := f.takeFailure(); err != nil {
		return Page{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	twins := make([]Twin, 0, len(f.twins))
	for _, twin := range f.twins {
		twins = append(twins, twin)
	}
	return Page{Twins: twins}, nil
}

// FindByLastUpdateDate implements Client, returning every seeded twin
// whose LastUpdated is at or after since.
func (f *Fake) FindByLastUpdateDate(_ context.Context, since time.Time, _ string) (Page, error) {
	f.deltaReloadCalls.Add(1)

	if err := f.takeFailure(); err != nil {
		return Page{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var twins []Twin
	for _, twin := range f.twins {
		if !twin.LastUpdated.Before(since) {
			twins = append(twins, twin)
		}
	}
	return Page{Twins: twins}, nil
}

// FindByAddrCalls returns how many times FindByAddr has been called.
func (f *Fake) FindByAddrCalls() int64 { return f.findByAddrCalls.Load() }

// FullReloadCalls returns how many times FindConfiguredLoRaDevices has
// been called.
func (f *Fake) FullReloadCalls() int64 { return f.fullReloadCalls.Load() }

// DeltaReloadCalls returns how many times FindByLastUpdateDate has been
// called.
func (f *Fake) DeltaReloadCalls() int64 { return f.deltaReloadCalls.Load() }

// GetDeviceCallCount returns how many times GetDevice has been called
// for a specific DevEui.
func (f *Fake) GetDeviceCallCount(devEui frame.DevEui) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	counter, ok := f.getDeviceCalls[devEui]
	if !ok {
		return 0
	}
	return counter.Load()
}

// GetTwinCallCount returns how many times GetTwin has been called for
// a specific DevEui.
func (f *Fake) GetTwinCallCount(devEui frame.DevEui) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	counter, ok := f.getTwinCalls[devEui]
	if !ok {
		return 0
	}
	return counter.Load()
}

var _ Client = (*Fake)(nil)
