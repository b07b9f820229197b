// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
	"github.com/chirpstack/ns-devaddr-cache/internal/metrics"
)

// CircuitBreakerClient wraps a Client with circuit breaker protection, so a
// slow or unavailable registry backs off the synchroniser and resolver
// instead of letting every caller pile up on failing requests.
//
// DETERMINISM NOTE: the breaker uses wall-clock time for its interval and
// timeout windows. Tests exercising C4/C5 logic should wrap Fake directly
// rather than this type; this type's own tests never wait out those
// intervals and only observe transitions that need no elapsed time.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient wraps client with a breaker tuned the same way as
// every other outbound dependency in this module:
//   - 3 concurrent requests allowed while half-open
//   - 1 minute measurement window while closed
//   - 2 minute cooldown before a half-open probe
//   - opens once at least 10 requests have been seen and 60% of them failed
func NewCircuitBreakerClient(client Client) *CircuitBreakerClient {
	cbName := "device-registry"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: cbName}
}

func (c *CircuitBreakerClient) execute(operation string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	result, err := c.cb.Execute(fn)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
			metrics.RecordRegistryCall(operation, "failure", duration)
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		counts := c.cb.Counts()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(float64(counts.ConsecutiveFailures))
		metrics.RecordRegistryCall(operation, "failure", duration)
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(c.name).Set(0)
	metrics.RecordRegistryCall(operation, "success", duration)
	return result, nil
}

func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("registry: unexpected circuit breaker result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// deviceResult and twinResult let GetDevice/GetTwin report ErrNotFound to
// their caller without counting it as a circuit breaker failure: the
// registry answering "no such device" promptly is the breaker working as
// intended, not a sign of an unhealthy dependency.
type deviceResult struct {
	creds    DeviceCredentials
	notFound bool
}

type twinResult struct {
	twin     Twin
	notFound bool
}

// GetDevice implements Client with circuit breaker protection. ErrNotFound
// from the wrapped client is not treated as a breaker failure - only
// transport/availability errors count toward tripping the breaker.
func (c *CircuitBreakerClient) GetDevice(ctx context.Context, devEui frame.DevEui) (DeviceCredentials, error) {
	res, err := castResult[deviceResult](c.execute("GetDevice", func() (interface{}, error) {
		creds, err := c.client.GetDevice(ctx, devEui)
		if errors.Is(err, ErrNotFound) {
			return deviceResult{notFound: true}, nil
		}
		if err != nil {
			return deviceResult{}, err
		}
		return deviceResult{creds: creds}, nil
	}))
	if err != nil {
		return DeviceCredentials{}, err
	}
	if res.notFound {
		return DeviceCredentials{}, ErrNotFound
	}
	return res.creds, nil
}

// GetTwin implements Client with circuit breaker protection.
func (c *CircuitBreakerClient) GetTwin(ctx context.Context, devEui frame.DevEui) (Twin, error) {
	res, err := castResult[twinResult](c.execute("GetTwin", func() (interface{}, error) {
		twin, err := c.client.GetTwin(ctx, devEui)
		if errors.Is(err, ErrNotFound) {
			return twinResult{notFound: true}, nil
		}
		if err != nil {
			return twinResult{}, err
		}
		return twinResult{twin: twin}, nil
	}))
	if err != nil {
		return Twin{}, err
	}
	if res.notFound {
		return Twin{}, ErrNotFound
	}
	return res.twin, nil
}

// FindByAddr implements Client with circuit breaker protection.
func (c *CircuitBreakerClient) FindByAddr(ctx context.Context, addr frame.DevAddr, pageToken string) (Page, error) {
	return castResult[Page](c.execute("FindByAddr", func() (interface{}, error) {
		return c.client.FindByAddr(ctx, addr, pageToken)
	}))
}

// FindConfiguredLoRaDevices implements Client with circuit breaker protection.
func (c *CircuitBreakerClient) FindConfiguredLoRaDevices(ctx context.Context, pageToken string) (Page, error) {
	return castResult[Page](c.execute("FindConfiguredLoRaDevices", func() (interface{}, error) {
		return c.client.FindConfiguredLoRaDevices(ctx, pageToken)
	}))
}

// FindByLastUpdateDate implements Client with circuit breaker protection.
func (c *CircuitBreakerClient) FindByLastUpdateDate(ctx context.Context, since time.Time, pageToken string) (Page, error) {
	return castResult[Page](c.execute("FindByLastUpdateDate", func() (interface{}, error) {
		return c.client.FindByLastUpdateDate(ctx, since, pageToken)
	}))
}

var _ Client = (*CircuitBreakerClient)(nil)
