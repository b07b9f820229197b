// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// RouterConfig tunes the Watermill router wrapping every handler
// registered against a dispatch transport.
type RouterConfig struct {
	// CloseTimeout bounds how long Close waits for in-flight handlers.
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonQueueTopic receives messages that exhaust retries. Empty
	// disables the poison queue middleware.
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         10 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     time.Second,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "dedup.decisions.poison",
	}
}

// Router wraps a Watermill message.Router with the middleware stack
// every dispatch transport shares: panic recovery, retry with
// exponential backoff, and poison-queue routing for exhausted
// retries.
//
// Router satisfies suture.Service directly - Serve blocks until ctx is
// canceled or Close is called, matching message.Router.Run's contract.
type Router struct {
	router *message.Router
	name   string
}

// NewRouter builds a Router. poisonPublisher may be nil, in which case
// the poison queue middleware is skipped regardless of
// cfg.PoisonQueueTopic.
func NewRouter(cfg RouterConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("dispatch: create router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		poisonMW, err := middleware.PoisonQueue(poisonPublisher, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("dispatch: create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonMW)
	}

	return &Router{router: wmRouter, name: "dispatch-router"}, nil
}

// AddConsumerHandler registers a handler that consumes topic without
// producing output messages - the shape every dispatch consumer uses.
func (r *Router) AddConsumerHandler(name, topic string, subscriber message.Subscriber, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, subscriber, handler)
}

// Serve implements suture.Service: it runs the router until ctx is
// canceled, then returns once every handler has drained.
func (r *Router) Serve(ctx context.Context) error {
	if err := r.router.Run(ctx); err != nil {
		return fmt.Errorf("dispatch: router stopped: %w", err)
	}
	return ctx.Err()
}

// Close stops the router outside of context cancellation, e.g. during
// tests.
func (r *Router) Close() error {
	return r.router.Close()
}

// String implements fmt.Stringer for suture's logging.
func (r *Router) String() string {
	return r.name
}
