// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

//go:build integration

package testinfra

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/chirpstack/ns-devaddr-cache/internal/dispatch"
)

// DispatchSink is an HTTP server standing in for the upstream consumer
// that a dispatch.Router handler forwards deduplication decisions to.
// Integration tests register a consumer handler that decodes each
// message with dispatch.DecodeEvent and POSTs it here, then assert on
// what was actually delivered instead of trusting an in-process stub.
type DispatchSink struct {
	Server *httptest.Server

	mu       sync.Mutex
	captured []dispatch.Event

	// ResponseStatus is the HTTP status code returned to the caller.
	// Defaults to 200; set to a 4xx/5xx value to exercise a consumer
	// handler's retry/poison-queue path.
	ResponseStatus int
}

// NewDispatchSink starts a DispatchSink.
func NewDispatchSink(t *testing.T) *DispatchSink {
	t.Helper()

	sink := &DispatchSink{ResponseStatus: http.StatusOK}
	sink.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var ev dispatch.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		sink.mu.Lock()
		sink.captured = append(sink.captured, ev)
		sink.mu.Unlock()

		w.WriteHeader(sink.ResponseStatus)
	}))

	return sink
}

// URL returns the sink's base URL.
func (s *DispatchSink) URL() string {
	return s.Server.URL
}

// Close shuts the sink down.
func (s *DispatchSink) Close() {
	s.Server.Close()
}

// Events returns a snapshot of every Event the sink has received so far.
func (s *DispatchSink) Events() []dispatch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dispatch.Event, len(s.captured))
	copy(out, s.captured)
	return out
}
