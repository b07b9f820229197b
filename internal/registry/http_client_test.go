// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

func newTestClient(serverURL string) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		BaseURL:        serverURL,
		APIKey:         "test-key",
		Timeout:        time.Second,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestHTTPClient_GetDevice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"primary_key":"secret","assigned_iot_hub":"hub-1"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	creds, err := client.GetDevice(context.Background(), frame.DevEui(1))
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if creds.PrimaryKey != "secret" || creds.AssignedIoTHub != "hub-1" {
		t.Errorf("GetDevice() = %+v", creds)
	}
}

func TestHTTPClient_GetDevice_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetDevice(context.Background(), frame.DevEui(1))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrNotFound", err)
	}
}

func TestHTTPClient_GetTwin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"dev_eui": "00:00:00:00:00:00:00:01",
			"dev_addr": "0000002A",
			"gateway_id": "station-1",
			"nwk_s_key": "key",
			"last_updated": "2026-01-01T00:00:00Z"
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	twin, err := client.GetTwin(context.Background(), frame.DevEui(1))
	if err != nil {
		t.Fatalf("GetTwin() error = %v", err)
	}
	if twin.DevEui != frame.DevEui(1) {
		t.Errorf("DevEui = %v, want 1", twin.DevEui)
	}
	if twin.DevAddr != frame.DevAddr(0x2A) {
		t.Errorf("DevAddr = %v, want 0x2A", twin.DevAddr)
	}
	if twin.GatewayId != "station-1" {
		t.Errorf("GatewayId = %q", twin.GatewayId)
	}
}

func TestHTTPClient_FindByAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("dev_addr"); got != "0000002A" {
			t.Errorf("dev_addr query param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"twins":[{"dev_eui":"00:00:00:00:00:00:00:01","dev_addr":"0000002A","gateway_id":"s1","nwk_s_key":"k","last_updated":"2026-01-01T00:00:00Z"}],"next_page_token":""}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	page, err := client.FindByAddr(context.Background(), frame.DevAddr(0x2A), "")
	if err != nil {
		t.Fatalf("FindByAddr() error = %v", err)
	}
	if len(page.Twins) != 1 {
		t.Fatalf("len(page.Twins) = %d, want 1", len(page.Twins))
	}
	if page.NextPageToken != "" {
		t.Errorf("NextPageToken = %q, want empty", page.NextPageToken)
	}
}

func TestHTTPClient_FindConfiguredLoRaDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("configured_lora"); got != "1" {
			t.Errorf("configured_lora query param = %q", got)
		}
		w.Write([]byte(`{"twins":[],"next_page_token":"tok-2"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	page, err := client.FindConfiguredLoRaDevices(context.Background(), "")
	if err != nil {
		t.Fatalf("FindConfiguredLoRaDevices() error = %v", err)
	}
	if page.NextPageToken != "tok-2" {
		t.Errorf("NextPageToken = %q, want tok-2", page.NextPageToken)
	}
}

func TestHTTPClient_FindByLastUpdateDate(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != since.Format(time.RFC3339) {
			t.Errorf("since query param = %q", got)
		}
		w.Write([]byte(`{"twins":[],"next_page_token":""}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.FindByLastUpdateDate(context.Background(), since, ""); err != nil {
		t.Fatalf("FindByLastUpdateDate() error = %v", err)
	}
}

func TestHTTPClient_RetriesOnRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"primary_key":"secret","assigned_iot_hub":"hub-1"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.GetDevice(context.Background(), frame.DevEui(1)); err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestHTTPClient_ExhaustedRetriesMapToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetDevice(context.Background(), frame.DevEui(1))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetDevice() error = %v, want ErrUnavailable", err)
	}
}

func TestHTTPClient_ImplementsClient(t *testing.T) {
	var _ Client = (*HTTPClient)(nil)
}
