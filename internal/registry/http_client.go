// ns-devaddr-cache - LoRaWAN network-server deduplication and DevAddr cache layer
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chirpstack/ns-devaddr-cache

package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/chirpstack/ns-devaddr-cache/internal/frame"
)

// maxErrorBodySize limits how much of a failed response body is read for
// error reporting, so a misbehaving upstream can't force unbounded
// allocation.
const maxErrorBodySize = 64 * 1024

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxRetries bounds the number of retries on HTTP 429/503 responses.
	MaxRetries int
	// RetryBaseDelay is the delay before the first retry; it doubles on
	// each subsequent attempt.
	RetryBaseDelay time.Duration

	// MaxRequestsPerSecond caps the steady-state outbound request rate,
	// independent of server-signalled 429/503 backoff. A full reload's
	// paginated enumeration is the main driver of sustained load against
	// the registry; zero means unlimited.
	MaxRequestsPerSecond float64
}

// HTTPClient is the production Client implementation, talking to the
// device registry over a small JSON/REST convention:
//
//	GET {base}/devices/{devEui}/credentials     -> DeviceCredentials
//	GET {base}/devices/{devEui}                 -> Twin
//	GET {base}/devices?dev_addr=&page_token=     -> Page
//	GET {base}/devices?configured_lora=1&...     -> Page
//	GET {base}/devices?since=&page_token=         -> Page
//
// Authentication is a bearer API key. Every method is safe for
// concurrent use; each call issues its own request.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	maxRetries     int
	retryBaseDelay time.Duration
	limiter        *rate.Limiter
}

// NewHTTPClient creates an HTTPClient from cfg. Callers typically wrap the
// result in CircuitBreakerClient before handing it to the synchroniser or
// resolver.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryBaseDelay := cfg.RetryBaseDelay
	if retryBaseDelay == 0 {
		retryBaseDelay = 500 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.MaxRequestsPerSecond > 0 {
		limit = rate.Limit(cfg.MaxRequestsPerSecond)
	}

	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

var _ Client = (*HTTPClient)(nil)

// deviceCredentialsWire is the wire shape for GET /devices/{devEui}/credentials.
type deviceCredentialsWire struct {
	PrimaryKey     string `json:"primary_key"`
	AssignedIoTHub string `json:"assigned_iot_hub"`
}

// twinWire is the wire shape for a single device twin.
type twinWire struct {
	DevEui      string    `json:"dev_eui"`
	DevAddr     string    `json:"dev_addr"`
	GatewayId   string    `json:"gateway_id"`
	NwkSKey     string    `json:"nwk_s_key"`
	LastUpdated time.Time `json:"last_updated"`
}

func (w twinWire) toTwin() (Twin, error) {
	var devEui frame.DevEui
	if err := devEui.UnmarshalJSON([]byte(strconv.Quote(w.DevEui))); err != nil {
		return Twin{}, fmt.Errorf("registry: invalid dev_eui %q: %w", w.DevEui, err)
	}
	var devAddr frame.DevAddr
	if err := devAddr.UnmarshalJSON([]byte(strconv.Quote(w.DevAddr))); err != nil {
		return Twin{}, fmt.Errorf("registry: invalid dev_addr %q: %w", w.DevAddr, err)
	}
	return Twin{
		DevEui:      devEui,
		DevAddr:     devAddr,
		GatewayId:   w.GatewayId,
		NwkSKey:     w.NwkSKey,
		LastUpdated: w.LastUpdated,
	}, nil
}

// pageWire is the wire shape for a paginated device enumeration.
type pageWire struct {
	Twins         []twinWire `json:"twins"`
	NextPageToken string     `json:"next_page_token"`
}

func (w pageWire) toPage() (Page, error) {
	page := Page{Twins: make([]Twin, 0, len(w.Twins)), NextPageToken: w.NextPageToken}
	for _, tw := range w.Twins {
		twin, err := tw.toTwin()
		if err != nil {
			return Page{}, err
		}
		page.Twins = append(page.Twins, twin)
	}
	return page, nil
}

// GetDevice fetches per-device credentials by DevEui.
func (c *HTTPClient) GetDevice(ctx context.Context, devEui frame.DevEui) (DeviceCredentials, error) {
	var wire deviceCredentialsWire
	path := fmt.Sprintf("/devices/%s/credentials", url.PathEscape(devEui.String()))
	if err := c.get(ctx, path, nil, &wire); err != nil {
		return DeviceCredentials{}, err
	}
	return DeviceCredentials{PrimaryKey: wire.PrimaryKey, AssignedIoTHub: wire.AssignedIoTHub}, nil
}

// GetTwin fetches a single device's registry twin by DevEui.
func (c *HTTPClient) GetTwin(ctx context.Context, devEui frame.DevEui) (Twin, error) {
	var wire twinWire
	path := fmt.Sprintf("/devices/%s", url.PathEscape(devEui.String()))
	if err := c.get(ctx, path, nil, &wire); err != nil {
		return Twin{}, err
	}
	return wire.toTwin()
}

// FindByAddr enumerates devices currently assigned the given DevAddr.
func (c *HTTPClient) FindByAddr(ctx context.Context, addr frame.DevAddr, pageToken string) (Page, error) {
	params := url.Values{}
	params.Set("dev_addr", addr.String())
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	var wire pageWire
	if err := c.get(ctx, "/devices", params, &wire); err != nil {
		return Page{}, err
	}
	return wire.toPage()
}

// FindConfiguredLoRaDevices enumerates every configured LoRaWAN device.
func (c *HTTPClient) FindConfiguredLoRaDevices(ctx context.Context, pageToken string) (Page, error) {
	params := url.Values{}
	params.Set("configured_lora", "1")
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	var wire pageWire
	if err := c.get(ctx, "/devices", params, &wire); err != nil {
		return Page{}, err
	}
	return wire.toPage()
}

// FindByLastUpdateDate enumerates devices whose twin changed at or after since.
func (c *HTTPClient) FindByLastUpdateDate(ctx context.Context, since time.Time, pageToken string) (Page, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	if pageToken != "" {
		params.Set("page_token", pageToken)
	}
	var wire pageWire
	if err := c.get(ctx, "/devices", params, &wire); err != nil {
		return Page{}, err
	}
	return wire.toPage()
}

// get performs a GET request against path with the given query params,
// retrying on 429/503 with exponential backoff, and decodes a 200 JSON
// body into result. A 404 maps to ErrNotFound; any other failure maps to
// ErrUnavailable.
func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := c.doWithRetry(ctx, reqURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: decoding response from %s: %v", ErrUnavailable, path, err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		body := readBodyForError(resp.Body)
		return fmt.Errorf("%w: %s returned status %d: %s", ErrUnavailable, path, resp.StatusCode, body)
	}
}

// doWithRetry issues the GET request, retrying on 429/503 with exponential
// backoff honoring a Retry-After header when present.
func (c *HTTPClient) doWithRetry(ctx context.Context, reqURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay = time.Duration(seconds) * time.Second
			}
		}
		_ = resp.Body.Close()

		if attempt == c.maxRetries {
			lastErr = fmt.Errorf("status %d after %d retries", resp.StatusCode, c.maxRetries)
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// readBodyForError reads up to maxErrorBodySize of r for inclusion in an
// error message.
func readBodyForError(r io.Reader) []byte {
	limited := io.LimitReader(r, maxErrorBodySize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		body = append(body, []byte("... (truncated)")...)
	}
	return body
}
