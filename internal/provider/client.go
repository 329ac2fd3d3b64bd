// Package provider executes translated chat-completion calls against
// upstream LLM providers. Every provider reachable from this module speaks
// the same OpenAI-compatible chat-completions dialect, so a single HTTP
// client suffices in place of one adapter per vendor.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/alcray/trainforge-conductor/internal/conductor"
)

// NewTransport returns an http.Transport tuned for high-throughput,
// high-concurrency calls to a small set of upstream hosts. If resolver is
// non-nil, DNS lookups are served from its cache instead of hitting the
// resolver on every dial.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Client executes chat-completion calls against any OpenAI-dialect upstream.
type Client struct {
	http *http.Client
}

// New creates a Client using the given transport. Pass the result of
// NewTransport so every provider shares cached DNS and connection pooling.
func New(transport http.RoundTripper) *Client {
	return &Client{http: &http.Client{Transport: transport}}
}

// ChatCompletion POSTs the already-translated request body (provider-native
// model name, OpenAI-shaped fields) to baseURL+chatPath with a bearer token,
// and decodes the response into a conductor.ChatResponse. On a non-2xx
// status it returns an *APIError so the Dispatcher can classify it; the
// returned conductor.ChatResponse is nil in that case.
func (c *Client) ChatCompletion(ctx context.Context, providerID, baseURL, chatPath, apiKey string, body []byte) (*conductor.ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: create request: %w", providerID, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: do request: %w", providerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(providerID, resp)
	}

	var out conductor.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", providerID, err)
	}
	return &out, nil
}
