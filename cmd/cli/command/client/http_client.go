package client

// http_client.go = talks to the echo server's HTTP endpoints (stats, health).

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient queries the server's HTTP API
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// ConnectionsResponse mirrors GET /api/connections
type ConnectionsResponse struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// StatusResponse mirrors GET /healthz and GET /readyz
type StatusResponse struct {
	Status string `json:"status"`
}

// NewHTTPClient creates a new HTTP client for baseURL (e.g. http://localhost:8080)
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Connections lists the connections currently open on the server
func (c *HTTPClient) Connections(ctx context.Context) (*ConnectionsResponse, error) {
	var out ConnectionsResponse
	if err := c.getJSON(ctx, "/api/connections", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready checks GET /readyz; a 503 is reported as not ready, not as an error
func (c *HTTPClient) Ready(ctx context.Context) (bool, error) {
	var out StatusResponse
	err := c.getJSON(ctx, "/readyz", &out)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusServiceUnavailable {
			return false, nil
		}
		return false, err
	}
	return out.Status == "ready", nil
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Path, e.Code)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, Code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HTTPBaseFromServerURL maps ws://host:port/path onto http://host:port.
// tcp:// addresses have no HTTP side and return "".
func HTTPBaseFromServerURL(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "ws":
		return "http://" + u.Host
	case "wss":
		return "https://" + u.Host
	}
	return ""
}
