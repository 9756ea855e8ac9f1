package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/server"
)

// Client reads a running adapter's status API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the API at base, for example
// http://127.0.0.1:8080.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

// Base returns the API base URL.
func (c *Client) Base() string { return c.base }

// Status fetches the full adapter snapshot.
func (c *Client) Status(ctx context.Context) (*server.Snapshot, error) {
	var snap server.Snapshot
	if err := c.get(ctx, "/status", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Metrics fetches the adapter counters.
func (c *Client) Metrics(ctx context.Context) ([]metrics.Sample, error) {
	var samples []metrics.Sample
	if err := c.get(ctx, "/metrics", &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("GET %s: %s %s", path, resp.Status, body["error"])
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
