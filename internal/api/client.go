package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

// Client talks to a running daemon's API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for addr (host:port or URL).
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Health returns the engine status.
func (c *Client) Health(ctx context.Context) (*engine.Health, error) {
	var h engine.Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Snapshot returns the latest snapshot, or nil if none was published yet.
func (c *Client) Snapshot(ctx context.Context) (*publisher.Snapshot, error) {
	var snap publisher.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/snapshot", nil, &snap); err != nil {
		if errors.Is(err, errNoContent) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// Start starts capture with optional overrides.
func (c *Client) Start(ctx context.Context, req StartRequest) (*engine.Health, error) {
	var h engine.Health
	if err := c.do(ctx, http.MethodPost, "/api/v1/start", req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stop stops capture.
func (c *Client) Stop(ctx context.Context) (*engine.Health, error) {
	var h engine.Health
	if err := c.do(ctx, http.MethodPost, "/api/v1/stop", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Interfaces lists capture devices on the daemon host.
func (c *Client) Interfaces(ctx context.Context) ([]source.Interface, error) {
	var ifaces []source.Interface
	if err := c.do(ctx, http.MethodGet, "/api/v1/interfaces", nil, &ifaces); err != nil {
		return nil, err
	}
	return ifaces, nil
}

// Stream calls fn for every streamed snapshot until ctx ends, the
// server closes the stream, or fn returns an error. The client timeout
// does not apply to streams.
func (c *Client) Stream(ctx context.Context, fn func(*publisher.Snapshot) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/snapshot/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	stream := &http.Client{Transport: c.http.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var snap publisher.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}
		if err := fn(&snap); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

var errNoContent = errors.New("no content")

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return errNoContent
	case resp.StatusCode >= 300:
		return readError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) error {
	var e ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&e)
	return decodeError(e, resp.StatusCode)
}
